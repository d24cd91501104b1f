package prompts

// Diagnosis asks for a structured crop diagnosis of the attached image
// or video. The keys match vision.Diagnosis.
const Diagnosis = `You are an expert agronomist. Analyze this video/image of a crop.
Identify the crop, any visible diseases, pests, or issues.
Provide a structured diagnosis.

Return pure JSON with the following keys:
- crop: string
- issue: string
- confidence: float (0-100)
- affected_area: string (description of where the issue is)
- severity: string (low, medium, high)
- actions: list of strings (immediate recommendations)

Do not include markdown formatting like ` + "```json" + `.`
