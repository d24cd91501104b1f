// Package prompts contains the model instructions AgriAgent sends for
// farmer questions, crop diagnosis, and voice interpretation.
//
// Prompt text is Go code rather than config because it is program logic:
// the JSON keys requested here are the keys the vision and voice
// services decode, and tests keep the two in step.
//
// Convention: each prompt category gets its own file with an exported
// constant or function returning the finished prompt.
package prompts
