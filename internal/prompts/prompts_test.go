package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiagnosis_RequestsDecodedKeys(t *testing.T) {
	for _, key := range []string{"crop", "issue", "confidence", "affected_area", "severity", "actions"} {
		assert.Contains(t, Diagnosis, "- "+key+":", "diagnosis prompt should request %q", key)
	}
	assert.Contains(t, Diagnosis, "0-100")
}

func TestVoiceInterpreter_RequestsDecodedKeys(t *testing.T) {
	for _, key := range []string{"transcription", "original_language", "detected_intent", "urgency", "entities"} {
		assert.Contains(t, VoiceInterpreter, `"`+key+`"`, "voice prompt should request %q", key)
	}
	for _, intent := range []string{"market_price", "weather", "diagnosis", "general_advice"} {
		assert.Contains(t, VoiceInterpreter, intent)
	}
}

func TestAgentPersona(t *testing.T) {
	assert.True(t, strings.HasPrefix(AgentPersona, "You are AgriAgent"))
	assert.Contains(t, AgentPersona, "tools")
}
