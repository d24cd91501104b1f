package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `{"a":1}`, want: `{"a":1}`},
		{in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{in: "```\n{\"a\":1}\n```\n", want: `{"a":1}`},
		{in: "   ", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripCodeFences(tt.in))
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Crop string `json:"crop"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"crop\":\"Maize\"}\n```", &out))
	assert.Equal(t, "Maize", out.Crop)

	assert.ErrorIs(t, DecodeJSON("", &out), ErrMalformedOutput)
	assert.ErrorIs(t, DecodeJSON("The leaves look healthy.", &out), ErrMalformedOutput)
}
