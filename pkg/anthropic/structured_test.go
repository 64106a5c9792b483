package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare object",
			in:   `{"a":1}`,
			want: `{"a":1}`,
		},
		{
			name: "fenced json block",
			in:   "```json\n{\"a\":1}\n```",
			want: `{"a":1}`,
		},
		{
			name: "plain fence",
			in:   "```\n{\"a\":1}\n```",
			want: `{"a":1}`,
		},
		{
			name: "surrounding prose",
			in:   "Here is the result:\n{\"a\":1}\nHope that helps!",
			want: `{"a":1}`,
		},
		{
			name: "no object",
			in:   "I could not determine an answer.",
			want: "",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSON(tt.in))
		})
	}
}

func TestEstimateCost(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 18.0, usage.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
	assert.Zero(t, usage.EstimateCost("unknown-model"))
}

func TestEstimateCostWithCache(t *testing.T) {
	usage := TokenUsage{
		InputTokens:              100_000,
		OutputTokens:             10_000,
		CacheCreationInputTokens: 50_000,
		CacheReadInputTokens:     200_000,
	}
	// haiku: in 0.80, out 4.00, cache write 1.25x in, cache read 0.1x in.
	want := 0.1*0.80 + 0.01*4.00 + 0.05*0.80*1.25 + 0.2*0.80*0.1
	assert.InDelta(t, want, usage.EstimateCost("claude-haiku-4-5-20251001"), 1e-9)
}

func TestToSDKInputSchema(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []any{"name"},
	}

	out := toSDKInputSchema(schema)
	assert.Equal(t, []string{"name"}, out.Required)
	assert.Contains(t, out.Properties, "name")
}

func TestToSDKInputSchemaCarriesAdditionalProperties(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required":             []string{"name"},
		"additionalProperties": false,
	}

	out := toSDKInputSchema(schema)
	require.Contains(t, out.ExtraFields, "additionalProperties")
	assert.Equal(t, false, out.ExtraFields["additionalProperties"])

	// Absent from the source document means absent on the wire too.
	bare := toSDKInputSchema(map[string]any{"properties": map[string]any{}})
	assert.NotContains(t, bare.ExtraFields, "additionalProperties")
}
