package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, doc Document) string {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(data)
}

func TestBlankRulesLeaveSchemaUntouched(t *testing.T) {
	tests := []struct {
		name string
		rule string
	}{
		{"empty", ""},
		{"whitespace", "   \t\n"},
		{"only stripped characters", "{}[]<>\\"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, mustJSON(t, filterSearchBase), mustJSON(t, FilterSearch(tt.rule)))
			assert.Equal(t, mustJSON(t, mergeDecisionBase), mustJSON(t, MergeDecision(tt.rule)))
			assert.Equal(t, mustJSON(t, fieldMergeBase), mustJSON(t, FieldMerge(tt.rule, nil)))
			assert.Equal(t, mustJSON(t, purgeBase), mustJSON(t, Purge(tt.rule)))
		})
	}
}

func TestRuleTextAppendsToDescriptionOnly(t *testing.T) {
	doc := MergeDecision("Always prefer the record owned by the sales team.")

	assert.Contains(t, doc.Description, "Always prefer the record owned by the sales team.")
	// Structural fields are untouched.
	assert.Equal(t, mergeDecisionBase.Required, doc.Required)
	assert.Equal(t, mergeDecisionBase.Properties["recommendedAction"].Enum, doc.Properties["recommendedAction"].Enum)
	assert.Equal(t, *mergeDecisionBase.AdditionalProperties, *doc.AdditionalProperties)
}

func TestSanitizeRuleText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"  padded  ", "padded"},
		{`drop {braces} and [brackets]`, "drop braces and brackets"},
		{`no <tags> or \escapes`, "no tags or escapes"},
		{"{}[]<>\\", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeRuleText(tt.in))
	}
}

func TestBuildIsolation(t *testing.T) {
	// A rule applied to one build must never leak into a later build from
	// the same base.
	first := FilterSearch("match on name only")
	second := FilterSearch("")

	assert.Contains(t, first.Description, "match on name only")
	assert.NotContains(t, second.Description, "match on name only")
	assert.Equal(t, mustJSON(t, filterSearchBase), mustJSON(t, second))
}

func TestCloneIsDeep(t *testing.T) {
	doc := filterSearchBase.Clone()
	doc.Properties["confidence"].Enum[0] = "MUTATED"
	doc.Required[0] = "mutated"

	assert.Equal(t, "LOW", filterSearchBase.Properties["confidence"].Enum[0])
	assert.Equal(t, "filterGroups", filterSearchBase.Required[0])
}

func TestFieldMergePropertyRules(t *testing.T) {
	doc := FieldMerge("keep the longer description", map[string]string{
		"phone": "always prefer E.164 format",
		"name":  "prefer the legal entity name",
		"blank": "   ",
	})

	desc := doc.Properties["updates"].Description
	assert.Contains(t, desc, "- name: prefer the legal entity name")
	assert.Contains(t, desc, "- phone: always prefer E.164 format")
	assert.NotContains(t, desc, "blank")
	assert.Contains(t, doc.Description, "keep the longer description")

	// Base template untouched.
	assert.NotContains(t, fieldMergeBase.Properties["updates"].Description, "E.164")
}

func TestCleanSchemaRestrictedToCallerFields(t *testing.T) {
	doc := Clean([]string{"name", "domain"}, "")

	assert.ElementsMatch(t, []string{"domain", "name"}, doc.Required)
	require.Len(t, doc.Properties, 2)
	for _, field := range []string{"name", "domain"} {
		prop := doc.Properties[field]
		require.NotNil(t, prop)
		assert.ElementsMatch(t,
			[]string{"cleanedValue", "action", "confidence", "reasoning"},
			prop.Required,
		)
	}
}

func TestStageToolName(t *testing.T) {
	assert.Equal(t, "record_filter_search", StageFilterSearch.ToolName())
	assert.Equal(t, "record_merge_decision", StageMergeDecision.ToolName())
}

func TestAsMap(t *testing.T) {
	m, err := FilterSearch("").AsMap()
	require.NoError(t, err)
	assert.Equal(t, "object", m["type"])
	_, ok := m["properties"].(map[string]any)
	assert.True(t, ok)
}

func TestBuildUnknownStage(t *testing.T) {
	_, err := Build(Stage("nope"), "")
	require.Error(t, err)
}
