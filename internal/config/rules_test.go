package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-cleanse/internal/model"
)

func TestLoadRuleDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	yaml := `
rules:
  duplicate_rules: "match on domain before name"
  primary_rules: "prefer records owned by sales"
  merge_property_rules:
    phone: "prefer E.164 format"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	defaults, err := LoadRuleDefaults(path)
	require.NoError(t, err)
	assert.Equal(t, "match on domain before name", defaults.DuplicateRules)
	assert.Equal(t, "prefer records owned by sales", defaults.PrimaryRules)
	assert.Equal(t, "prefer E.164 format", defaults.MergePropertyRules["phone"])
	assert.Empty(t, defaults.MergeRules)
}

func TestLoadRuleDefaultsEmptyPath(t *testing.T) {
	defaults, err := LoadRuleDefaults("")
	require.NoError(t, err)
	assert.Equal(t, &RuleDefaults{}, defaults)
}

func TestLoadRuleDefaultsMissingFile(t *testing.T) {
	_, err := LoadRuleDefaults(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRuleDefaultsMerge(t *testing.T) {
	defaults := &RuleDefaults{
		DuplicateRules: "default duplicates",
		PrimaryRules:   "default primary",
		MergePropertyRules: map[string]string{
			"phone": "default phone",
			"name":  "default name",
		},
	}

	merged := defaults.Merge(model.RuleSet{
		PrimaryRules: "request primary",
		MergePropertyRules: map[string]string{
			"phone": "request phone",
		},
	})

	// Request wins where set, defaults fill the rest.
	assert.Equal(t, "default duplicates", merged.DuplicateRules)
	assert.Equal(t, "request primary", merged.PrimaryRules)
	assert.Equal(t, "request phone", merged.MergePropertyRules["phone"])
	assert.Equal(t, "default name", merged.MergePropertyRules["name"])
}

func TestRuleDefaultsMergeEmptyBothSides(t *testing.T) {
	merged := (&RuleDefaults{}).Merge(model.RuleSet{})
	assert.Equal(t, model.RuleSet{}, merged)
}
