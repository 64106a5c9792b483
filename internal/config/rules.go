package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/crm-cleanse/internal/model"
)

// RuleDefaults holds operator-managed default rule text for each pipeline
// stage. Per-request rules take precedence field by field.
type RuleDefaults struct {
	DuplicateRules     string            `yaml:"duplicate_rules"`
	PrimaryRules       string            `yaml:"primary_rules"`
	MergeRules         string            `yaml:"merge_rules"`
	MergePropertyRules map[string]string `yaml:"merge_property_rules"`
	CleanRules         string            `yaml:"clean_rules"`
	PurgeRules         string            `yaml:"purge_rules"`
}

// LoadRuleDefaults reads stage rule defaults from a YAML file. An empty
// path yields empty defaults.
func LoadRuleDefaults(path string) (*RuleDefaults, error) {
	if path == "" {
		return &RuleDefaults{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read rules file %s", path)
	}

	// The YAML has a top-level "rules" key.
	var wrapper struct {
		Rules RuleDefaults `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "config: parse rules file")
	}
	return &wrapper.Rules, nil
}

// Merge overlays request-supplied rules onto the defaults. A non-empty
// request field wins; per-property rules are merged key by key with the
// request side winning on conflicts.
func (d *RuleDefaults) Merge(req model.RuleSet) model.RuleSet {
	out := model.RuleSet{
		DuplicateRules: pick(req.DuplicateRules, d.DuplicateRules),
		PrimaryRules:   pick(req.PrimaryRules, d.PrimaryRules),
		MergeRules:     pick(req.MergeRules, d.MergeRules),
		CleanRules:     pick(req.CleanRules, d.CleanRules),
		PurgeRules:     pick(req.PurgeRules, d.PurgeRules),
	}

	if len(d.MergePropertyRules) > 0 || len(req.MergePropertyRules) > 0 {
		merged := make(map[string]string, len(d.MergePropertyRules)+len(req.MergePropertyRules))
		for k, v := range d.MergePropertyRules {
			merged[k] = v
		}
		for k, v := range req.MergePropertyRules {
			merged[k] = v
		}
		out.MergePropertyRules = merged
	}
	return out
}

func pick(request, fallback string) string {
	if request != "" {
		return request
	}
	return fallback
}
