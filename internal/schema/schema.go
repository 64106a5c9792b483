// Package schema builds the JSON-Schema documents that constrain each
// structured inference call. Base templates are package-level values that
// are never mutated; every builder returns an independent deep copy with
// caller rule text appended to description fields only. Structural keys
// (type, enum, required, additionalProperties) are never touched by rule
// injection, so concurrent requests cannot contaminate each other.
package schema

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Stage identifies one inference step of the cleanse workflows.
type Stage string

const (
	StageFilterSearch  Stage = "filter_search"
	StageMergeDecision Stage = "merge_decision"
	StageFieldMerge    Stage = "field_merge"
	StageClean         Stage = "clean"
	StagePurge         Stage = "purge"
)

// ToolName returns the tool identifier submitted with the stage schema.
func (s Stage) ToolName() string {
	return "record_" + string(s)
}

// Document is a JSON-Schema object document.
type Document struct {
	Type                 string               `json:"type"`
	Description          string               `json:"description,omitempty"`
	Properties           map[string]*Property `json:"properties,omitempty"`
	Required             []string             `json:"required,omitempty"`
	AdditionalProperties *bool                `json:"additionalProperties,omitempty"`
}

// Property is a single schema property, possibly nested.
type Property struct {
	Type                 string               `json:"type,omitempty"`
	Description          string               `json:"description,omitempty"`
	Enum                 []string             `json:"enum,omitempty"`
	Items                *Property            `json:"items,omitempty"`
	Properties           map[string]*Property `json:"properties,omitempty"`
	Required             []string             `json:"required,omitempty"`
	AdditionalProperties *bool                `json:"additionalProperties,omitempty"`
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := d
	out.Properties = cloneProps(d.Properties)
	out.Required = append([]string(nil), d.Required...)
	if d.AdditionalProperties != nil {
		v := *d.AdditionalProperties
		out.AdditionalProperties = &v
	}
	return out
}

func (p *Property) clone() *Property {
	if p == nil {
		return nil
	}
	out := *p
	out.Enum = append([]string(nil), p.Enum...)
	out.Items = p.Items.clone()
	out.Properties = cloneProps(p.Properties)
	out.Required = append([]string(nil), p.Required...)
	if p.AdditionalProperties != nil {
		v := *p.AdditionalProperties
		out.AdditionalProperties = &v
	}
	return &out
}

func cloneProps(props map[string]*Property) map[string]*Property {
	if props == nil {
		return nil
	}
	out := make(map[string]*Property, len(props))
	for k, v := range props {
		out[k] = v.clone()
	}
	return out
}

// AsMap converts the document into the loose map shape the inference
// client submits on the wire.
func (d Document) AsMap() (map[string]any, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, eris.Wrap(err, "schema: marshal document")
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "schema: decode document")
	}
	return m, nil
}

// SanitizeRuleText strips characters from caller rule text that could
// desynchronize the surrounding schema document when embedded in a
// description, then trims whitespace.
func SanitizeRuleText(rule string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '{', '}', '[', ']', '\\', '<', '>':
			return -1
		default:
			return r
		}
	}, rule)
	return strings.TrimSpace(cleaned)
}

// appendRule returns the description with sanitized rule text appended, or
// the description unchanged when the rule is blank.
func appendRule(description, rule string) string {
	cleaned := SanitizeRuleText(rule)
	if cleaned == "" {
		return description
	}
	return description + "\n\nAdditional instructions: " + cleaned
}

func boolPtr(b bool) *bool { return &b }
