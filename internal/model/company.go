// Package model defines the request, pipeline, and persistence types shared
// by the cleanse pipelines and the HTTP surface.
package model

import "github.com/rotisserie/eris"

// MaxProperties caps the number of properties accepted on an inbound
// company object.
const MaxProperties = 50

// CompanyRecord is the caller-supplied view of a company: a flat map of
// property names to scalar values. Nested objects and arrays are rejected
// at validation time.
type CompanyRecord map[string]any

// Validate rejects empty, oversized, or non-flat company objects.
func (c CompanyRecord) Validate() error {
	if len(c) == 0 {
		return eris.New("company object is empty")
	}
	if len(c) > MaxProperties {
		return eris.New("company object exceeds the property limit")
	}
	for key, value := range c {
		if key == "" {
			return eris.New("company object contains an empty property name")
		}
		switch value.(type) {
		case nil, string, bool, float64, int, int64:
		default:
			return eris.New("company property " + key + " is not a scalar value")
		}
	}
	return nil
}

// RuleSet carries the caller's optional free-text guidance for each
// inference stage. Rule text is sanitized before it reaches a schema.
type RuleSet struct {
	DuplicateRules     string            `json:"duplicateRules,omitempty"`
	PrimaryRules       string            `json:"primaryRules,omitempty"`
	MergeRules         string            `json:"mergeRules,omitempty"`
	MergePropertyRules map[string]string `json:"mergePropertyRules,omitempty"`
	CleanRules         string            `json:"cleanRules,omitempty"`
	PurgeRules         string            `json:"purgeRules,omitempty"`
}

// Confidence is the three-level confidence scale the inference stages use.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// MergeAction is the decision-stage verdict.
type MergeAction string

const (
	ActionMerge MergeAction = "MERGE"
	ActionKeep  MergeAction = "KEEP"
)

// PurgeAction is the purge-stage verdict.
type PurgeAction string

const (
	PurgeRemove PurgeAction = "REMOVE"
	PurgeKeep   PurgeAction = "KEEP"
)
