package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Confidence and action enums shared across stage templates. Every stage
// expresses confidence with the same three-level enum and actions with the
// same MERGE/KEEP pair so downstream decoding stays uniform.
var (
	confidenceEnum  = []string{"LOW", "MEDIUM", "HIGH"}
	mergeActionEnum = []string{"MERGE", "KEEP"}
	purgeActionEnum = []string{"REMOVE", "KEEP"}
	operatorEnum    = []string{"EQ", "CONTAINS_TOKEN", "IN", "NOT_IN", "HAS_PROPERTY", "NOT_HAS_PROPERTY"}
)

func confidenceProp() *Property {
	return &Property{
		Type:        "string",
		Enum:        append([]string(nil), confidenceEnum...),
		Description: "How confident you are in this result.",
	}
}

// filterSearchBase is the stage 1 template: search filters for locating
// duplicate company records in the CRM.
var filterSearchBase = Document{
	Type: "object",
	Description: "Build CRM search filters that would locate duplicate records of the " +
		"given company. Use at most 5 filter groups. Filter groups are OR-combined; " +
		"filters inside one group are AND-combined. Prefer an exact match (EQ) on " +
		"domain, a fuzzy match (CONTAINS_TOKEN) on distinctive name tokens, and exact " +
		"matches on phone when present. Values must be bare literals: a domain filter " +
		"carries only the registrable domain, never a URL.",
	Properties: map[string]*Property{
		"filterGroups": {
			Type:        "array",
			Description: "Up to 5 OR-combined filter groups.",
			Items: &Property{
				Type:                 "object",
				AdditionalProperties: boolPtr(false),
				Properties: map[string]*Property{
					"filters": {
						Type:        "array",
						Description: "AND-combined filters in this group.",
						Items: &Property{
							Type:                 "object",
							AdditionalProperties: boolPtr(false),
							Properties: map[string]*Property{
								"propertyName": {
									Type:        "string",
									Description: "CRM property to filter on, e.g. name, domain, phone, city.",
								},
								"operator": {
									Type: "string",
									Enum: append([]string(nil), operatorEnum...),
								},
								"value": {
									Type:        "string",
									Description: "Literal for EQ or CONTAINS_TOKEN. Empty string when the operator does not carry a single literal.",
								},
								"values": {
									Type:        "array",
									Description: "Literals for IN or NOT_IN. Empty array for every other operator.",
									Items:       &Property{Type: "string"},
								},
							},
							Required: []string{"propertyName", "operator", "value", "values"},
						},
					},
				},
				Required: []string{"filters"},
			},
		},
		"confidence": confidenceProp(),
		"reasoning": {
			Type:        "string",
			Description: "Brief explanation of why these filters would surface duplicates.",
		},
	},
	Required:             []string{"filterGroups", "confidence", "reasoning"},
	AdditionalProperties: boolPtr(false),
}

// mergeDecisionBase is the stage 2 template: choose the surviving record.
var mergeDecisionBase = Document{
	Type: "object",
	Description: "Decide whether the current company record should be merged into one of " +
		"the candidate duplicates, and which record should survive. Score each record " +
		"on a 100-point composite: data completeness 40%, data quality 25%, engagement " +
		"signals 20%, source reliability 10%, record history 5%. Recommend MERGE only " +
		"when a candidate is a true duplicate of the current record. When the top two " +
		"records score within 5 points of each other, prefer the record with the " +
		"earliest creation date as primary.",
	Properties: map[string]*Property{
		"recommendedAction": {
			Type:        "string",
			Enum:        append([]string(nil), mergeActionEnum...),
			Description: "MERGE when a duplicate should absorb or be absorbed; KEEP when no candidate is a true duplicate.",
		},
		"primaryRecordId": {
			Type: "string",
			Description: "Id of the surviving record. Must be the current record's id when " +
				"recommendedAction is KEEP; must be one of the candidate ids otherwise.",
		},
		"confidence": confidenceProp(),
		"reasoning": {
			Type:        "string",
			Description: "Scoring summary explaining the choice of primary record.",
		},
	},
	Required:             []string{"recommendedAction", "primaryRecordId", "confidence", "reasoning"},
	AdditionalProperties: boolPtr(false),
}

// fieldMergeBase is the stage 3 template: field-level reconciliation plan.
var fieldMergeBase = Document{
	Type: "object",
	Description: "Compare the current record against the primary record field by field. " +
		"Produce the set of properties where the current record's value is clearly " +
		"better than the primary's (more complete, more precise, better formatted) and " +
		"should overwrite it. Include a property ONLY when it should be updated; an " +
		"empty updates object means the primary record is already the better source " +
		"for every field.",
	Properties: map[string]*Property{
		"updates": {
			Type:                 "object",
			AdditionalProperties: boolPtr(true),
			Description:          "Map of property name to replacement value taken from the current record.",
		},
		"confidence": confidenceProp(),
		"reasoning": {
			Type:        "string",
			Description: "Per-field justification for the proposed updates.",
		},
	},
	Required:             []string{"updates", "confidence", "reasoning"},
	AdditionalProperties: boolPtr(false),
}

// purgeBase is the single-stage purge template.
var purgeBase = Document{
	Type: "object",
	Description: "Classify whether this company record should be removed from the CRM. " +
		"Be conservative: recommend REMOVE only on clear signals that the record is " +
		"test data, fake data, or has an empty identity (no meaningful name, domain, " +
		"or contact information). When in doubt, KEEP.",
	Properties: map[string]*Property{
		"classification": {
			Type: "string",
			Enum: append([]string(nil), purgeActionEnum...),
		},
		"confidence": confidenceProp(),
		"reasoning": {
			Type:        "string",
			Description: "The specific signals that justify the classification.",
		},
	},
	Required:             []string{"classification", "confidence", "reasoning"},
	AdditionalProperties: boolPtr(false),
}

// FilterSearch returns the duplicate-search schema with the caller's
// duplicate rules appended to the top-level description.
func FilterSearch(duplicateRules string) Document {
	doc := filterSearchBase.Clone()
	doc.Description = appendRule(doc.Description, duplicateRules)
	return doc
}

// MergeDecision returns the merge-decision schema with the caller's
// primary-selection rules appended.
func MergeDecision(primaryRules string) Document {
	doc := mergeDecisionBase.Clone()
	doc.Description = appendRule(doc.Description, primaryRules)
	return doc
}

// FieldMerge returns the field-merge schema with the caller's merge rules
// appended at the top level and per-property rules appended to the updates
// field description.
func FieldMerge(mergeRules string, propertyRules map[string]string) Document {
	doc := fieldMergeBase.Clone()
	doc.Description = appendRule(doc.Description, mergeRules)

	if len(propertyRules) > 0 {
		names := make([]string, 0, len(propertyRules))
		for name := range propertyRules {
			if SanitizeRuleText(propertyRules[name]) != "" {
				names = append(names, name)
			}
		}
		sort.Strings(names)

		if len(names) > 0 {
			var b strings.Builder
			b.WriteString(doc.Properties["updates"].Description)
			b.WriteString("\n\nPer-property instructions:")
			for _, name := range names {
				fmt.Fprintf(&b, "\n- %s: %s", name, SanitizeRuleText(propertyRules[name]))
			}
			doc.Properties["updates"].Description = b.String()
		}
	}
	return doc
}

// Clean returns the clean-stage schema restricted to exactly the caller's
// field keys: one result object per supplied field, every field required.
func Clean(fields []string, cleanRules string) Document {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)

	props := make(map[string]*Property, len(sorted))
	for _, f := range sorted {
		props[f] = &Property{
			Type:                 "object",
			AdditionalProperties: boolPtr(false),
			Properties: map[string]*Property{
				"cleanedValue": {
					Type:        "string",
					Description: "The corrected value, or the original value when no change is needed. Empty string when the value should be cleared.",
				},
				"action": {
					Type:        "string",
					Enum:        []string{"KEPT", "CLEANED", "CLEARED"},
					Description: "KEPT when unchanged, CLEANED when corrected or reformatted, CLEARED when the value is junk.",
				},
				"confidence": confidenceProp(),
				"reasoning":  {Type: "string"},
			},
			Required: []string{"cleanedValue", "action", "confidence", "reasoning"},
		}
	}

	doc := Document{
		Type: "object",
		Description: "Clean each supplied company field: fix casing and formatting, strip " +
			"stray punctuation and markup, normalize domains to bare registrable form, " +
			"normalize phone numbers, and clear values that are clearly junk. Never " +
			"invent data that is not derivable from the supplied value.",
		Properties:           props,
		Required:             sorted,
		AdditionalProperties: boolPtr(false),
	}
	doc.Description = appendRule(doc.Description, cleanRules)
	return doc
}

// Purge returns the purge-stage schema with the caller's rules appended.
func Purge(purgeRules string) Document {
	doc := purgeBase.Clone()
	doc.Description = appendRule(doc.Description, purgeRules)
	return doc
}

// Build returns the schema for a stage that takes a single free-form rule
// string. Stages with richer parameterization (field-merge, clean) have
// dedicated builders.
func Build(stage Stage, rules string) (Document, error) {
	switch stage {
	case StageFilterSearch:
		return FilterSearch(rules), nil
	case StageMergeDecision:
		return MergeDecision(rules), nil
	case StageFieldMerge:
		return FieldMerge(rules, nil), nil
	case StagePurge:
		return Purge(rules), nil
	default:
		return Document{}, eris.New(fmt.Sprintf("schema: no template for stage %q", stage))
	}
}
