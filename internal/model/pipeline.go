package model

import "github.com/sells-group/crm-cleanse/pkg/hubspot"

// DuplicateSearchResult is the outcome of the filter-search stage: the
// filter groups the model proposed plus the candidate records the store
// returned for them.
type DuplicateSearchResult struct {
	FilterGroups []hubspot.FilterGroup `json:"filterGroups"`
	Confidence   Confidence            `json:"confidence"`
	Reasoning    string                `json:"reasoning"`
}

// MergeDecision is the outcome of the merge-decision stage.
//
// When RecommendedAction is KEEP, PrimaryRecordID equals the current
// record's id. When it is MERGE, PrimaryRecordID names one of the
// candidate duplicates.
type MergeDecision struct {
	RecommendedAction MergeAction `json:"recommendedAction"`
	PrimaryRecordID   string      `json:"primaryRecordId"`
	Confidence        Confidence  `json:"confidence"`
	Reasoning         string      `json:"reasoning"`
}

// FieldMergePlan is the outcome of the field-merge stage: property values
// to write onto the surviving record. An empty Updates map is valid and
// means the primary already holds the best value for every field.
type FieldMergePlan struct {
	Updates    map[string]any `json:"updates"`
	Confidence Confidence     `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
}

// CleanFieldResult is the per-field outcome of the clean stage.
type CleanFieldResult struct {
	CleanedValue string     `json:"cleanedValue"`
	Action       string     `json:"action"`
	Confidence   Confidence `json:"confidence"`
	Reasoning    string     `json:"reasoning"`
}

// Clean-stage per-field actions.
const (
	CleanActionKept    = "KEPT"
	CleanActionCleaned = "CLEANED"
	CleanActionCleared = "CLEARED"
)

// PurgeClassification is the outcome of the purge stage.
type PurgeClassification struct {
	Classification PurgeAction `json:"classification"`
	Confidence     Confidence  `json:"confidence"`
	Reasoning      string      `json:"reasoning"`
}

// StageUsage holds token counters and derived cost for one inference stage.
type StageUsage struct {
	InputTokens     int     `json:"inputTokens"`
	OutputTokens    int     `json:"outputTokens"`
	ReasoningTokens int     `json:"reasoningTokens"`
	TotalTokens     int     `json:"totalTokens"`
	CostUSD         float64 `json:"costUsd"`
}

// Add accumulates another stage's counters into u.
func (u *StageUsage) Add(other StageUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.ReasoningTokens += other.ReasoningTokens
	u.TotalTokens += other.TotalTokens
	u.CostUSD += other.CostUSD
}

// PipelineUsage is the per-stage and aggregate usage for one pipeline run.
// Only stages that actually executed appear in Stages.
type PipelineUsage struct {
	Stages map[string]StageUsage `json:"stages"`
	Total  StageUsage            `json:"total"`
}

// Record notes a completed stage's usage and updates the running total.
func (p *PipelineUsage) Record(stage string, usage StageUsage) {
	if p.Stages == nil {
		p.Stages = make(map[string]StageUsage)
	}
	p.Stages[stage] = usage
	p.Total.Add(usage)
}

// StageCount returns the number of inference stages that ran. This drives
// the credit cost charged for the request.
func (p *PipelineUsage) StageCount() int {
	return len(p.Stages)
}

// MergeResult is the full outcome of a merge pipeline run, echoed back to
// the caller stage by stage.
type MergeResult struct {
	Company              CompanyRecord          `json:"company"`
	RecordID             string                 `json:"recordId"`
	Step1DuplicateSearch *DuplicateSearchResult `json:"step1DuplicateSearch"`
	Step2MergeDecision   *MergeDecision         `json:"step2MergeDecision"`
	Step3FieldMerge      *FieldMergePlan        `json:"step3FieldMerge,omitempty"`
	DuplicatesFound      bool                   `json:"duplicatesFound"`
	DuplicateCount       int                    `json:"duplicateCount"`
	Duplicates           []hubspot.Record       `json:"duplicates"`
	CreditCost           int                    `json:"creditCost"`
	CreditsRemaining     int                    `json:"creditsRemaining"`
	RecordUpdated        bool                   `json:"recordUpdated"`
	RecordMerged         bool                   `json:"recordMerged"`
	Usage                PipelineUsage          `json:"usage"`
}

// CleanResult is the outcome of a clean pipeline run.
type CleanResult struct {
	Company       CompanyRecord               `json:"company"`
	RecordID      string                      `json:"recordId"`
	Fields        map[string]CleanFieldResult `json:"fields"`
	RecordUpdated bool                        `json:"recordUpdated"`
	CreditCost    int                         `json:"creditCost"`
	Usage         PipelineUsage               `json:"usage"`
}

// PurgeResult is the outcome of a purge pipeline run.
type PurgeResult struct {
	Company        CompanyRecord       `json:"company"`
	RecordID       string              `json:"recordId"`
	Classification PurgeClassification `json:"classification"`
	RecordArchived bool                `json:"recordArchived"`
	CreditCost     int                 `json:"creditCost"`
	Usage          PipelineUsage       `json:"usage"`
}
