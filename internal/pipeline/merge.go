package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-cleanse/internal/model"
	"github.com/sells-group/crm-cleanse/internal/schema"
	"github.com/sells-group/crm-cleanse/pkg/hubspot"
)

// searchProperties are requested on every candidate so the decision and
// field-merge stages see identity and location fields plus timestamps.
var searchProperties = []string{
	"name",
	"domain",
	"website",
	"phone",
	"city",
	"state",
	"zip",
	"country",
	"address",
	"linkedin_company_page",
	"createdate",
	"hs_lastmodifieddate",
}

const searchLimit = 100

// MergeRequest is one merge pipeline invocation.
type MergeRequest struct {
	Company  model.CompanyRecord
	RecordID string
	Rules    model.RuleSet
	// MergeRecord gates the apply step. When false the pipeline still
	// returns the full decision and plan but performs no writes.
	MergeRecord bool
}

// mergeState names a position in the merge pipeline. Each state has a
// single step function; early exits jump straight to stateDone.
type mergeState int

const (
	stateBuildFilters mergeState = iota
	stateSearch
	stateDecide
	stateFetchPrimary
	statePlanFields
	stateApply
	stateDone
)

// mergeRun carries one request through the state machine.
type mergeRun struct {
	p       *Pipeline
	req     MergeRequest
	state   mergeState
	result  *model.MergeResult
	primary *hubspot.Record
	log     *zap.Logger
}

// Merge runs the duplicate-detection pipeline for one record. The returned
// result is non-nil even on error so callers can track usage for stages
// that completed before the failure.
func (p *Pipeline) Merge(ctx context.Context, req MergeRequest) (*model.MergeResult, error) {
	run := &mergeRun{
		p:     p,
		req:   req,
		state: stateBuildFilters,
		result: &model.MergeResult{
			Company:  req.Company,
			RecordID: req.RecordID,
		},
		log: zap.L().With(zap.String("record_id", req.RecordID)),
	}

	for run.state != stateDone {
		if err := run.step(ctx); err != nil {
			run.result.CreditCost = run.result.Usage.StageCount()
			return run.result, err
		}
	}

	run.result.CreditCost = run.result.Usage.StageCount()
	return run.result, nil
}

func (r *mergeRun) step(ctx context.Context) error {
	switch r.state {
	case stateBuildFilters:
		return r.buildFilters(ctx)
	case stateSearch:
		return r.search(ctx)
	case stateDecide:
		return r.decide(ctx)
	case stateFetchPrimary:
		return r.fetchPrimary(ctx)
	case statePlanFields:
		return r.planFields(ctx)
	case stateApply:
		return r.apply(ctx)
	default:
		return eris.New("pipeline: invalid merge state")
	}
}

// buildFilters asks the model for duplicate-search filter groups and
// sanitizes every literal before they reach the store.
func (r *mergeRun) buildFilters(ctx context.Context) error {
	doc := schema.FilterSearch(r.req.Rules.DuplicateRules)
	subject := map[string]any{
		"company":  r.req.Company,
		"recordId": r.req.RecordID,
	}

	var search model.DuplicateSearchResult
	usage, err := r.p.runStage(ctx, schema.StageFilterSearch, doc, subject, &search)
	if err != nil {
		return err
	}
	r.result.Usage.Record(string(schema.StageFilterSearch), usage)

	search.FilterGroups = SanitizeGroups(search.FilterGroups)
	r.result.Step1DuplicateSearch = &search
	r.state = stateSearch
	return nil
}

// search queries the store and drops the current record from the result
// set; a record always matches its own identity filters.
func (r *mergeRun) search(ctx context.Context) error {
	records, err := r.p.crm.Search(ctx, hubspot.SearchRequest{
		FilterGroups: r.result.Step1DuplicateSearch.FilterGroups,
		Properties:   searchProperties,
		Limit:        searchLimit,
	})
	if err != nil {
		return eris.Wrap(err, "pipeline: duplicate search")
	}

	seen := make(map[string]bool, len(records))
	duplicates := make([]hubspot.Record, 0, len(records))
	for _, rec := range records {
		if rec.ID == r.req.RecordID || seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		duplicates = append(duplicates, rec)
	}

	r.result.Duplicates = duplicates
	r.result.DuplicateCount = len(duplicates)
	r.result.DuplicatesFound = len(duplicates) > 0

	if len(duplicates) == 0 {
		r.result.Step2MergeDecision = &model.MergeDecision{
			RecommendedAction: model.ActionKeep,
			PrimaryRecordID:   r.req.RecordID,
			Confidence:        model.ConfidenceHigh,
			Reasoning:         "no duplicates found",
		}
		r.log.Info("merge: no duplicates, keeping record")
		r.state = stateDone
		return nil
	}

	r.state = stateDecide
	return nil
}

// decide runs the merge-decision stage and checks its id invariants at the
// boundary: a KEEP always points at the current record, a MERGE must name
// one of the candidates.
func (r *mergeRun) decide(ctx context.Context) error {
	doc := schema.MergeDecision(r.req.Rules.PrimaryRules)
	subject := map[string]any{
		"company":    r.req.Company,
		"recordId":   r.req.RecordID,
		"duplicates": r.result.Duplicates,
	}

	var decision model.MergeDecision
	usage, err := r.p.runStage(ctx, schema.StageMergeDecision, doc, subject, &decision)
	if err != nil {
		return err
	}

	if decision.RecommendedAction == model.ActionKeep {
		decision.PrimaryRecordID = r.req.RecordID
	}

	if decision.RecommendedAction == model.ActionMerge && decision.PrimaryRecordID != r.req.RecordID {
		found := false
		for _, dup := range r.result.Duplicates {
			if dup.ID == decision.PrimaryRecordID {
				found = true
				break
			}
		}
		if !found {
			return &InferenceError{
				Stage: string(schema.StageMergeDecision),
				Err:   eris.New("decision names a primary record outside the candidate set"),
			}
		}
	}

	r.result.Usage.Record(string(schema.StageMergeDecision), usage)
	r.result.Step2MergeDecision = &decision

	if decision.RecommendedAction == model.ActionKeep || decision.PrimaryRecordID == r.req.RecordID {
		r.log.Info("merge: decision is keep", zap.String("confidence", string(decision.Confidence)))
		r.state = stateDone
		return nil
	}

	r.state = stateFetchPrimary
	return nil
}

// fetchPrimary loads the surviving record; the field-merge stage needs its
// authoritative state.
func (r *mergeRun) fetchPrimary(ctx context.Context) error {
	primary, err := r.p.crm.Fetch(ctx, r.result.Step2MergeDecision.PrimaryRecordID, searchProperties)
	if err != nil {
		return eris.Wrap(err, "pipeline: fetch primary record")
	}
	r.primary = primary
	r.state = statePlanFields
	return nil
}

// planFields asks the model which of the current record's values should
// overwrite the primary's. An empty plan is valid.
func (r *mergeRun) planFields(ctx context.Context) error {
	doc := schema.FieldMerge(r.req.Rules.MergeRules, r.req.Rules.MergePropertyRules)
	subject := map[string]any{
		"currentRecord": map[string]any{
			"recordId":   r.req.RecordID,
			"properties": r.req.Company,
		},
		"primaryRecord": r.primary,
	}

	var plan model.FieldMergePlan
	usage, err := r.p.runStage(ctx, schema.StageFieldMerge, doc, subject, &plan)
	if err != nil {
		return err
	}
	r.result.Usage.Record(string(schema.StageFieldMerge), usage)

	if plan.Updates == nil {
		plan.Updates = map[string]any{}
	}
	r.result.Step3FieldMerge = &plan

	if !r.req.MergeRecord {
		r.log.Info("merge: apply not requested, returning plan only")
		r.state = stateDone
		return nil
	}
	r.state = stateApply
	return nil
}

// apply writes the plan onto the primary, then merges the current record
// into it. An empty plan skips the update but never the merge. A failure
// between the two leaves the primary updated but unmerged; no rollback is
// attempted.
func (r *mergeRun) apply(ctx context.Context) error {
	primaryID := r.result.Step2MergeDecision.PrimaryRecordID

	if len(r.result.Step3FieldMerge.Updates) > 0 {
		props := toPropertyMap(r.result.Step3FieldMerge.Updates)
		if err := r.p.crm.Update(ctx, primaryID, props); err != nil {
			return eris.Wrap(err, "pipeline: update primary record")
		}
		r.result.RecordUpdated = true
	}

	if err := r.p.crm.Merge(ctx, primaryID, r.req.RecordID); err != nil {
		return eris.Wrap(err, "pipeline: merge records")
	}
	r.result.RecordMerged = true

	r.log.Info("merge: applied",
		zap.String("primary_id", primaryID),
		zap.Bool("record_updated", r.result.RecordUpdated),
	)
	r.state = stateDone
	return nil
}
