package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-cleanse/internal/cost"
	"github.com/sells-group/crm-cleanse/internal/model"
	"github.com/sells-group/crm-cleanse/pkg/hubspot"
)

const testModel = "claude-sonnet-4-5-20250929"

func newTestPipeline(ai *mockAI, crm *mockCRM) *Pipeline {
	return New(ai, crm, cost.NewCalculator(cost.DefaultRates()), testModel, 4096)
}

func filterReply() structuredReply {
	return reply(model.DuplicateSearchResult{
		FilterGroups: []hubspot.FilterGroup{{Filters: []hubspot.Filter{
			{PropertyName: "domain", Operator: hubspot.OpEq, Value: "acme.com"},
		}}},
		Confidence: model.ConfidenceHigh,
		Reasoning:  "domain is a strong identity signal",
	})
}

func decisionReply(action model.MergeAction, primaryID string) structuredReply {
	return reply(model.MergeDecision{
		RecommendedAction: action,
		PrimaryRecordID:   primaryID,
		Confidence:        model.ConfidenceHigh,
		Reasoning:         "canned decision",
	})
}

func planReply(updates map[string]any) structuredReply {
	return reply(model.FieldMergePlan{
		Updates:    updates,
		Confidence: model.ConfidenceMedium,
		Reasoning:  "canned plan",
	})
}

func TestMergeNoDuplicates(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{filterReply()}}
	crm := &mockCRM{searchResults: []hubspot.Record{
		{ID: "111", Properties: map[string]string{"name": "Acme Corp"}},
	}}

	result, err := newTestPipeline(ai, crm).Merge(context.Background(), MergeRequest{
		Company:  model.CompanyRecord{"name": "Acme Corp", "domain": "acme.com"},
		RecordID: "111",
	})
	require.NoError(t, err)

	assert.False(t, result.DuplicatesFound)
	assert.Zero(t, result.DuplicateCount)
	assert.Equal(t, 1, result.CreditCost)

	require.NotNil(t, result.Step2MergeDecision)
	assert.Equal(t, model.ActionKeep, result.Step2MergeDecision.RecommendedAction)
	assert.Equal(t, "111", result.Step2MergeDecision.PrimaryRecordID)
	assert.Equal(t, model.ConfidenceHigh, result.Step2MergeDecision.Confidence)
	assert.Equal(t, "no duplicates found", result.Step2MergeDecision.Reasoning)

	assert.Nil(t, result.Step3FieldMerge)
	assert.Equal(t, []string{"record_filter_search"}, ai.toolNames)
}

func TestMergeSearchRequestShape(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{filterReply()}}
	crm := &mockCRM{}

	_, err := newTestPipeline(ai, crm).Merge(context.Background(), MergeRequest{
		Company:  model.CompanyRecord{"name": "Acme"},
		RecordID: "111",
	})
	require.NoError(t, err)

	require.Len(t, crm.searchCalls, 1)
	req := crm.searchCalls[0]
	assert.Equal(t, searchLimit, req.Limit)
	for _, p := range []string{"name", "domain", "createdate", "hs_lastmodifieddate"} {
		assert.Contains(t, req.Properties, p)
	}
}

func TestMergeDecisionKeepStopsAtCostTwo(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{
		filterReply(),
		decisionReply(model.ActionKeep, "111"),
	}}
	crm := &mockCRM{searchResults: []hubspot.Record{
		{ID: "111"},
		{ID: "222", Properties: map[string]string{"name": "Acme Inc"}},
	}}

	result, err := newTestPipeline(ai, crm).Merge(context.Background(), MergeRequest{
		Company:  model.CompanyRecord{"name": "Acme Corp"},
		RecordID: "111",
	})
	require.NoError(t, err)

	assert.True(t, result.DuplicatesFound)
	assert.Equal(t, 1, result.DuplicateCount)
	assert.Equal(t, 2, result.CreditCost)
	assert.Nil(t, result.Step3FieldMerge)
	assert.Empty(t, crm.updateCalls)
	assert.Empty(t, crm.mergeCalls)
}

func TestMergeSelfPrimaryStopsAtCostTwo(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{
		filterReply(),
		decisionReply(model.ActionMerge, "111"),
	}}
	crm := &mockCRM{searchResults: []hubspot.Record{{ID: "111"}, {ID: "222"}}}

	result, err := newTestPipeline(ai, crm).Merge(context.Background(), MergeRequest{
		Company:  model.CompanyRecord{"name": "Acme"},
		RecordID: "111",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.CreditCost)
	assert.Nil(t, result.Step3FieldMerge)
}

func TestMergePlanWithoutApply(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{
		filterReply(),
		decisionReply(model.ActionMerge, "222"),
		planReply(map[string]any{"phone": "+1-555-0100"}),
	}}
	crm := &mockCRM{
		searchResults: []hubspot.Record{{ID: "111"}, {ID: "222"}},
		fetchRecords: map[string]*hubspot.Record{
			"222": {ID: "222", Properties: map[string]string{"name": "Acme Inc"}},
		},
	}

	result, err := newTestPipeline(ai, crm).Merge(context.Background(), MergeRequest{
		Company:     model.CompanyRecord{"name": "Acme Corp"},
		RecordID:    "111",
		MergeRecord: false,
	})
	require.NoError(t, err)

	require.NotNil(t, result.Step3FieldMerge)
	assert.Equal(t, "+1-555-0100", result.Step3FieldMerge.Updates["phone"])
	assert.Equal(t, 3, result.CreditCost)
	assert.False(t, result.RecordUpdated)
	assert.False(t, result.RecordMerged)
	assert.Empty(t, crm.updateCalls)
	assert.Empty(t, crm.mergeCalls)
}

func TestMergeApplyEmptyPlanSkipsUpdate(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{
		filterReply(),
		decisionReply(model.ActionMerge, "222"),
		planReply(map[string]any{}),
	}}
	crm := &mockCRM{
		searchResults: []hubspot.Record{{ID: "111"}, {ID: "222"}},
		fetchRecords:  map[string]*hubspot.Record{"222": {ID: "222"}},
	}

	result, err := newTestPipeline(ai, crm).Merge(context.Background(), MergeRequest{
		Company:     model.CompanyRecord{"name": "Acme"},
		RecordID:    "111",
		MergeRecord: true,
	})
	require.NoError(t, err)

	assert.Empty(t, crm.updateCalls)
	require.Len(t, crm.mergeCalls, 1)
	assert.Equal(t, mergeCall{primaryID: "222", mergedID: "111"}, crm.mergeCalls[0])
	assert.False(t, result.RecordUpdated)
	assert.True(t, result.RecordMerged)
	assert.Equal(t, 3, result.CreditCost)
}

func TestMergeApplyWithUpdates(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{
		filterReply(),
		decisionReply(model.ActionMerge, "222"),
		planReply(map[string]any{"phone": "+1-555-0100", "website": "https://acme.com"}),
	}}
	crm := &mockCRM{
		searchResults: []hubspot.Record{{ID: "111"}, {ID: "222"}},
		fetchRecords:  map[string]*hubspot.Record{"222": {ID: "222"}},
	}

	result, err := newTestPipeline(ai, crm).Merge(context.Background(), MergeRequest{
		Company:     model.CompanyRecord{"name": "Acme"},
		RecordID:    "111",
		MergeRecord: true,
	})
	require.NoError(t, err)

	require.Len(t, crm.updateCalls, 1)
	assert.Equal(t, "222", crm.updateCalls[0].id)
	assert.Equal(t, "+1-555-0100", crm.updateCalls[0].properties["phone"])
	require.Len(t, crm.mergeCalls, 1)
	assert.True(t, result.RecordUpdated)
	assert.True(t, result.RecordMerged)
}

func TestMergeSelfExclusionAndDedup(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{
		filterReply(),
		decisionReply(model.ActionKeep, "111"),
	}}
	crm := &mockCRM{searchResults: []hubspot.Record{
		{ID: "111"}, {ID: "222"}, {ID: "222"}, {ID: "333"},
	}}

	result, err := newTestPipeline(ai, crm).Merge(context.Background(), MergeRequest{
		Company:  model.CompanyRecord{"name": "Acme"},
		RecordID: "111",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.DuplicateCount)
	for _, dup := range result.Duplicates {
		assert.NotEqual(t, "111", dup.ID)
	}
}

func TestMergeRejectsPrimaryOutsideCandidates(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{
		filterReply(),
		decisionReply(model.ActionMerge, "999"),
	}}
	crm := &mockCRM{searchResults: []hubspot.Record{{ID: "111"}, {ID: "222"}}}

	result, err := newTestPipeline(ai, crm).Merge(context.Background(), MergeRequest{
		Company:  model.CompanyRecord{"name": "Acme"},
		RecordID: "111",
	})
	require.Error(t, err)
	assert.True(t, IsInferenceError(err))

	// The failed stage is not billed; the completed filter stage is.
	require.NotNil(t, result)
	assert.Equal(t, 1, result.CreditCost)
}

func TestMergeKeepDecisionNormalizesPrimaryID(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{
		filterReply(),
		decisionReply(model.ActionKeep, "222"),
	}}
	crm := &mockCRM{searchResults: []hubspot.Record{{ID: "111"}, {ID: "222"}}}

	result, err := newTestPipeline(ai, crm).Merge(context.Background(), MergeRequest{
		Company:  model.CompanyRecord{"name": "Acme"},
		RecordID: "111",
	})
	require.NoError(t, err)
	assert.Equal(t, "111", result.Step2MergeDecision.PrimaryRecordID)
}

func TestMergeUsageSurvivesStoreFailureDuringApply(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{
		filterReply(),
		decisionReply(model.ActionMerge, "222"),
		planReply(map[string]any{"phone": "x"}),
	}}
	crm := &mockCRM{
		searchResults: []hubspot.Record{{ID: "111"}, {ID: "222"}},
		fetchRecords:  map[string]*hubspot.Record{"222": {ID: "222"}},
		updateErr:     assert.AnError,
	}

	result, err := newTestPipeline(ai, crm).Merge(context.Background(), MergeRequest{
		Company:     model.CompanyRecord{"name": "Acme"},
		RecordID:    "111",
		MergeRecord: true,
	})
	require.Error(t, err)
	assert.False(t, IsInferenceError(err))

	// All three inference stages completed before the store failed.
	require.NotNil(t, result)
	assert.Equal(t, 3, result.CreditCost)
	assert.Equal(t, 3, result.Usage.StageCount())
	assert.False(t, result.RecordMerged)
}

func TestMergeSanitizesFilterValues(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{
		reply(model.DuplicateSearchResult{
			FilterGroups: []hubspot.FilterGroup{{Filters: []hubspot.Filter{
				{PropertyName: "domain", Operator: hubspot.OpEq, Value: `acme.com}]},{"`},
			}}},
			Confidence: model.ConfidenceHigh,
		}),
	}}
	crm := &mockCRM{}

	result, err := newTestPipeline(ai, crm).Merge(context.Background(), MergeRequest{
		Company:  model.CompanyRecord{"domain": "acme.com"},
		RecordID: "111",
	})
	require.NoError(t, err)

	require.Len(t, crm.searchCalls, 1)
	sent := crm.searchCalls[0].FilterGroups[0].Filters[0].Value
	assert.Equal(t, "acme.com", sent)
	assert.Equal(t, "acme.com", result.Step1DuplicateSearch.FilterGroups[0].Filters[0].Value)
}
