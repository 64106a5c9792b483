package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-cleanse/internal/model"
	"github.com/sells-group/crm-cleanse/pkg/hubspot"
)

func cleanReply(fields map[string]model.CleanFieldResult) structuredReply {
	return reply(fields)
}

func TestCleanWithoutWriteBack(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{cleanReply(map[string]model.CleanFieldResult{
		"name": {CleanedValue: "Acme Corp", Action: model.CleanActionCleaned, Confidence: model.ConfidenceHigh, Reasoning: "normalized suffix"},
	})}}
	crm := &mockCRM{}

	result, err := newTestPipeline(ai, crm).Clean(context.Background(), CleanRequest{
		Company:  model.CompanyRecord{"name": "acme corp inc."},
		RecordID: "111",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.CreditCost)
	assert.Equal(t, "Acme Corp", result.Fields["name"].CleanedValue)
	assert.False(t, result.RecordUpdated)
	assert.Empty(t, crm.updateCalls)
	assert.Equal(t, []string{"record_clean"}, ai.toolNames)
}

func TestCleanWriteBackDiffsAgainstStoredRecord(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{cleanReply(map[string]model.CleanFieldResult{
		"name":  {CleanedValue: "Acme Corp", Action: model.CleanActionCleaned},
		"phone": {CleanedValue: "+1-555-0100", Action: model.CleanActionKept},
		"fax":   {CleanedValue: "gone", Action: model.CleanActionCleaned},
	})}}
	crm := &mockCRM{fetchRecords: map[string]*hubspot.Record{
		"111": {ID: "111", Properties: map[string]string{
			// name differs, phone already matches, fax absent from the store.
			"name":  "acme corp inc.",
			"phone": "+1-555-0100",
		}},
	}}

	result, err := newTestPipeline(ai, crm).Clean(context.Background(), CleanRequest{
		Company:      model.CompanyRecord{"name": "acme corp inc.", "phone": "+1-555-0100", "fax": "n/a"},
		RecordID:     "111",
		UpdateRecord: true,
	})
	require.NoError(t, err)

	assert.True(t, result.RecordUpdated)
	require.Len(t, crm.updateCalls, 1)
	assert.Equal(t, map[string]string{"name": "Acme Corp"}, crm.updateCalls[0].properties)
}

func TestCleanWriteBackNoChanges(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{cleanReply(map[string]model.CleanFieldResult{
		"name": {CleanedValue: "Acme Corp", Action: model.CleanActionKept},
	})}}
	crm := &mockCRM{fetchRecords: map[string]*hubspot.Record{
		"111": {ID: "111", Properties: map[string]string{"name": "Acme Corp"}},
	}}

	result, err := newTestPipeline(ai, crm).Clean(context.Background(), CleanRequest{
		Company:      model.CompanyRecord{"name": "Acme Corp"},
		RecordID:     "111",
		UpdateRecord: true,
	})
	require.NoError(t, err)

	assert.False(t, result.RecordUpdated)
	assert.Empty(t, crm.updateCalls)
}

func TestCleanInferenceFailureIsNotBilled(t *testing.T) {
	ai := &mockAI{replies: []structuredReply{{err: assert.AnError}}}
	crm := &mockCRM{}

	result, err := newTestPipeline(ai, crm).Clean(context.Background(), CleanRequest{
		Company:  model.CompanyRecord{"name": "Acme"},
		RecordID: "111",
	})
	require.Error(t, err)
	assert.True(t, IsInferenceError(err))
	assert.Zero(t, result.CreditCost)
}
