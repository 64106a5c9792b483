package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-cleanse/internal/model"
	"github.com/sells-group/crm-cleanse/internal/schema"
)

// PurgeRequest is one purge pipeline invocation.
type PurgeRequest struct {
	Company  model.CompanyRecord
	RecordID string
	Rules    model.RuleSet
	// ArchiveRecord gates the delete. Archival only happens when the
	// classification comes back REMOVE.
	ArchiveRecord bool
}

// Purge classifies a record as removable junk or a keeper. The schema
// biases the model toward keeping anything ambiguous.
func (p *Pipeline) Purge(ctx context.Context, req PurgeRequest) (*model.PurgeResult, error) {
	result := &model.PurgeResult{
		Company:  req.Company,
		RecordID: req.RecordID,
	}

	doc := schema.Purge(req.Rules.PurgeRules)
	subject := map[string]any{
		"company":  req.Company,
		"recordId": req.RecordID,
	}

	var classification model.PurgeClassification
	usage, err := p.runStage(ctx, schema.StagePurge, doc, subject, &classification)
	if err != nil {
		return result, err
	}
	result.Usage.Record(string(schema.StagePurge), usage)
	result.CreditCost = result.Usage.StageCount()
	result.Classification = classification

	if req.ArchiveRecord && classification.Classification == model.PurgeRemove {
		if err := p.crm.Archive(ctx, req.RecordID); err != nil {
			return result, eris.Wrap(err, "pipeline: archive record")
		}
		result.RecordArchived = true
		zap.L().Info("purge: record archived",
			zap.String("record_id", req.RecordID),
			zap.String("confidence", string(classification.Confidence)),
		)
	}
	return result, nil
}
