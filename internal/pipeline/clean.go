package pipeline

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-cleanse/internal/model"
	"github.com/sells-group/crm-cleanse/internal/schema"
)

// CleanRequest is one clean pipeline invocation.
type CleanRequest struct {
	Company  model.CompanyRecord
	RecordID string
	Rules    model.RuleSet
	// UpdateRecord gates the write-back of cleaned values.
	UpdateRecord bool
}

// Clean runs a single inference call that maps every supplied field to a
// cleaned value. Write-back only touches fields whose cleaned value differs
// from what the store currently holds and which exist on the stored record.
func (p *Pipeline) Clean(ctx context.Context, req CleanRequest) (*model.CleanResult, error) {
	result := &model.CleanResult{
		Company:  req.Company,
		RecordID: req.RecordID,
	}

	fields := make([]string, 0, len(req.Company))
	for field := range req.Company {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	doc := schema.Clean(fields, req.Rules.CleanRules)
	subject := map[string]any{
		"company":  req.Company,
		"recordId": req.RecordID,
	}

	cleaned := make(map[string]model.CleanFieldResult)
	usage, err := p.runStage(ctx, schema.StageClean, doc, subject, &cleaned)
	if err != nil {
		return result, err
	}
	result.Usage.Record(string(schema.StageClean), usage)
	result.CreditCost = result.Usage.StageCount()
	result.Fields = cleaned

	if !req.UpdateRecord {
		return result, nil
	}

	stored, err := p.crm.Fetch(ctx, req.RecordID, fields)
	if err != nil {
		return result, eris.Wrap(err, "pipeline: fetch record for clean write-back")
	}

	updates := make(map[string]string)
	for field, res := range cleaned {
		current, exists := stored.Properties[field]
		if exists && res.CleanedValue != current {
			updates[field] = res.CleanedValue
		}
	}

	if len(updates) > 0 {
		if err := p.crm.Update(ctx, req.RecordID, updates); err != nil {
			return result, eris.Wrap(err, "pipeline: write cleaned values")
		}
		result.RecordUpdated = true
		zap.L().Info("clean: record updated",
			zap.String("record_id", req.RecordID),
			zap.Int("fields_changed", len(updates)),
		)
	}
	return result, nil
}
