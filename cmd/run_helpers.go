package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-cleanse/internal/model"
	"github.com/sells-group/crm-cleanse/internal/store"
)

// loadCompany reads the company record from an inline JSON flag or a file.
// Exactly one of the two must be set.
func loadCompany(inline, path string) (model.CompanyRecord, error) {
	var data []byte
	switch {
	case inline != "" && path != "":
		return nil, eris.New("use either --company or --file, not both")
	case inline != "":
		data = []byte(inline)
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "read company file %s", path)
		}
		data = b
	default:
		return nil, eris.New("one of --company or --file is required")
	}

	var company model.CompanyRecord
	if err := json.Unmarshal(data, &company); err != nil {
		return nil, eris.Wrap(err, "parse company JSON")
	}
	if err := company.Validate(); err != nil {
		return nil, err
	}
	return company, nil
}

func printResult(res any) error {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal result")
	}
	fmt.Println(string(out))
	return nil
}

// saveRun persists the audit-trail row for a CLI run. Failures are logged,
// never fatal; the caller already has their result on stdout.
func saveRun(ctx context.Context, st store.Store, kind model.RunKind, recordID string, started time.Time, res any, creditCost, totalTokens int, costUSD float64, runErr error) {
	run := &model.RunRecord{
		Kind:        kind,
		RecordID:    recordID,
		Status:      model.RunStatusComplete,
		CreditCost:  creditCost,
		TotalTokens: totalTokens,
		CostUSD:     costUSD,
		CreatedAt:   started,
		CompletedAt: time.Now().UTC(),
	}
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
	} else if res != nil {
		if data, err := json.Marshal(res); err == nil {
			run.Result = data
		}
	}

	if err := st.CreateRun(ctx, run); err != nil {
		zap.L().Error("persist run", zap.Error(err), zap.String("record_id", recordID))
	}
}
