package main

import (
	"context"
	"encoding/csv"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-cleanse/internal/model"
	"github.com/sells-group/crm-cleanse/internal/pipeline"
)

var (
	batchCSV   string
	batchKind  string
	batchLimit int
	batchApply bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run a pipeline over every record in a CSV",
	Long: `Reads a CSV with a recordId column plus one column per company
property and runs the chosen pipeline on each row concurrently.

Examples:
  # Report duplicates for every row without touching the CRM
  crm-cleanse batch --csv companies.csv --kind merge

  # Clean and write back the first 50 rows
  crm-cleanse batch --csv companies.csv --kind clean --apply --limit 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rows, err := parseBatchCSV(batchCSV)
		if err != nil {
			return err
		}
		if batchLimit > 0 && batchLimit < len(rows) {
			rows = rows[:batchLimit]
		}
		if len(rows) == 0 {
			zap.L().Info("no records to process")
			return nil
		}

		env, err := initCLIEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("processing batch",
			zap.Int("records", len(rows)),
			zap.String("kind", batchKind),
			zap.Int("concurrency", cfg.Batch.MaxConcurrentRecords),
		)

		var succeeded, failed atomic.Int64

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Batch.MaxConcurrentRecords)

		for _, row := range rows {
			g.Go(func() error {
				log := zap.L().With(zap.String("record_id", row.recordID))

				cost, err := runBatchRecord(gctx, env, row)
				if err != nil {
					failed.Add(1)
					log.Error("record failed", zap.Error(err))
					return nil // don't abort the batch on individual failure
				}

				succeeded.Add(1)
				log.Info("record complete", zap.Int("credit_cost", cost))
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "batch processing")
		}

		zap.L().Info("batch complete",
			zap.Int64("succeeded", succeeded.Load()),
			zap.Int64("failed", failed.Load()),
		)
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchCSV, "csv", "", "path to the input CSV (required)")
	batchCmd.Flags().StringVar(&batchKind, "kind", "merge", "pipeline to run: merge, clean, or purge")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of rows to process (0 = all)")
	batchCmd.Flags().BoolVar(&batchApply, "apply", false, "apply changes to the CRM instead of only reporting them")
	_ = batchCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(batchCmd)
}

type batchRow struct {
	recordID string
	company  model.CompanyRecord
}

// parseBatchCSV reads rows of recordId plus property columns. The header
// names the properties; a recordId column is required.
func parseBatchCSV(path string) ([]batchRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open csv %s", path)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "parse csv")
	}
	if len(records) < 2 {
		return nil, eris.New("csv has no data rows")
	}

	header := records[0]
	idCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "recordId") {
			idCol = i
			break
		}
	}
	if idCol == -1 {
		return nil, eris.New("csv is missing a recordId column")
	}

	rows := make([]batchRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := batchRow{company: model.CompanyRecord{}}
		for i, val := range rec {
			val = strings.TrimSpace(val)
			if i == idCol {
				row.recordID = val
				continue
			}
			if val != "" {
				row.company[strings.TrimSpace(header[i])] = val
			}
		}
		if row.recordID == "" {
			return nil, eris.New("csv row is missing its recordId")
		}
		if err := row.company.Validate(); err != nil {
			return nil, eris.Wrapf(err, "csv row %s", row.recordID)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// runBatchRecord dispatches one row to the configured pipeline and persists
// its audit-trail run. It returns the credit cost of the run.
func runBatchRecord(ctx context.Context, env *cliEnv, row batchRow) (int, error) {
	rules := env.Rules.Merge(model.RuleSet{})
	started := time.Now()

	switch batchKind {
	case "merge":
		res, err := env.Pipeline.Merge(ctx, pipeline.MergeRequest{
			Company:     row.company,
			RecordID:    row.recordID,
			Rules:       rules,
			MergeRecord: batchApply,
		})
		var cost, tokens int
		var usd float64
		if res != nil {
			cost = res.CreditCost
			tokens = res.Usage.Total.TotalTokens
			usd = res.Usage.Total.CostUSD
		}
		saveRun(ctx, env.Store, model.RunKindMerge, row.recordID, started, res, cost, tokens, usd, err)
		return cost, err
	case "clean":
		res, err := env.Pipeline.Clean(ctx, pipeline.CleanRequest{
			Company:      row.company,
			RecordID:     row.recordID,
			Rules:        rules,
			UpdateRecord: batchApply,
		})
		var cost, tokens int
		var usd float64
		if res != nil {
			cost = res.CreditCost
			tokens = res.Usage.Total.TotalTokens
			usd = res.Usage.Total.CostUSD
		}
		saveRun(ctx, env.Store, model.RunKindClean, row.recordID, started, res, cost, tokens, usd, err)
		return cost, err
	case "purge":
		res, err := env.Pipeline.Purge(ctx, pipeline.PurgeRequest{
			Company:       row.company,
			RecordID:      row.recordID,
			Rules:         rules,
			ArchiveRecord: batchApply,
		})
		var cost, tokens int
		var usd float64
		if res != nil {
			cost = res.CreditCost
			tokens = res.Usage.Total.TotalTokens
			usd = res.Usage.Total.CostUSD
		}
		saveRun(ctx, env.Store, model.RunKindPurge, row.recordID, started, res, cost, tokens, usd, err)
		return cost, err
	default:
		return 0, eris.Errorf("unknown batch kind %q", batchKind)
	}
}
