package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-cleanse/internal/model"
	"github.com/sells-group/crm-cleanse/internal/pipeline"
)

var (
	mergeRecordID    string
	mergeCompanyJSON string
	mergeCompanyFile string
	mergeApply       bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Run the duplicate-detection and merge pipeline for one record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		company, err := loadCompany(mergeCompanyJSON, mergeCompanyFile)
		if err != nil {
			return err
		}

		env, err := initCLIEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		started := time.Now()
		result, runErr := env.Pipeline.Merge(ctx, pipeline.MergeRequest{
			Company:     company,
			RecordID:    mergeRecordID,
			Rules:       env.Rules.Merge(model.RuleSet{}),
			MergeRecord: mergeApply,
		})

		var cost, tokens int
		var usd float64
		if result != nil {
			cost = result.CreditCost
			tokens = result.Usage.Total.TotalTokens
			usd = result.Usage.Total.CostUSD
		}
		saveRun(ctx, env.Store, model.RunKindMerge, mergeRecordID, started, result, cost, tokens, usd, runErr)

		if runErr != nil {
			return eris.Wrap(runErr, "merge pipeline")
		}

		zap.L().Info("merge complete",
			zap.String("record_id", mergeRecordID),
			zap.Bool("duplicates_found", result.DuplicatesFound),
			zap.Int("credit_cost", result.CreditCost),
			zap.Bool("record_merged", result.RecordMerged),
		)
		return printResult(result)
	},
}

func init() {
	mergeCmd.Flags().StringVar(&mergeRecordID, "record-id", "", "CRM record id (required)")
	mergeCmd.Flags().StringVar(&mergeCompanyJSON, "company", "", "company record as inline JSON")
	mergeCmd.Flags().StringVar(&mergeCompanyFile, "file", "", "path to a JSON file holding the company record")
	mergeCmd.Flags().BoolVar(&mergeApply, "apply", false, "apply the merge to the CRM instead of only reporting it")
	_ = mergeCmd.MarkFlagRequired("record-id")
	rootCmd.AddCommand(mergeCmd)
}
