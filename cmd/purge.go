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
	purgeRecordID    string
	purgeCompanyJSON string
	purgeCompanyFile string
	purgeApply       bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Classify one company record as junk or a keeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		company, err := loadCompany(purgeCompanyJSON, purgeCompanyFile)
		if err != nil {
			return err
		}

		env, err := initCLIEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		started := time.Now()
		result, runErr := env.Pipeline.Purge(ctx, pipeline.PurgeRequest{
			Company:       company,
			RecordID:      purgeRecordID,
			Rules:         env.Rules.Merge(model.RuleSet{}),
			ArchiveRecord: purgeApply,
		})

		var cost, tokens int
		var usd float64
		if result != nil {
			cost = result.CreditCost
			tokens = result.Usage.Total.TotalTokens
			usd = result.Usage.Total.CostUSD
		}
		saveRun(ctx, env.Store, model.RunKindPurge, purgeRecordID, started, result, cost, tokens, usd, runErr)

		if runErr != nil {
			return eris.Wrap(runErr, "purge pipeline")
		}

		zap.L().Info("purge complete",
			zap.String("record_id", purgeRecordID),
			zap.String("classification", string(result.Classification.Classification)),
			zap.Bool("record_archived", result.RecordArchived),
		)
		return printResult(result)
	},
}

func init() {
	purgeCmd.Flags().StringVar(&purgeRecordID, "record-id", "", "CRM record id (required)")
	purgeCmd.Flags().StringVar(&purgeCompanyJSON, "company", "", "company record as inline JSON")
	purgeCmd.Flags().StringVar(&purgeCompanyFile, "file", "", "path to a JSON file holding the company record")
	purgeCmd.Flags().BoolVar(&purgeApply, "apply", false, "archive the record when classified REMOVE")
	_ = purgeCmd.MarkFlagRequired("record-id")
	rootCmd.AddCommand(purgeCmd)
}
