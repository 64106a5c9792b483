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
	cleanRecordID    string
	cleanCompanyJSON string
	cleanCompanyFile string
	cleanApply       bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean the fields of one company record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		company, err := loadCompany(cleanCompanyJSON, cleanCompanyFile)
		if err != nil {
			return err
		}

		env, err := initCLIEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		started := time.Now()
		result, runErr := env.Pipeline.Clean(ctx, pipeline.CleanRequest{
			Company:      company,
			RecordID:     cleanRecordID,
			Rules:        env.Rules.Merge(model.RuleSet{}),
			UpdateRecord: cleanApply,
		})

		var cost, tokens int
		var usd float64
		if result != nil {
			cost = result.CreditCost
			tokens = result.Usage.Total.TotalTokens
			usd = result.Usage.Total.CostUSD
		}
		saveRun(ctx, env.Store, model.RunKindClean, cleanRecordID, started, result, cost, tokens, usd, runErr)

		if runErr != nil {
			return eris.Wrap(runErr, "clean pipeline")
		}

		zap.L().Info("clean complete",
			zap.String("record_id", cleanRecordID),
			zap.Int("fields", len(result.Fields)),
			zap.Bool("record_updated", result.RecordUpdated),
		)
		return printResult(result)
	},
}

func init() {
	cleanCmd.Flags().StringVar(&cleanRecordID, "record-id", "", "CRM record id (required)")
	cleanCmd.Flags().StringVar(&cleanCompanyJSON, "company", "", "company record as inline JSON")
	cleanCmd.Flags().StringVar(&cleanCompanyFile, "file", "", "path to a JSON file holding the company record")
	cleanCmd.Flags().BoolVar(&cleanApply, "apply", false, "write cleaned values back to the CRM")
	_ = cleanCmd.MarkFlagRequired("record-id")
	rootCmd.AddCommand(cleanCmd)
}
