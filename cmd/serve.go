package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-cleanse/internal/config"
	"github.com/sells-group/crm-cleanse/internal/cost"
	"github.com/sells-group/crm-cleanse/internal/pipeline"
	"github.com/sells-group/crm-cleanse/internal/server"
	anthropicpkg "github.com/sells-group/crm-cleanse/pkg/anthropic"
	"github.com/sells-group/crm-cleanse/pkg/hubspot"
	"github.com/sells-group/crm-cleanse/pkg/metering"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cleanse HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		rules, err := config.LoadRuleDefaults(cfg.Rules.Path)
		if err != nil {
			return err
		}

		var meter metering.Client
		if cfg.Metering.BaseURL != "" {
			meter = metering.NewClient(cfg.Metering.BaseURL, cfg.Metering.Secret)
		} else {
			zap.L().Warn("metering disabled, requests are unauthenticated and unbilled")
		}

		ai := anthropicpkg.NewClient(cfg.Anthropic.Key)
		calc := cost.NewCalculator(cfg.Pricing)

		srv := server.New(server.Options{
			NewRunner: func(crm hubspot.Client) server.Runner {
				return pipeline.New(ai, crm, calc, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
			},
			Meter:   meter,
			Runs:    st,
			Rules:   rules,
			CRMOpts: crmOptions(),
			Origins: cfg.Server.AllowedOrigins,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = httpSrv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
