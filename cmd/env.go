package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-cleanse/internal/config"
	"github.com/sells-group/crm-cleanse/internal/cost"
	"github.com/sells-group/crm-cleanse/internal/pipeline"
	"github.com/sells-group/crm-cleanse/internal/store"
	anthropicpkg "github.com/sells-group/crm-cleanse/pkg/anthropic"
	"github.com/sells-group/crm-cleanse/pkg/hubspot"
)

// cliEnv holds the initialized store, rules, and pipeline used by the
// one-off merge/clean/purge/batch commands.
type cliEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Rules    *config.RuleDefaults
}

// Close releases resources held by the environment.
func (e *cliEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initCLIEnv validates the config for CLI use, opens the run store, and
// builds a pipeline bound to the configured HubSpot token.
func initCLIEnv(ctx context.Context) (*cliEnv, error) {
	if err := cfg.Validate("cli"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rules, err := config.LoadRuleDefaults(cfg.Rules.Path)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	p := pipeline.New(
		anthropicpkg.NewClient(cfg.Anthropic.Key),
		hubspot.NewClient(cfg.HubSpot.Token, crmOptions()...),
		cost.NewCalculator(cfg.Pricing),
		cfg.Anthropic.Model,
		cfg.Anthropic.MaxTokens,
	)

	return &cliEnv{Store: st, Pipeline: p, Rules: rules}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "cleanse.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// crmOptions builds the transport tuning shared by every HubSpot client.
func crmOptions() []hubspot.Option {
	var opts []hubspot.Option
	if cfg.HubSpot.BaseURL != "" {
		opts = append(opts, hubspot.WithBaseURL(cfg.HubSpot.BaseURL))
	}
	if cfg.HubSpot.RatePerSecond > 0 {
		opts = append(opts, hubspot.WithRateLimit(cfg.HubSpot.RatePerSecond))
	}
	return opts
}
