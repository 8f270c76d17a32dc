package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/crm-migrate/internal/mapping"
	"github.com/sells-group/crm-migrate/internal/migrate"
	"github.com/sells-group/crm-migrate/internal/resilience"
	"github.com/sells-group/crm-migrate/internal/statestore"
	"github.com/sells-group/crm-migrate/pkg/ghl"
)

// initStore opens the mapping state backend named by the config.
func initStore(ctx context.Context) (statestore.Store, error) {
	st, err := statestore.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open state store")
	}
	return st, nil
}

// initClients builds the child and master API clients with shared rate and
// retry settings.
func initClients() (child, master ghl.Client) {
	opts := func(label string) []ghl.Option {
		return []ghl.Option{
			ghl.WithBaseURL(cfg.Accounts.BaseURL),
			ghl.WithRequestRate(rate.Limit(cfg.API.RequestsPerSecond), cfg.API.Burst),
			ghl.WithRetryConfig(resilience.RetryConfig{MaxAttempts: cfg.API.MaxRetries + 1}),
			ghl.WithAccountLabel(label),
		}
	}
	child = ghl.New(cfg.Accounts.ChildAPIKey, opts("child")...)
	master = ghl.New(cfg.Accounts.MasterAPIKey, opts("master")...)
	return child, master
}

// initOrchestrator wires clients, synonyms, and options into an orchestrator
// ready to run or plan.
func initOrchestrator(st statestore.Store) (*migrate.Orchestrator, error) {
	syn, err := mapping.LoadSynonyms(cfg.Mapping.SynonymsFile)
	if err != nil {
		return nil, eris.Wrap(err, "load synonyms")
	}

	child, master := initClients()

	return migrate.New(child, master, st, migrate.Options{
		BatchSize:         cfg.Migration.BatchSize,
		ItemDelay:         time.Duration(cfg.Migration.ItemDelaySecs * float64(time.Second)),
		TestMode:          cfg.Migration.TestMode,
		TestLimit:         cfg.Migration.TestLimit,
		AuditTag:          cfg.Migration.AuditTag,
		PageSize:          cfg.API.PageSize,
		FieldThreshold:    cfg.Mapping.FieldThreshold,
		PipelineThreshold: cfg.Mapping.PipelineThreshold,
		Synonyms:          syn,
	}), nil
}
