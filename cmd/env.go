package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/enviroquery/aqroute/internal/fallback"
	"github.com/enviroquery/aqroute/internal/geo"
	"github.com/enviroquery/aqroute/internal/monitoring"
	"github.com/enviroquery/aqroute/internal/orchestrator"
	"github.com/enviroquery/aqroute/internal/routing"
	"github.com/enviroquery/aqroute/internal/store"
	"github.com/enviroquery/aqroute/internal/timeparse"
	"github.com/enviroquery/aqroute/pkg/llm"
	"github.com/enviroquery/aqroute/pkg/reportapi"
)

// env wires the full pipeline for the ask and serve commands.
type env struct {
	ledger  store.Ledger
	monitor *monitoring.Monitor
	alerter *monitoring.Alerter
	report  *reportapi.HTTPClient
	orch    *orchestrator.Orchestrator
}

func (e *env) Close() {
	if e.ledger != nil {
		if err := e.ledger.Close(); err != nil {
			zap.L().Warn("ledger close failed", zap.Error(err))
		}
	}
}

func initEnv(ctx context.Context, mode string) (*env, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	if cfg.Geo.CatalogPath == "" {
		return nil, eris.New("geo.catalog_path is required")
	}

	catalog, err := geo.LoadCatalog(cfg.Geo.CatalogPath)
	if err != nil {
		return nil, err
	}
	keywords, err := routing.LoadKeywords(cfg.Routing.KeywordsPath)
	if err != nil {
		return nil, err
	}
	patterns, err := timeparse.LoadPatterns(cfg.Pipeline.PatternsPath)
	if err != nil {
		return nil, err
	}

	ledger, err := store.Open(ctx, cfg.Ledger)
	if err != nil {
		return nil, err
	}
	if err := ledger.Migrate(ctx); err != nil {
		ledger.Close()
		return nil, err
	}

	monitor := monitoring.NewMonitor(cfg.Monitoring.WindowSize, ledger)
	repair := newRepairManager()

	times, err := timeparse.NewResolver(patterns, repair)
	if err != nil {
		ledger.Close()
		return nil, err
	}

	report := reportapi.New(reportapi.Config{
		BaseURL:          cfg.Report.BaseURL,
		Username:         cfg.Report.Username,
		Password:         cfg.Report.Password,
		Timeout:          time.Duration(cfg.Report.TimeoutSecs) * time.Second,
		TokenTTL:         time.Duration(cfg.Report.TokenTTLMins) * time.Minute,
		RatePerSec:       cfg.Report.RatePerSec,
		RateBurst:        cfg.Report.RateBurst,
		BreakerThreshold: cfg.Report.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Report.BreakerCooldown) * time.Second,
	})

	orch := orchestrator.New(orchestrator.Deps{
		Geo:     geo.NewResolver(catalog, cfg.Geo.MaxResults),
		Times:   times,
		Tools:   routing.NewToolSelector(keywords),
		Router:  routing.NewEngine(keywords, ledger),
		Report:  report,
		Repair:  repair,
		Monitor: monitor,
	}, orchestrator.Config{
		ComplexityThreshold: cfg.Pipeline.ComplexityThreshold,
		DispatchConcurrency: cfg.Pipeline.DispatchConcurrency,
		CallTimeout:         time.Duration(cfg.Pipeline.CallTimeoutSecs) * time.Second,
		RecoveryRetryCap:    cfg.Pipeline.RecoveryRetryCap,
		ConfidenceFloor:     cfg.Geo.ConfidenceFloor,
	})

	return &env{
		ledger:  ledger,
		monitor: monitor,
		alerter: monitoring.NewAlerter(cfg.Monitoring),
		report:  report,
		orch:    orch,
	}, nil
}

// newRepairManager builds the model-assisted repair path. Without a model
// key every repair point degrades to route_to_sql, which the manager
// handles itself.
func newRepairManager() *fallback.Manager {
	var client llm.Client
	if cfg.Model.Key != "" {
		client = llm.NewClient(llm.Options{
			APIKey:    cfg.Model.Key,
			Model:     cfg.Model.Model,
			MaxTokens: cfg.Model.MaxTokens,
		})
	} else {
		zap.L().Warn("model key not configured, repair path disabled")
	}

	return fallback.NewManager(client, fallback.Config{
		Timeout:     time.Duration(cfg.Fallback.TimeoutSecs) * time.Second,
		MaxAttempts: cfg.Fallback.MaxAttempts,
		Disabled:    disabledSituations(cfg.Fallback.Disabled),
	})
}

func disabledSituations(names []string) map[fallback.Situation]bool {
	if len(names) == 0 {
		return nil
	}
	out := make(map[fallback.Situation]bool, len(names))
	for _, name := range names {
		out[fallback.Situation(name)] = true
	}
	return out
}
