// Package store persists the routing and error ledger. Two backends exist:
// SQLite for single-node deployments and Postgres for shared ones. Both
// satisfy the consumer-side ports in routing and monitoring.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/enviroquery/aqroute/internal/config"
	"github.com/enviroquery/aqroute/internal/monitoring"
	"github.com/enviroquery/aqroute/internal/routing"
)

// DecisionEntry is one persisted routing decision.
type DecisionEntry struct {
	ID       string           `json:"id"`
	Question string           `json:"question"`
	Decision routing.Decision `json:"decision"`
}

// Ledger is the full persistence surface. It embeds the write ports the
// routing engine and the monitor use, plus read-back for inspection.
type Ledger interface {
	AppendDecision(ctx context.Context, question string, d routing.Decision) error
	AppendError(ctx context.Context, rec monitoring.ErrorRecord) error
	AppendRecovery(ctx context.Context, att monitoring.RecoveryAttempt) error

	RecentDecisions(ctx context.Context, limit int) ([]DecisionEntry, error)
	RecentErrors(ctx context.Context, limit int) ([]monitoring.ErrorRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the ledger backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.LedgerConfig) (Ledger, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = "aqroute.db"
		}
		return NewSQLite(path)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, eris.New("store: postgres driver requires ledger.database_url")
		}
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown ledger driver %q", cfg.Driver)
	}
}
