package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/enviroquery/aqroute/internal/monitoring"
	"github.com/enviroquery/aqroute/internal/routing"
	"github.com/enviroquery/aqroute/internal/taxonomy"
)

// Pool is the subset of pgxpool.Pool the ledger needs. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresLedger implements Ledger using pgxpool.
type PostgresLedger struct {
	pool Pool
}

// NewPostgres creates a PostgresLedger with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresLedger, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresLedger{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS route_decisions (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	question   TEXT NOT NULL,
	route      TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	matched    TEXT,
	reason     TEXT,
	decided_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS error_records (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	severity   TEXT NOT NULL,
	question   TEXT,
	message    TEXT,
	context    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS recovery_attempts (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	error_id   TEXT NOT NULL REFERENCES error_records(id),
	strategy   TEXT NOT NULL,
	success    BOOLEAN NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_route_decisions_decided_at ON route_decisions(decided_at);
CREATE INDEX IF NOT EXISTS idx_error_records_created_at ON error_records(created_at);
CREATE INDEX IF NOT EXISTS idx_recovery_attempts_error_id ON recovery_attempts(error_id);
`

func (s *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresLedger) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresLedger) AppendDecision(ctx context.Context, question string, d routing.Decision) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO route_decisions (id, question, route, confidence, matched, reason, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), question, string(d.Route), d.Confidence,
		strings.Join(d.MatchedKeywords, ","), d.Reason, d.DecidedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert decision")
}

func (s *PostgresLedger) AppendError(ctx context.Context, rec monitoring.ErrorRecord) error {
	var ctxJSON []byte
	if rec.Context != nil {
		var err error
		ctxJSON, err = json.Marshal(rec.Context)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal error context")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO error_records (id, kind, severity, question, message, context, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, string(rec.Kind), string(rec.Severity), rec.Question, rec.Message,
		ctxJSON, rec.Timestamp.UTC(),
	)
	return eris.Wrap(err, "postgres: insert error record")
}

func (s *PostgresLedger) AppendRecovery(ctx context.Context, att monitoring.RecoveryAttempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recovery_attempts (id, error_id, strategy, success, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), att.ErrorID, string(att.Strategy), att.Success, att.Timestamp.UTC(),
	)
	return eris.Wrap(err, "postgres: insert recovery attempt")
}

func (s *PostgresLedger) RecentDecisions(ctx context.Context, limit int) ([]DecisionEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, question, route, confidence, matched, reason, decided_at
		 FROM route_decisions ORDER BY decided_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list decisions")
	}
	defer rows.Close()

	var entries []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var route, matched string
		if err := rows.Scan(&e.ID, &e.Question, &route, &e.Decision.Confidence,
			&matched, &e.Decision.Reason, &e.Decision.DecidedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		e.Decision.Route = routing.Route(route)
		if matched != "" {
			e.Decision.MatchedKeywords = strings.Split(matched, ",")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list decisions iterate")
}

func (s *PostgresLedger) RecentErrors(ctx context.Context, limit int) ([]monitoring.ErrorRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, severity, question, message, context, created_at
		 FROM error_records ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list errors")
	}
	defer rows.Close()

	var records []monitoring.ErrorRecord
	for rows.Next() {
		var rec monitoring.ErrorRecord
		var kind, severity string
		var ctxJSON []byte
		if err := rows.Scan(&rec.ID, &kind, &severity, &rec.Question, &rec.Message,
			&ctxJSON, &rec.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan error record")
		}
		rec.Kind = taxonomy.Kind(kind)
		rec.Severity = taxonomy.Severity(severity)
		if len(ctxJSON) > 0 {
			if err := json.Unmarshal(ctxJSON, &rec.Context); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal error context")
			}
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list errors iterate")
}
