package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/enviroquery/aqroute/internal/monitoring"
	"github.com/enviroquery/aqroute/internal/routing"
	"github.com/enviroquery/aqroute/internal/taxonomy"
)

// SQLiteLedger implements Ledger using modernc.org/sqlite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteLedger{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS route_decisions (
	id         TEXT PRIMARY KEY,
	question   TEXT NOT NULL,
	route      TEXT NOT NULL,
	confidence REAL NOT NULL,
	matched    TEXT,
	reason     TEXT,
	decided_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS error_records (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	severity   TEXT NOT NULL,
	question   TEXT,
	message    TEXT,
	context    TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS recovery_attempts (
	id         TEXT PRIMARY KEY,
	error_id   TEXT NOT NULL REFERENCES error_records(id),
	strategy   TEXT NOT NULL,
	success    INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_route_decisions_decided_at ON route_decisions(decided_at);
CREATE INDEX IF NOT EXISTS idx_error_records_created_at ON error_records(created_at);
CREATE INDEX IF NOT EXISTS idx_recovery_attempts_error_id ON recovery_attempts(error_id);
`

func (s *SQLiteLedger) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

func (s *SQLiteLedger) AppendDecision(ctx context.Context, question string, d routing.Decision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO route_decisions (id, question, route, confidence, matched, reason, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), question, string(d.Route), d.Confidence,
		strings.Join(d.MatchedKeywords, ","), d.Reason, d.DecidedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert decision")
}

func (s *SQLiteLedger) AppendError(ctx context.Context, rec monitoring.ErrorRecord) error {
	var ctxJSON []byte
	if rec.Context != nil {
		var err error
		ctxJSON, err = json.Marshal(rec.Context)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal error context")
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_records (id, kind, severity, question, message, context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), string(rec.Severity), rec.Question, rec.Message,
		string(ctxJSON), rec.Timestamp.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert error record")
}

func (s *SQLiteLedger) AppendRecovery(ctx context.Context, att monitoring.RecoveryAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recovery_attempts (id, error_id, strategy, success, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), att.ErrorID, string(att.Strategy), boolToInt(att.Success), att.Timestamp.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert recovery attempt")
}

func (s *SQLiteLedger) RecentDecisions(ctx context.Context, limit int) ([]DecisionEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, route, confidence, matched, reason, decided_at
		 FROM route_decisions ORDER BY decided_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decisions")
	}
	defer rows.Close()

	var entries []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var route, matched string
		var decidedAt time.Time
		if err := rows.Scan(&e.ID, &e.Question, &route, &e.Decision.Confidence,
			&matched, &e.Decision.Reason, &decidedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		e.Decision.Route = routing.Route(route)
		e.Decision.DecidedAt = decidedAt
		if matched != "" {
			e.Decision.MatchedKeywords = strings.Split(matched, ",")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list decisions iterate")
}

func (s *SQLiteLedger) RecentErrors(ctx context.Context, limit int) ([]monitoring.ErrorRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, severity, question, message, context, created_at
		 FROM error_records ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list errors")
	}
	defer rows.Close()

	var records []monitoring.ErrorRecord
	for rows.Next() {
		var rec monitoring.ErrorRecord
		var kind, severity string
		var ctxJSON sql.NullString
		if err := rows.Scan(&rec.ID, &kind, &severity, &rec.Question, &rec.Message,
			&ctxJSON, &rec.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan error record")
		}
		rec.Kind = taxonomy.Kind(kind)
		rec.Severity = taxonomy.Severity(severity)
		if ctxJSON.Valid && ctxJSON.String != "" {
			if err := json.Unmarshal([]byte(ctxJSON.String), &rec.Context); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal error context")
			}
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list errors iterate")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
