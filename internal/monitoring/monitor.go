// Package monitoring tracks error and run history in bounded in-memory
// windows and derives a health snapshot the serve surface and the alerter
// read. Persistence is optional and goes through the Ledger port.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enviroquery/aqroute/internal/routing"
	"github.com/enviroquery/aqroute/internal/taxonomy"
)

// DefaultWindowSize bounds each in-memory history window.
const DefaultWindowSize = 1000

// ErrorRecord is one classified failure observed by the pipeline.
type ErrorRecord struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      taxonomy.Kind     `json:"kind"`
	Severity  taxonomy.Severity `json:"severity"`
	Question  string            `json:"question"`
	Message   string            `json:"message"`
	Context   map[string]any    `json:"context,omitempty"`
}

// RecoveryAttempt is one repair attempt tied to an ErrorRecord.
type RecoveryAttempt struct {
	ErrorID   string            `json:"error_id"`
	Strategy  taxonomy.Strategy `json:"strategy"`
	Success   bool              `json:"success"`
	Timestamp time.Time         `json:"timestamp"`
}

// RunRecord is one completed question, whichever route answered it.
type RunRecord struct {
	Route     routing.Route `json:"route"`
	Success   bool          `json:"success"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
}

// Ledger persists monitor events. A nil Ledger keeps the monitor
// memory-only; persistence failures are logged and never block recording.
type Ledger interface {
	AppendError(ctx context.Context, rec ErrorRecord) error
	AppendRecovery(ctx context.Context, att RecoveryAttempt) error
}

// Monitor accumulates bounded windows of errors, recoveries, and runs.
// Safe for concurrent use.
type Monitor struct {
	mu         sync.Mutex
	windowSize int
	errors     []ErrorRecord
	recoveries []RecoveryAttempt
	runs       []RunRecord
	ledger     Ledger
	now        func() time.Time
}

// NewMonitor creates a Monitor with the given window size (<=0 means
// DefaultWindowSize). ledger may be nil.
func NewMonitor(windowSize int, ledger Ledger) *Monitor {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Monitor{
		windowSize: windowSize,
		ledger:     ledger,
		now:        time.Now,
	}
}

// RecordError registers a classified failure and returns the stored record.
func (m *Monitor) RecordError(ctx context.Context, question string, cls taxonomy.Classification, message string, details map[string]any) ErrorRecord {
	rec := ErrorRecord{
		ID:        uuid.NewString(),
		Timestamp: m.now().UTC(),
		Kind:      cls.Kind,
		Severity:  cls.Severity,
		Question:  question,
		Message:   message,
		Context:   details,
	}

	m.mu.Lock()
	m.errors = appendBounded(m.errors, rec, m.windowSize)
	m.mu.Unlock()

	zap.L().Warn("monitoring: error recorded",
		zap.String("id", rec.ID),
		zap.String("kind", string(rec.Kind)),
		zap.String("severity", string(rec.Severity)),
	)

	if m.ledger != nil {
		if err := m.ledger.AppendError(ctx, rec); err != nil {
			zap.L().Error("monitoring: persist error record", zap.Error(err))
		}
	}
	return rec
}

// RecordRecovery registers one repair attempt for a previously recorded error.
func (m *Monitor) RecordRecovery(ctx context.Context, errorID string, strategy taxonomy.Strategy, success bool) {
	att := RecoveryAttempt{
		ErrorID:   errorID,
		Strategy:  strategy,
		Success:   success,
		Timestamp: m.now().UTC(),
	}

	m.mu.Lock()
	m.recoveries = appendBounded(m.recoveries, att, m.windowSize)
	m.mu.Unlock()

	if m.ledger != nil {
		if err := m.ledger.AppendRecovery(ctx, att); err != nil {
			zap.L().Error("monitoring: persist recovery attempt", zap.Error(err))
		}
	}
}

// RecordRun registers one finished question.
func (m *Monitor) RecordRun(route routing.Route, success bool, latency time.Duration) {
	run := RunRecord{
		Route:     route,
		Success:   success,
		Latency:   latency,
		Timestamp: m.now().UTC(),
	}

	m.mu.Lock()
	m.runs = appendBounded(m.runs, run, m.windowSize)
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time view over the monitor windows.
type MetricsSnapshot struct {
	RunTotal   int     `json:"run_total"`
	RunSuccess int     `json:"run_success"`
	ErrorRate  float64 `json:"error_rate"`

	ErrorTotal int            `json:"error_total"`
	ByKind     map[string]int `json:"by_kind"`
	BySeverity map[string]int `json:"by_severity"`

	RecoveryAttempts int     `json:"recovery_attempts"`
	RecoveryRate     float64 `json:"recovery_rate"`

	SQLRouteRate   float64 `json:"sql_route_rate"`
	AvgLatencySecs float64 `json:"avg_latency_secs"`

	HealthScore float64   `json:"health_score"`
	CollectedAt time.Time `json:"collected_at"`
}

// Snapshot computes the current metrics view.
func (m *Monitor) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &MetricsSnapshot{
		RunTotal:    len(m.runs),
		ErrorTotal:  len(m.errors),
		ByKind:      make(map[string]int),
		BySeverity:  make(map[string]int),
		CollectedAt: m.now().UTC(),
	}

	var sqlRuns int
	var totalLatency time.Duration
	for _, r := range m.runs {
		if r.Success {
			snap.RunSuccess++
		}
		if r.Route == routing.RouteSQL {
			sqlRuns++
		}
		totalLatency += r.Latency
	}
	if snap.RunTotal > 0 {
		snap.ErrorRate = float64(snap.RunTotal-snap.RunSuccess) / float64(snap.RunTotal)
		snap.SQLRouteRate = float64(sqlRuns) / float64(snap.RunTotal)
		snap.AvgLatencySecs = totalLatency.Seconds() / float64(snap.RunTotal)
	}

	for _, e := range m.errors {
		snap.ByKind[string(e.Kind)]++
		snap.BySeverity[string(e.Severity)]++
	}

	var recovered int
	for _, a := range m.recoveries {
		snap.RecoveryAttempts++
		if a.Success {
			recovered++
		}
	}
	if snap.RecoveryAttempts > 0 {
		snap.RecoveryRate = float64(recovered) / float64(snap.RecoveryAttempts)
	}

	snap.HealthScore = healthScore(snap)
	return snap
}

// healthScore folds the snapshot into a 0-100 score. Failed runs weigh
// most, then the share of questions pushed to the alternate path, then
// latency relative to a 20s budget.
func healthScore(snap *MetricsSnapshot) float64 {
	score := 100.0
	score -= 40 * snap.ErrorRate
	score -= 30 * snap.SQLRouteRate
	latencyLoad := snap.AvgLatencySecs / 20
	if latencyLoad > 1 {
		latencyLoad = 1
	}
	score -= 30 * latencyLoad

	if score < 0 {
		score = 0
	}
	return score
}

func appendBounded[T any](window []T, item T, size int) []T {
	window = append(window, item)
	if len(window) > size {
		window = window[len(window)-size:]
	}
	return window
}
