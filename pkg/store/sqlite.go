// Package store mirrors experiment history into SQLite for querying
// outside the checkpoint files.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/cpunion/heirloom/pkg/ledger"
	"github.com/cpunion/heirloom/pkg/types"
)

// History implements ledger.HistorySink and simulation.OutcomeSink.
type History struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens or creates the database at path.
func Open(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return &History{db: db, path: path}, nil
}

func (h *History) Path() string { return h.path }

func (h *History) Close() error { return h.db.Close() }

// AppendAllocation records one ledger history entry.
func (h *History) AppendAllocation(e ledger.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.db.Exec(
		`INSERT INTO allocations (agent, resource, amount, description, entry_type, at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Agent, e.Resource, e.Amount, e.Description, e.Type, e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert allocation: %w", err)
	}
	return nil
}

// AppendOutcome records an outcome and its signals. A previous outcome for
// the same event is replaced.
func (h *History) AppendOutcome(o types.Outcome) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM outcomes WHERE event_id = ?`, o.EventID); err != nil {
		return fmt.Errorf("failed to replace outcome: %w", err)
	}
	impact, err := json.Marshal(o.Impact)
	if err != nil {
		return fmt.Errorf("failed to encode impact: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO outcomes (id, event_id, scenario, period, sub_step, decision, result, signal_source,
			conflicts, alliances, attempts, duration_ms, impact, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.EventID, o.Scenario, o.Period, o.SubStep, o.Decision, o.Result, string(o.Signals.Source),
		o.Conflicts, o.Alliances, o.Attempts, o.DurationMS, string(impact), o.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}

	for _, row := range signalRows(o.Signals) {
		involved, _ := json.Marshal(row.involved)
		_, err = tx.Exec(
			`INSERT INTO signals (outcome_id, category, kind, source, target, involved, direction, confidence) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, row.category, row.kind, row.source, row.target, string(involved), row.direction, row.confidence,
		)
		if err != nil {
			return fmt.Errorf("failed to insert signal: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit outcome: %w", err)
	}
	return nil
}

type signalRow struct {
	category   string
	kind       string
	source     string
	target     string
	involved   []string
	direction  string
	confidence float64
}

func signalRows(s types.Signals) []signalRow {
	var rows []signalRow
	for _, c := range s.Conflicts {
		rows = append(rows, signalRow{category: "conflict", kind: c.Type, involved: c.Involved, confidence: c.Confidence})
	}
	for _, a := range s.Alliances {
		rows = append(rows, signalRow{category: "alliance", kind: a.Type, involved: a.Involved, confidence: a.Confidence})
	}
	for _, t := range s.Trust {
		rows = append(rows, signalRow{category: "trust", source: t.Source, target: t.Target, direction: string(t.Direction), confidence: t.Confidence})
	}
	for _, b := range s.Behaviors {
		rows = append(rows, signalRow{category: "behavior", kind: b.Type, source: b.Agent, confidence: b.Confidence})
	}
	return rows
}

// OutcomeRow is a stored outcome without its transcript.
type OutcomeRow struct {
	ID           string
	EventID      string
	Scenario     string
	Period       int
	SubStep      int
	Decision     string
	SignalSource string
	Conflicts    int
	Alliances    int
	Attempts     int
}

// Outcomes returns stored outcomes ordered by position in the timeline.
func (h *History) Outcomes(ctx context.Context) ([]OutcomeRow, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, event_id, scenario, period, sub_step, COALESCE(decision, ''), COALESCE(signal_source, ''),
			conflicts, alliances, attempts
		FROM outcomes ORDER BY period, sub_step, event_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []OutcomeRow
	for rows.Next() {
		var r OutcomeRow
		if err := rows.Scan(&r.ID, &r.EventID, &r.Scenario, &r.Period, &r.SubStep, &r.Decision, &r.SignalSource,
			&r.Conflicts, &r.Alliances, &r.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SignalCounts returns the number of stored signals per category.
func (h *History) SignalCounts(ctx context.Context) (map[string]int, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM signals GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("failed to scan signal count: %w", err)
		}
		out[cat] = n
	}
	return out, rows.Err()
}

// AllocationTotals sums allocation amounts per agent and resource for one
// entry type.
func (h *History) AllocationTotals(ctx context.Context, entryType string) (map[string]map[string]float64, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT agent, resource, SUM(amount) FROM allocations WHERE entry_type = ? GROUP BY agent, resource`, entryType)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]float64)
	for rows.Next() {
		var agent, resource string
		var sum float64
		if err := rows.Scan(&agent, &resource, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan allocation total: %w", err)
		}
		if out[agent] == nil {
			out[agent] = make(map[string]float64)
		}
		out[agent][resource] = sum
	}
	return out, rows.Err()
}
