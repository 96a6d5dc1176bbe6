// Package persistence provides SQLite storage for simulation runs: one row
// per run and the run's snapshots, crisis transitions, rate decisions and
// events.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/mini-economy/internal/credit"
	"github.com/talgya/mini-economy/internal/crisis"
	"github.com/talgya/mini-economy/internal/engine"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("persistence: run not found")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusHalted    = "halted"
)

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Run is one simulation run.
type Run struct {
	ID         string     `db:"id" json:"id"`
	Scenario   string     `db:"scenario" json:"scenario"`
	Seed       int64      `db:"seed" json:"seed"`
	Status     string     `db:"status" json:"status"`
	Cycles     int        `db:"cycles" json:"cycles"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	Config     string     `db:"config" json:"-"` // scenario as JSON
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Open opens or creates a SQLite database at the given path. ":memory:"
// gives a private in-memory database.
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; an in-memory database also lives on a single connection.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		scenario TEXT NOT NULL,
		seed INTEGER NOT NULL,
		status TEXT NOT NULL,
		cycles INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		config TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		run_id TEXT NOT NULL REFERENCES runs(id),
		cycle INTEGER NOT NULL,
		season TEXT NOT NULL,
		gdp TEXT NOT NULL,
		consumption TEXT NOT NULL,
		investment TEXT NOT NULL,
		government TEXT NOT NULL,
		inflation REAL NOT NULL,
		price_index REAL NOT NULL,
		unemployment REAL NOT NULL,
		employed INTEGER NOT NULL,
		mean_wage REAL NOT NULL,
		transactions INTEGER NOT NULL,
		volume TEXT NOT NULL,
		rejected INTEGER NOT NULL,
		policy_rate REAL NOT NULL,
		loans_approved INTEGER NOT NULL,
		loans_rejected INTEGER NOT NULL,
		defaults INTEGER NOT NULL,
		originated TEXT NOT NULL,
		deposits TEXT NOT NULL,
		min_solvency REAL NOT NULL,
		systemic_risk REAL NOT NULL DEFAULT 0,
		bankruptcies INTEGER NOT NULL DEFAULT 0,
		rescues INTEGER NOT NULL DEFAULT 0,
		money_supply TEXT NOT NULL,
		created TEXT NOT NULL,
		destroyed TEXT NOT NULL,
		crisis INTEGER NOT NULL,
		shock INTEGER NOT NULL,
		stimulus INTEGER NOT NULL,
		low_activity INTEGER NOT NULL,
		partial INTEGER NOT NULL,
		PRIMARY KEY (run_id, cycle)
	);

	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		cycle INTEGER NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		reason TEXT NOT NULL,
		forced INTEGER NOT NULL,
		indicators TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS decisions (
		run_id TEXT NOT NULL REFERENCES runs(id),
		cycle INTEGER NOT NULL,
		previous REAL NOT NULL,
		rule REAL NOT NULL,
		rate REAL NOT NULL,
		inflation REAL NOT NULL,
		gap REAL NOT NULL,
		"action" TEXT NOT NULL,
		clamped INTEGER NOT NULL,
		PRIMARY KEY (run_id, cycle)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		cycle INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_run ON transitions(run_id, cycle);
	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, cycle);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// BeginRun records a new run as running.
func (db *DB) BeginRun(ctx context.Context, r Run) error {
	if r.Status == "" {
		r.Status = StatusRunning
	}
	_, err := db.conn.NamedExecContext(ctx, `INSERT INTO runs
		(id, scenario, seed, status, cycles, started_at, finished_at, config)
		VALUES (:id, :scenario, :seed, :status, :cycles, :started_at, :finished_at, :config)`, r)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun marks a run finished with its final status and cycle count.
func (db *DB) FinishRun(ctx context.Context, id, status string, cycles int) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE runs SET status = ?, cycles = ?, finished_at = ? WHERE id = ?",
		status, cycles, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// GetRun loads one run.
func (db *DB) GetRun(ctx context.Context, id string) (Run, error) {
	var r Run
	err := db.conn.GetContext(ctx, &r, "SELECT * FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// Runs lists runs, newest first.
func (db *DB) Runs(ctx context.Context) ([]Run, error) {
	var runs []Run
	err := db.conn.SelectContext(ctx, &runs, "SELECT * FROM runs ORDER BY started_at DESC, id")
	return runs, err
}

// SaveLog writes the run's full record (full replace of its rows).
func (db *DB) SaveLog(ctx context.Context, runID string, log *engine.SnapshotLog) error {
	snaps := log.All()
	transitions := log.Transitions()
	decisions := log.Decisions()
	events := log.Events()

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"snapshots", "transitions", "decisions", "events"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, s := range snaps {
		row := snapshotRow{RunID: runID, Snapshot: s}
		if _, err := tx.NamedExecContext(ctx, insertSnapshot, row); err != nil {
			return fmt.Errorf("insert snapshot %d: %w", s.Cycle, err)
		}
	}
	for _, t := range transitions {
		_, err := tx.ExecContext(ctx, `INSERT INTO transitions
			(run_id, cycle, from_state, to_state, reason, forced, indicators)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, t.Cycle, t.From.String(), t.To.String(), t.Reason, t.Forced, strings.Join(t.Indicators, ","))
		if err != nil {
			return fmt.Errorf("insert transition at %d: %w", t.Cycle, err)
		}
	}
	for _, d := range decisions {
		row := decisionRow{RunID: runID, Decision: d}
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO decisions
			(run_id, cycle, previous, rule, rate, inflation, gap, "action", clamped)
			VALUES (:run_id, :cycle, :previous, :rule, :rate, :inflation, :gap, :action, :clamped)`, row); err != nil {
			return fmt.Errorf("insert decision at %d: %w", d.Cycle, err)
		}
	}
	for _, e := range events {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO events (run_id, cycle, description, category) VALUES (?, ?, ?, ?)",
			runID, e.Cycle, e.Description, e.Category); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("run saved", "run", runID, "snapshots", len(snaps), "transitions", len(transitions), "events", len(events))
	return nil
}

type snapshotRow struct {
	RunID string `db:"run_id"`
	engine.Snapshot
}

type decisionRow struct {
	RunID string `db:"run_id"`
	credit.Decision
}

var insertSnapshot = `INSERT INTO snapshots (run_id, ` + strings.Join(snapshotColumns, ", ") + `)
	VALUES (:run_id, :` + strings.Join(snapshotColumns, ", :") + `)`

var snapshotColumns = []string{
	"cycle", "season", "gdp", "consumption", "investment", "government",
	"inflation", "price_index", "unemployment", "employed", "mean_wage",
	"transactions", "volume", "rejected",
	"policy_rate", "loans_approved", "loans_rejected", "defaults", "originated", "deposits", "min_solvency",
	"systemic_risk", "bankruptcies", "rescues",
	"money_supply", "created", "destroyed",
	"crisis", "shock", "stimulus", "low_activity", "partial",
}

// Snapshots loads a run's snapshots in cycle order.
func (db *DB) Snapshots(ctx context.Context, runID string) ([]engine.Snapshot, error) {
	var out []engine.Snapshot
	err := db.conn.SelectContext(ctx, &out,
		"SELECT "+strings.Join(snapshotColumns, ", ")+" FROM snapshots WHERE run_id = ? ORDER BY cycle", runID)
	return out, err
}

// Transitions loads a run's crisis transitions in order.
func (db *DB) Transitions(ctx context.Context, runID string) ([]crisis.Transition, error) {
	var rows []struct {
		Cycle      uint64 `db:"cycle"`
		From       string `db:"from_state"`
		To         string `db:"to_state"`
		Reason     string `db:"reason"`
		Forced     bool   `db:"forced"`
		Indicators string `db:"indicators"`
	}
	err := db.conn.SelectContext(ctx, &rows,
		"SELECT cycle, from_state, to_state, reason, forced, indicators FROM transitions WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, err
	}
	out := make([]crisis.Transition, len(rows))
	for i, r := range rows {
		t := crisis.Transition{Cycle: r.Cycle, Reason: r.Reason, Forced: r.Forced}
		if err := t.From.UnmarshalText([]byte(r.From)); err != nil {
			return nil, err
		}
		if err := t.To.UnmarshalText([]byte(r.To)); err != nil {
			return nil, err
		}
		if r.Indicators != "" {
			t.Indicators = strings.Split(r.Indicators, ",")
		}
		out[i] = t
	}
	return out, nil
}

// Decisions loads a run's policy rate decisions in order.
func (db *DB) Decisions(ctx context.Context, runID string) ([]credit.Decision, error) {
	var out []credit.Decision
	err := db.conn.SelectContext(ctx, &out,
		`SELECT cycle, previous, rule, rate, inflation, gap, "action", clamped FROM decisions WHERE run_id = ? ORDER BY cycle`, runID)
	return out, err
}

// RecentEvents returns a run's most recent events, newest first.
func (db *DB) RecentEvents(ctx context.Context, runID string, limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.SelectContext(ctx, &events,
		"SELECT cycle, description, category FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?",
		runID, limit,
	)
	return events, err
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}
