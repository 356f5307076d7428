// Package ledger keeps a SQLite index of completed runs.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Get for unknown run ids.
var ErrNotFound = errors.New("run not found")

// Entry is one completed run.
type Entry struct {
	RunID         string
	CreatedAt     time.Time
	Dir           string
	Strategy      string
	Objective     string
	Direction     string
	Evaluator     string
	Seed          int64
	N             int
	NFeasible     int
	BestObjective float64 // NaN when no best exists
	ElapsedS      float64
	ConfigSHA256  string
}

// Filter narrows List results.
type Filter struct {
	Strategy  string
	Objective string
	Since     *time.Time
	Limit     int
}

// Ledger is a SQLite-backed run index.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return l, nil
}

func (l *Ledger) createTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		dir TEXT NOT NULL,
		strategy TEXT NOT NULL,
		objective TEXT NOT NULL,
		direction TEXT NOT NULL,
		evaluator TEXT,
		seed INTEGER NOT NULL,
		n INTEGER NOT NULL,
		n_feasible INTEGER NOT NULL,
		best_objective REAL,
		elapsed_s REAL NOT NULL,
		cfg_sha256 TEXT NOT NULL,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy);
	CREATE INDEX IF NOT EXISTS idx_runs_objective ON runs(objective);
	`

	_, err := l.db.Exec(query)
	return err
}

// Record inserts e. Run ids are unique; recording the same run twice fails.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	query := `
	INSERT INTO runs (
		run_id, created_at, dir, strategy, objective, direction, evaluator,
		seed, n, n_feasible, best_objective, elapsed_s, cfg_sha256
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var best sql.NullFloat64
	if !math.IsNaN(e.BestObjective) && !math.IsInf(e.BestObjective, 0) {
		best = sql.NullFloat64{Float64: e.BestObjective, Valid: true}
	}
	_, err := l.db.ExecContext(ctx, query,
		e.RunID,
		e.CreatedAt.UTC(),
		e.Dir,
		e.Strategy,
		e.Objective,
		e.Direction,
		e.Evaluator,
		e.Seed,
		e.N,
		e.NFeasible,
		best,
		e.ElapsedS,
		e.ConfigSHA256,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", e.RunID, err)
	}
	return nil
}

// Get returns the entry for runID.
func (l *Ledger) Get(ctx context.Context, runID string) (Entry, error) {
	row := l.db.QueryRowContext(ctx, selectColumns+" WHERE run_id = ?", runID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return e, err
}

// List returns entries matching filter, newest first.
func (l *Ledger) List(ctx context.Context, filter Filter) ([]Entry, error) {
	where, args := buildWhereClause(filter)
	query := selectColumns + " " + where + " ORDER BY created_at DESC, run_id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

const selectColumns = `
	SELECT
		run_id, created_at, dir, strategy, objective, direction, evaluator,
		seed, n, n_feasible, best_objective, elapsed_s, cfg_sha256
	FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e         Entry
		evaluator sql.NullString
		best      sql.NullFloat64
	)
	err := s.Scan(
		&e.RunID,
		&e.CreatedAt,
		&e.Dir,
		&e.Strategy,
		&e.Objective,
		&e.Direction,
		&evaluator,
		&e.Seed,
		&e.N,
		&e.NFeasible,
		&best,
		&e.ElapsedS,
		&e.ConfigSHA256,
	)
	if err != nil {
		return Entry{}, err
	}
	e.Evaluator = evaluator.String
	e.BestObjective = math.NaN()
	if best.Valid {
		e.BestObjective = best.Float64
	}
	return e, nil
}

func buildWhereClause(filter Filter) (string, []any) {
	var conditions []string
	var args []any

	if filter.Strategy != "" {
		conditions = append(conditions, "strategy = ?")
		args = append(args, filter.Strategy)
	}
	if filter.Objective != "" {
		conditions = append(conditions, "objective = ?")
		args = append(args, filter.Objective)
	}
	if filter.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}
