// Package persistence provides SQLite-based storage of fit runs: the run
// settings, every optimizer trial, and the best run's simulated series.
// Berry populations themselves are never stored.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/berrysim/internal/engine"
	"github.com/talgya/berrysim/internal/fit"
)

// Run status values.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// ErrNotFound is returned when a run ID is unknown.
var ErrNotFound = errors.New("run not found")

// DB wraps a SQLite connection for fit-run storage.
type DB struct {
	conn *sqlx.DB
}

// Run is one stored fit.
type Run struct {
	ID             string     `json:"id"`
	Dataset        string     `json:"dataset"`
	Seed           uint64     `json:"seed"`
	Status         string     `json:"status"`
	Samples        int        `json:"samples"`
	Restarts       int        `json:"restarts"`
	MaxEvaluations int        `json:"max_evaluations"`
	Start          []float64  `json:"start"`
	Best           []float64  `json:"best,omitempty"`
	Score          *float64   `json:"score,omitempty"`
	Evaluations    int        `json:"evaluations"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// NewRun describes a fit about to start.
type NewRun struct {
	Dataset        string
	Seed           uint64
	Samples        int
	Restarts       int
	MaxEvaluations int
	Start          []float64
}

type runRow struct {
	ID             string          `db:"id"`
	Dataset        string          `db:"dataset"`
	Seed           int64           `db:"seed"`
	Status         string          `db:"status"`
	Samples        int             `db:"samples"`
	Restarts       int             `db:"restarts"`
	MaxEvaluations int             `db:"max_evaluations"`
	StartJSON      string          `db:"start_json"`
	BestJSON       sql.NullString  `db:"best_json"`
	Score          sql.NullFloat64 `db:"score"`
	Evaluations    int             `db:"evaluations"`
	Error          sql.NullString  `db:"error"`
	CreatedAt      int64           `db:"created_at"`
	FinishedAt     sql.NullInt64   `db:"finished_at"`
}

type trialRow struct {
	Restart int     `db:"restart"`
	N       int     `db:"n"`
	Score   float64 `db:"score"`
	XJSON   string  `db:"x_json"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

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
		dataset TEXT NOT NULL,
		seed INTEGER NOT NULL,
		status TEXT NOT NULL,
		samples INTEGER NOT NULL,
		restarts INTEGER NOT NULL,
		max_evaluations INTEGER NOT NULL,
		start_json TEXT NOT NULL,
		best_json TEXT,
		score REAL,
		evaluations INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS trials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		restart INTEGER NOT NULL,
		n INTEGER NOT NULL,
		score REAL NOT NULL,
		x_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS series (
		run_id TEXT NOT NULL REFERENCES runs(id),
		day INTEGER NOT NULL,
		record_json TEXT NOT NULL,
		PRIMARY KEY (run_id, day)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trials_run ON trials(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// CreateRun stores a new run in the running state and returns its ID.
func (db *DB) CreateRun(r NewRun) (string, error) {
	id := uuid.NewString()
	startJSON, err := json.Marshal(r.Start)
	if err != nil {
		return "", fmt.Errorf("encode start vector: %w", err)
	}
	_, err = db.conn.Exec(`INSERT INTO runs
		(id, dataset, seed, status, samples, restarts, max_evaluations, start_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.Dataset, int64(r.Seed), StatusRunning, r.Samples, r.Restarts,
		r.MaxEvaluations, string(startJSON), time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	slog.Debug("run created", "run", id, "dataset", r.Dataset)
	return id, nil
}

// RecordTrials appends optimizer trials to a run.
func (db *DB) RecordTrials(runID string, trials []fit.Trial) error {
	if len(trials) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO trials (run_id, restart, n, score, x_json)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range trials {
		xJSON, err := json.Marshal(t.X)
		if err != nil {
			return fmt.Errorf("encode trial %d/%d: %w", t.Restart, t.N, err)
		}
		if _, err := stmt.Exec(runID, t.Restart, t.N, t.Score, string(xJSON)); err != nil {
			return fmt.Errorf("insert trial %d/%d: %w", t.Restart, t.N, err)
		}
	}

	return tx.Commit()
}

// FinishRun marks a run finished with its best result.
func (db *DB) FinishRun(runID string, res fit.Result) error {
	bestJSON, err := json.Marshal(res.X)
	if err != nil {
		return fmt.Errorf("encode best vector: %w", err)
	}
	out, err := db.conn.Exec(`UPDATE runs
		SET status = ?, best_json = ?, score = ?, evaluations = ?, finished_at = ?
		WHERE id = ?`,
		StatusFinished, string(bestJSON), res.Score, res.Evaluations, time.Now().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if err := expectOne(out); err != nil {
		return err
	}
	return db.SaveMeta("last_run", runID)
}

// FailRun marks a run failed with the error that stopped it.
func (db *DB) FailRun(runID string, cause error) error {
	out, err := db.conn.Exec(`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		StatusFailed, cause.Error(), time.Now().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return expectOne(out)
}

// SaveSeries stores the full daily series for a run, replacing any earlier one.
func (db *DB) SaveSeries(runID string, full []engine.DayRecord) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM series WHERE run_id = ?", runID); err != nil {
		return err
	}
	for _, rec := range full {
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode day %d: %w", rec.Day, err)
		}
		if _, err := tx.Exec("INSERT INTO series (run_id, day, record_json) VALUES (?, ?, ?)",
			runID, rec.Day, string(recJSON)); err != nil {
			return fmt.Errorf("insert day %d: %w", rec.Day, err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	var rows []runRow
	err := db.conn.Select(&rows, "SELECT * FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.run()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// GetRun returns one run by ID.
func (db *DB) GetRun(runID string) (Run, error) {
	var row runRow
	err := db.conn.Get(&row, "SELECT * FROM runs WHERE id = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	return row.run()
}

// Trials returns the trials of a run in insertion order.
func (db *DB) Trials(runID string) ([]fit.Trial, error) {
	var rows []trialRow
	err := db.conn.Select(&rows,
		"SELECT restart, n, score, x_json FROM trials WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, err
	}
	trials := make([]fit.Trial, len(rows))
	for i, r := range rows {
		trials[i] = fit.Trial{Restart: r.Restart, N: r.N, Score: r.Score}
		if err := json.Unmarshal([]byte(r.XJSON), &trials[i].X); err != nil {
			return nil, fmt.Errorf("decode trial %d: %w", i, err)
		}
	}
	return trials, nil
}

// Series returns the stored daily series of a run ordered by day.
func (db *DB) Series(runID string) ([]engine.DayRecord, error) {
	var raw []string
	err := db.conn.Select(&raw, "SELECT record_json FROM series WHERE run_id = ? ORDER BY day", runID)
	if err != nil {
		return nil, err
	}
	out := make([]engine.DayRecord, len(raw))
	for i, s := range raw {
		if err := json.Unmarshal([]byte(s), &out[i]); err != nil {
			return nil, fmt.Errorf("decode series row %d: %w", i, err)
		}
	}
	return out, nil
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}

func (r runRow) run() (Run, error) {
	run := Run{
		ID:             r.ID,
		Dataset:        r.Dataset,
		Seed:           uint64(r.Seed),
		Status:         r.Status,
		Samples:        r.Samples,
		Restarts:       r.Restarts,
		MaxEvaluations: r.MaxEvaluations,
		Evaluations:    r.Evaluations,
		Error:          r.Error.String,
		CreatedAt:      time.Unix(r.CreatedAt, 0).UTC(),
	}
	if err := json.Unmarshal([]byte(r.StartJSON), &run.Start); err != nil {
		return Run{}, fmt.Errorf("decode start of %s: %w", r.ID, err)
	}
	if r.BestJSON.Valid {
		if err := json.Unmarshal([]byte(r.BestJSON.String), &run.Best); err != nil {
			return Run{}, fmt.Errorf("decode best of %s: %w", r.ID, err)
		}
	}
	if r.Score.Valid {
		v := r.Score.Float64
		run.Score = &v
	}
	if r.FinishedAt.Valid {
		t := time.Unix(r.FinishedAt.Int64, 0).UTC()
		run.FinishedAt = &t
	}
	return run, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
