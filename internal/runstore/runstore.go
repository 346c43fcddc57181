// Package runstore records training-run history in a small SQLite
// database: one row per run, one row per EM iteration. The trainer treats
// the store as best-effort bookkeeping; an unavailable database degrades
// to a warning, never a training failure.
package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store owns the run-history database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run database: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.configure(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure run database: %w", err)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate run database: %w", err)
	}
	log.Printf("run store initialized at %s", path)
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) configure() error {
	s.db.SetMaxOpenConns(1)
	s.db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply pragma '%s': %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			flags TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS iterations (
			run_id TEXT NOT NULL REFERENCES runs(id),
			iteration INTEGER NOT NULL,
			loglik_train REAL NOT NULL,
			loglik_devel REAL,
			discount TEXT NOT NULL DEFAULT '[]',
			model_size INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, iteration)
		);

		CREATE INDEX IF NOT EXISTS idx_iterations_run ON iterations(run_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// BeginRun registers a new training run and returns its id.
func (s *Store) BeginRun(flags string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		"INSERT INTO runs (id, started_at, flags) VALUES (?, ?, ?)",
		id, time.Now().UTC(), flags,
	)
	if err != nil {
		return "", fmt.Errorf("failed to register run: %w", err)
	}
	return id, nil
}

// RecordIteration stores one EM iteration's results. logLikDevel may be
// nil when no held-out set exists.
func (s *Store) RecordIteration(runID string, iteration int, logLikTrain float64, logLikDevel *float64, discount []float64, modelSize int) error {
	encoded, err := json.Marshal(discount)
	if err != nil {
		return fmt.Errorf("failed to encode discount: %w", err)
	}
	var devel any
	if logLikDevel != nil {
		devel = *logLikDevel
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO iterations
			(run_id, iteration, loglik_train, loglik_devel, discount, model_size)
			VALUES (?, ?, ?, ?, ?, ?)`,
		runID, iteration, logLikTrain, devel, string(encoded), modelSize,
	)
	if err != nil {
		return fmt.Errorf("failed to record iteration: %w", err)
	}
	return nil
}

// IterationRecord is one recorded EM iteration.
type IterationRecord struct {
	Iteration   int
	LogLikTrain float64
	LogLikDevel *float64
	Discount    []float64
	ModelSize   int
}

// Iterations returns a run's recorded iterations in order.
func (s *Store) Iterations(runID string) ([]IterationRecord, error) {
	rows, err := s.db.Query(
		`SELECT iteration, loglik_train, loglik_devel, discount, model_size
			FROM iterations WHERE run_id = ? ORDER BY iteration`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer rows.Close()

	var out []IterationRecord
	for rows.Next() {
		var rec IterationRecord
		var devel sql.NullFloat64
		var discount string
		if err := rows.Scan(&rec.Iteration, &rec.LogLikTrain, &devel, &discount, &rec.ModelSize); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		if devel.Valid {
			v := devel.Float64
			rec.LogLikDevel = &v
		}
		if err := json.Unmarshal([]byte(discount), &rec.Discount); err != nil {
			return nil, fmt.Errorf("failed to decode discount: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
