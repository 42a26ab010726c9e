// Package store persists execution records and group aggregates to SQLite.
// Records are keyed by (test, model, sample_index); aggregates are replaced
// wholesale per (test, model) group whenever the sample set changes.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"a11yeval/internal/schema"
)

// ResultStore is the durable results database.
type ResultStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

// Open creates or opens the results database at dbPath.
func Open(dbPath string, logger *zap.Logger) (*ResultStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open results database: %w", err)
	}

	s := &ResultStore{db: db, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("result store opened", zap.String("path", dbPath))
	return s, nil
}

func (s *ResultStore) initialize() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test TEXT NOT NULL,
		model TEXT NOT NULL,
		sample_index INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		record TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(test, model, sample_index)
	);
	CREATE INDEX IF NOT EXISTS idx_executions_group ON executions(test, model);

	CREATE TABLE IF NOT EXISTS aggregates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test TEXT NOT NULL,
		model TEXT NOT NULL,
		n_samples INTEGER NOT NULL,
		n_passed INTEGER NOT NULL,
		aggregate TEXT NOT NULL,
		computed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(test, model)
	);
	`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// SaveExecution upserts one record under its (test, model, sample_index) key.
func (s *ResultStore) SaveExecution(rec *schema.ExecutionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO executions (test, model, sample_index, status, error, duration_ms, record)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(test, model, sample_index) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			duration_ms = excluded.duration_ms,
			record = excluded.record,
			created_at = CURRENT_TIMESTAMP`,
		rec.Test, rec.Model, rec.SampleIndex, string(rec.Status), rec.Error, rec.TotalDurationMs, string(raw))
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// ListExecutions returns all records for one (test, model) group. Callers
// must treat the result as an unordered set.
func (s *ResultStore) ListExecutions(test, model string) ([]*schema.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT record FROM executions WHERE test = ? AND model = ?`, test, model)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var records []*schema.ExecutionRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		var rec schema.ExecutionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode execution record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Groups returns the distinct (test, model) pairs with stored executions.
func (s *ResultStore) Groups() ([][2]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT DISTINCT test, model FROM executions ORDER BY test, model`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups [][2]string
	for rows.Next() {
		var test, model string
		if err := rows.Scan(&test, &model); err != nil {
			return nil, fmt.Errorf("scan group row: %w", err)
		}
		groups = append(groups, [2]string{test, model})
	}
	return groups, rows.Err()
}

// SaveAggregate replaces the group's aggregate wholesale.
func (s *ResultStore) SaveAggregate(agg *schema.AggregateRecord) error {
	raw, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshal aggregate: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO aggregates (test, model, n_samples, n_passed, aggregate)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(test, model) DO UPDATE SET
			n_samples = excluded.n_samples,
			n_passed = excluded.n_passed,
			aggregate = excluded.aggregate,
			computed_at = CURRENT_TIMESTAMP`,
		agg.Test, agg.Model, agg.NSamples, agg.NPassed, string(raw))
	if err != nil {
		return fmt.Errorf("save aggregate: %w", err)
	}
	return nil
}

// GetAggregate returns the stored aggregate for a group, or nil when none
// has been computed.
func (s *ResultStore) GetAggregate(test, model string) (*schema.AggregateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRow(`SELECT aggregate FROM aggregates WHERE test = ? AND model = ?`, test, model).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get aggregate: %w", err)
	}

	var agg schema.AggregateRecord
	if err := json.Unmarshal([]byte(raw), &agg); err != nil {
		return nil, fmt.Errorf("decode aggregate: %w", err)
	}
	return &agg, nil
}

// Close closes the database.
func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
