// Package results persists finished run history in a local sqlite database
// and serves it back over the API.
package results

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/netpanel/linkpanel/internal/logging"
)

const (
	retentionDays   = 90
	cleanupInterval = 1 * time.Hour
)

// RunRecord is one finished run as stored. Avg and Max are in the run's
// display unit; P50 and P95 come from the server-side throughput
// distribution.
type RunRecord struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Protocol  string    `json:"protocol"`
	Direction string    `json:"mode"`
	Streams   int       `json:"streams"`
	Unit      string    `json:"units"`
	Avg       float64   `json:"avg"`
	Max       float64   `json:"max"`
	P50       float64   `json:"p50"`
	P95       float64   `json:"p95"`
	Samples   int       `json:"samples"`
	Status    string    `json:"status"`
	Cmd       string    `json:"cmd"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

type Store struct {
	db      *sql.DB
	maxRuns int

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(dbPath string, maxRuns int) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(3)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// modernc.org/sqlite requires explicit PRAGMAs (not query-string params)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &Store{
		db:      db,
		maxRuns: maxRuns,
		stopCh:  make(chan struct{}),
	}

	s.cleanup()

	s.wg.Add(1)
	go s.cleanupLoop()

	return s, nil
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if err := s.db.Close(); err != nil {
			logging.Warn("results store: close failed", logging.Field{Key: "error", Value: err})
		}
	})
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		protocol TEXT NOT NULL,
		direction TEXT NOT NULL,
		streams INTEGER NOT NULL,
		unit TEXT NOT NULL,
		avg REAL NOT NULL,
		max REAL NOT NULL,
		p50 REAL NOT NULL DEFAULT 0,
		p95 REAL NOT NULL DEFAULT 0,
		samples INTEGER NOT NULL,
		status TEXT NOT NULL,
		cmd TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`)
	return err
}

// Save upserts a run record keyed by its correlation id. Re-saving the same
// run (a retried finish hook) overwrites rather than erroring.
func (s *Store) Save(r RunRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, target, protocol, direction, streams, unit,
			avg, max, p50, p95, samples, status, cmd, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			avg=excluded.avg, max=excluded.max, p50=excluded.p50,
			p95=excluded.p95, samples=excluded.samples,
			status=excluded.status, ended_at=excluded.ended_at`,
		r.ID, r.Target, r.Protocol, r.Direction, r.Streams, r.Unit,
		r.Avg, r.Max, r.P50, r.P95, r.Samples, r.Status, r.Cmd,
		r.StartedAt.UTC(), r.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) Get(id string) (*RunRecord, error) {
	var r RunRecord
	err := s.db.QueryRow(
		`SELECT id, target, protocol, direction, streams, unit,
			avg, max, p50, p95, samples, status, cmd, started_at, ended_at
		FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Target, &r.Protocol, &r.Direction, &r.Streams, &r.Unit,
		&r.Avg, &r.Max, &r.P50, &r.P95, &r.Samples, &r.Status, &r.Cmd,
		&r.StartedAt, &r.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	return &r, nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, target, protocol, direction, streams, unit,
			avg, max, p50, p95, samples, status, cmd, started_at, ended_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	records := make([]RunRecord, 0, limit)
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Target, &r.Protocol, &r.Direction, &r.Streams, &r.Unit,
			&r.Avg, &r.Max, &r.P50, &r.P95, &r.Samples, &r.Status, &r.Cmd,
			&r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) cleanup() {
	cutoff := time.Now().UTC().Add(-retentionDays * 24 * time.Hour)
	res, err := s.db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		logging.Warn("results cleanup (age) failed", logging.Field{Key: "error", Value: err})
	} else if n, _ := res.RowsAffected(); n > 0 {
		logging.Info("results cleanup: removed expired",
			logging.Field{Key: "count", Value: n})
	}

	// Trim to max count, keeping newest
	if s.maxRuns > 0 {
		res, err = s.db.Exec(
			`DELETE FROM runs WHERE id NOT IN (
				SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
			)`, s.maxRuns)
		if err != nil {
			logging.Warn("results cleanup (count) failed", logging.Field{Key: "error", Value: err})
		} else if n, _ := res.RowsAffected(); n > 0 {
			logging.Info("results cleanup: trimmed to max",
				logging.Field{Key: "removed", Value: n},
				logging.Field{Key: "max", Value: s.maxRuns})
		}
	}
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}
