// Package store is the durable run registry: runs, metrics, baseline tags,
// tagging requests and approvals, and the action ledger, on an embedded
// relational store. The default driver is sqlite; a postgres:// DSN selects
// lib/pq. The store is the single shared writer in the process; every
// mutating call is serialized by the store mutex.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

const (
	defaultRetries = 3
	defaultBackoff = 250 * time.Millisecond
)

// Store wraps the registry database.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	postgres bool
	logger   *slog.Logger

	retries int
	backoff time.Duration
	sleep   func(time.Duration) // injectable for tests
}

// Open opens (and migrates) a registry database. A DSN starting with
// postgres:// selects the postgres driver; everything else is treated as a
// sqlite file path.
func Open(dsn string) (*Store, error) {
	driver := "sqlite"
	postgres := false
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
		postgres = true
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindRegistry, "open registry", err)
	}
	return NewStore(db, postgres)
}

// NewStore wraps an existing database handle and runs migrations.
func NewStore(db *sql.DB, postgres bool) (*Store, error) {
	s := &Store{
		db:       db,
		postgres: postgres,
		logger:   slog.Default().With("component", "store"),
		retries:  defaultRetries,
		backoff:  defaultBackoff,
		sleep:    time.Sleep,
	}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// rebind converts ? placeholders to $n for the postgres driver.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "deadlock detected")
}

// withRetry runs fn, retrying on lock contention with bounded backoff.
func (s *Store) withRetry(op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			break
		}
		if attempt < s.retries {
			s.logger.Warn("registry contention, retrying",
				"op", op, "attempt", attempt+1, "err", err)
			s.sleep(s.backoff)
		}
	}
	// Already-classified errors (governance rejections, config problems)
	// keep their kind; only raw driver errors become registry errors.
	if contracts.KindOf(err) != "" {
		return err
	}
	return contracts.WrapError(contracts.KindRegistry, op, err)
}

// UpsertRun inserts or updates a run by run_id. Status and baseline_run_id
// are overwritten; the remaining columns are only set on insert.
func (s *Store) UpsertRun(ctx context.Context, meta contracts.RunMeta, status contracts.Status, baselineRunID, registryHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("upsert_run", func() error {
		res, err := s.db.ExecContext(ctx,
			s.rebind(`UPDATE runs SET status = ?, baseline_run_id = ? WHERE run_id = ?`),
			string(status), baselineRunID, meta.RunID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO runs (run_id, program, subsystem, test_name, environment,
				build_sha, build_id, start_utc, end_utc, source_system,
				registry_hash, status, baseline_run_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			meta.RunID, meta.Program, meta.Subsystem, meta.TestName, meta.Environment,
			meta.Build.GitSHA, meta.Build.BuildID,
			formatTime(meta.StartUTC), formatTime(meta.EndUTC), meta.SourceSystem,
			registryHash, string(status), baselineRunID, formatTime(time.Now().UTC()))
		return err
	})
}

// ReplaceMetrics atomically replaces the metric rows of a run in a single
// transaction, retried on lock contention. A cancelled context leaves no
// partial rows behind.
func (s *Store) ReplaceMetrics(ctx context.Context, runID string, metrics []contracts.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("replace_metrics", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM metrics WHERE run_id = ?`), runID); err != nil {
			return err
		}
		for _, m := range metrics {
			var value sql.NullFloat64
			if m.Value != nil {
				value = sql.NullFloat64{Float64: *m.Value, Valid: true}
			}
			tags := ""
			if len(m.Tags) > 0 {
				raw, err := json.Marshal(m.Tags)
				if err != nil {
					return fmt.Errorf("marshal tags for %s: %w", m.Name, err)
				}
				tags = string(raw)
			}
			if _, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO metrics (run_id, metric, value, unit, tags)
				VALUES (?, ?, ?, ?, ?)`),
				runID, m.Name, value, m.Unit, tags); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// FetchMetrics returns the metric rows of a run keyed by canonical name.
func (s *Store) FetchMetrics(ctx context.Context, runID string) (map[string]contracts.Metric, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT metric, value, unit, tags FROM metrics WHERE run_id = ? ORDER BY metric`), runID)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindRegistry, "fetch_metrics", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]contracts.Metric)
	for rows.Next() {
		var (
			name  string
			value sql.NullFloat64
			unit  sql.NullString
			tags  sql.NullString
		)
		if err := rows.Scan(&name, &value, &unit, &tags); err != nil {
			return nil, contracts.WrapError(contracts.KindRegistry, "fetch_metrics scan", err)
		}
		m := contracts.Metric{Name: name, Unit: unit.String}
		if value.Valid {
			v := value.Float64
			m.Value = &v
		}
		if tags.Valid && tags.String != "" {
			_ = json.Unmarshal([]byte(tags.String), &m.Tags)
		}
		out[name] = m
	}
	if err := rows.Err(); err != nil {
		return nil, contracts.WrapError(contracts.KindRegistry, "fetch_metrics rows", err)
	}
	return out, nil
}

// GetRun returns a run row, or nil when absent.
func (s *Store) GetRun(ctx context.Context, runID string) (*contracts.Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(runSelect+` WHERE run_id = ?`), runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, contracts.WrapError(contracts.KindRegistry, "get_run", err)
	}
	return run, nil
}

// RunsByKey returns runs matching (program, subsystem, test_name) in
// insertion order newest-first.
func (s *Store) RunsByKey(ctx context.Context, program, subsystem, testName string, limit int) ([]contracts.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(runSelect+`
		WHERE program = ? AND subsystem = ? AND test_name = ?
		ORDER BY created_at DESC, run_id DESC LIMIT ?`),
		program, subsystem, testName, limit)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindRegistry, "runs_by_key", err)
	}
	return collectRuns(rows)
}

// ListRuns returns the most recent runs across all keys.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]contracts.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(runSelect+` ORDER BY created_at DESC, run_id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindRegistry, "list_runs", err)
	}
	return collectRuns(rows)
}

const runSelect = `SELECT run_id, program, subsystem, test_name, environment,
	build_sha, build_id, start_utc, end_utc, source_system,
	registry_hash, status, baseline_run_id, created_at FROM runs`

type rowScanner interface{ Scan(dest ...any) error }

func scanRun(row rowScanner) (*contracts.Run, error) {
	var (
		r                                  contracts.Run
		startUTC, endUTC, createdAt        string
		buildSHA, buildID, source          sql.NullString
		registryHash, status, baselineRun  sql.NullString
		program, subsystem, test, environ  sql.NullString
	)
	err := row.Scan(&r.RunID, &program, &subsystem, &test, &environ,
		&buildSHA, &buildID, &startUTC, &endUTC, &source,
		&registryHash, &status, &baselineRun, &createdAt)
	if err != nil {
		return nil, err
	}
	r.Program = program.String
	r.Subsystem = subsystem.String
	r.TestName = test.String
	r.Environment = environ.String
	r.BuildSHA = buildSHA.String
	r.BuildID = buildID.String
	r.SourceSystem = source.String
	r.RegistryHash = registryHash.String
	r.Status = status.String
	r.BaselineRunID = baselineRun.String
	r.StartUTC = parseTime(startUTC)
	r.EndUTC = parseTime(endUTC)
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

func collectRuns(rows *sql.Rows) ([]contracts.Run, error) {
	defer func() { _ = rows.Close() }()
	var out []contracts.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, contracts.WrapError(contracts.KindRegistry, "scan run", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, contracts.WrapError(contracts.KindRegistry, "iterate runs", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
