package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// The schema evolves by additive-only migrations: CREATE TABLE IF NOT EXISTS
// plus add-column-if-missing. Nothing is ever dropped or rewritten.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		program TEXT,
		subsystem TEXT,
		test_name TEXT,
		environment TEXT,
		build_sha TEXT,
		build_id TEXT,
		start_utc TEXT,
		end_utc TEXT,
		source_system TEXT,
		registry_hash TEXT,
		status TEXT,
		baseline_run_id TEXT,
		created_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS metrics (
		run_id TEXT NOT NULL,
		metric TEXT NOT NULL,
		value REAL,
		unit TEXT,
		tags TEXT,
		PRIMARY KEY (run_id, metric)
	)`,
	`CREATE TABLE IF NOT EXISTS baseline_tags (
		tag TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		registry_hash TEXT,
		created_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS baseline_requests (
		request_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		requested_by TEXT,
		reason TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		requested_at TEXT,
		approved_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS baseline_approvals (
		approval_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		approved_by TEXT NOT NULL,
		reason TEXT,
		approved_at TEXT,
		request_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS action_ledger (
		action_id TEXT PRIMARY KEY,
		run_id TEXT,
		decision_id TEXT,
		action_type TEXT NOT NULL,
		status TEXT NOT NULL,
		payload TEXT,
		idempotency_key TEXT,
		safety_gate_passed INTEGER NOT NULL DEFAULT 0,
		dry_run INTEGER NOT NULL DEFAULT 0,
		created_at TEXT,
		ack_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_run ON metrics (run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_key ON runs (program, subsystem, test_name)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_idem ON action_ledger (idempotency_key)`,
	`CREATE INDEX IF NOT EXISTS idx_approvals_req ON baseline_approvals (request_id)`,
}

// Later additive columns keyed by table. Applied with ALTER TABLE when the
// column is not yet present; the only automatic migration permitted.
var addColumns = map[string][]string{
	"runs": {"correlation_id TEXT"},
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return contracts.WrapError(contracts.KindRegistry, "migrate schema", err)
		}
	}
	for table, cols := range addColumns {
		for _, col := range cols {
			if err := s.addColumnIfMissing(ctx, table, col); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) addColumnIfMissing(ctx context.Context, table, column string) error {
	name := strings.Fields(column)[0]
	exists, err := s.columnExists(ctx, table, name)
	if err != nil {
		return contracts.WrapError(contracts.KindRegistry, "inspect schema", err)
	}
	if exists {
		return nil
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, column))
	if err != nil {
		return contracts.WrapError(contracts.KindRegistry, "add column", err)
	}
	return nil
}

func (s *Store) columnExists(ctx context.Context, table, column string) (bool, error) {
	if s.postgres {
		var n int
		err := s.db.QueryRowContext(ctx, s.rebind(
			`SELECT COUNT(*) FROM information_schema.columns WHERE table_name = ? AND column_name = ?`),
			table, column).Scan(&n)
		return n > 0, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
