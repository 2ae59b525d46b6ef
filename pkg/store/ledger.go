package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// ActionLedgerInsert appends an entry to the action ledger.
func (s *Store) ActionLedgerInsert(ctx context.Context, e contracts.ActionLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("action_ledger_insert", func() error {
		payload := ""
		if len(e.Payload) > 0 {
			raw, err := json.Marshal(e.Payload)
			if err != nil {
				return err
			}
			payload = string(raw)
		}
		_, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO action_ledger (action_id, run_id, decision_id, action_type,
				status, payload, idempotency_key, safety_gate_passed, dry_run, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			e.ActionID, e.RunID, e.DecisionID, string(e.ActionType),
			e.Status, payload, e.IdempotencyKey,
			boolToInt(e.SafetyGatePassed), boolToInt(e.DryRun),
			formatTime(e.CreatedAt))
		return err
	})
}

// ActionLedgerByIdempotency returns the earliest ledger entry recorded for an
// idempotency key, or nil when none exists.
func (s *Store) ActionLedgerByIdempotency(ctx context.Context, key string) (*contracts.ActionLedgerEntry, error) {
	if key == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, s.rebind(ledgerSelect+`
		WHERE idempotency_key = ? ORDER BY created_at ASC LIMIT 1`), key)
	return scanLedgerRow(row)
}

// ActionLedgerAck transitions a pending entry to ack, setting ack_at.
// Only the status and ack_at columns are ever updated.
func (s *Store) ActionLedgerAck(ctx context.Context, actionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("action_ledger_ack", func() error {
		res, err := s.db.ExecContext(ctx, s.rebind(`
			UPDATE action_ledger SET status = ?, ack_at = ?
			WHERE action_id = ? AND status = ?`),
			contracts.LedgerAck, formatTime(time.Now().UTC()),
			actionID, contracts.LedgerPending)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return contracts.Errorf(contracts.KindRegistry,
				"action %s is not pending", actionID)
		}
		return nil
	})
}

// ActionLedgerGet returns a ledger entry by action id, or nil when absent.
func (s *Store) ActionLedgerGet(ctx context.Context, actionID string) (*contracts.ActionLedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(ledgerSelect+` WHERE action_id = ?`), actionID)
	return scanLedgerRow(row)
}

// ActionLedgerList returns the most recent ledger entries.
func (s *Store) ActionLedgerList(ctx context.Context, limit int) ([]contracts.ActionLedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(ledgerSelect+` ORDER BY created_at DESC, action_id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindRegistry, "action_ledger_list", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.ActionLedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

const ledgerSelect = `SELECT action_id, run_id, decision_id, action_type, status,
	payload, idempotency_key, safety_gate_passed, dry_run, created_at, ack_at
	FROM action_ledger`

func scanLedgerRow(row *sql.Row) (*contracts.ActionLedgerEntry, error) {
	e, err := scanLedger(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func scanLedger(row rowScanner) (*contracts.ActionLedgerEntry, error) {
	var (
		e                         contracts.ActionLedgerEntry
		runID, decisionID         sql.NullString
		payload, idemKey, ackAt   sql.NullString
		actionType, createdAt     string
		safetyGate, dryRun        int
	)
	err := row.Scan(&e.ActionID, &runID, &decisionID, &actionType, &e.Status,
		&payload, &idemKey, &safetyGate, &dryRun, &createdAt, &ackAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, contracts.WrapError(contracts.KindRegistry, "scan ledger entry", err)
	}
	e.RunID = runID.String
	e.DecisionID = decisionID.String
	e.ActionType = contracts.ActionType(actionType)
	e.IdempotencyKey = idemKey.String
	e.SafetyGatePassed = safetyGate != 0
	e.DryRun = dryRun != 0
	e.CreatedAt = parseTime(createdAt)
	if payload.Valid && payload.String != "" {
		_ = json.Unmarshal([]byte(payload.String), &e.Payload)
	}
	if ackAt.Valid && ackAt.String != "" {
		t := parseTime(ackAt.String)
		e.AckAt = &t
	}
	return &e, nil
}

func isNoRows(err error) bool { return err == sql.ErrNoRows }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
