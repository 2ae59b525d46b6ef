package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// SetTag points a baseline tag at a run. Last writer wins; history lives in
// the requests and approvals tables.
func (s *Store) SetTag(ctx context.Context, tag, runID, registryHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("set_tag", func() error {
		now := formatTime(time.Now().UTC())
		res, err := s.db.ExecContext(ctx, s.rebind(
			`UPDATE baseline_tags SET run_id = ?, registry_hash = ?, created_at = ? WHERE tag = ?`),
			runID, registryHash, now, tag)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = s.db.ExecContext(ctx, s.rebind(
			`INSERT INTO baseline_tags (tag, run_id, registry_hash, created_at) VALUES (?, ?, ?, ?)`),
			tag, runID, registryHash, now)
		return err
	})
}

// GetTag resolves a baseline tag, or nil when unset.
func (s *Store) GetTag(ctx context.Context, tag string) (*contracts.BaselineTag, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT tag, run_id, registry_hash, created_at FROM baseline_tags WHERE tag = ?`), tag)
	var (
		t         contracts.BaselineTag
		regHash   sql.NullString
		createdAt string
	)
	err := row.Scan(&t.Tag, &t.RunID, &regHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, contracts.WrapError(contracts.KindRegistry, "get_tag", err)
	}
	t.RegistryHash = regHash.String
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

// ListTags returns all baseline tags ordered by tag name.
func (s *Store) ListTags(ctx context.Context) ([]contracts.BaselineTag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag, run_id, registry_hash, created_at FROM baseline_tags ORDER BY tag`)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindRegistry, "list_tags", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.BaselineTag
	for rows.Next() {
		var (
			t         contracts.BaselineTag
			regHash   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&t.Tag, &t.RunID, &regHash, &createdAt); err != nil {
			return nil, contracts.WrapError(contracts.KindRegistry, "scan tag", err)
		}
		t.RegistryHash = regHash.String
		t.CreatedAt = parseTime(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddRequest opens a pending baseline tagging request.
func (s *Store) AddRequest(ctx context.Context, runID, tag, requestedBy, reason string) (*contracts.BaselineRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := &contracts.BaselineRequest{
		RequestID:   uuid.New().String(),
		RunID:       runID,
		Tag:         tag,
		RequestedBy: requestedBy,
		Reason:      reason,
		Status:      contracts.RequestPending,
		RequestedAt: time.Now().UTC(),
	}
	err := s.withRetry("add_request", func() error {
		_, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO baseline_requests (request_id, run_id, tag, requested_by, reason, status, requested_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			req.RequestID, req.RunID, req.Tag, req.RequestedBy, req.Reason,
			req.Status, formatTime(req.RequestedAt))
		return err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// GetRequest fetches a tagging request, or nil when absent.
func (s *Store) GetRequest(ctx context.Context, requestID string) (*contracts.BaselineRequest, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT request_id, run_id, tag, requested_by, reason, status, requested_at, approved_at
		FROM baseline_requests WHERE request_id = ?`), requestID)
	var (
		req                   contracts.BaselineRequest
		reason, approvedAt    sql.NullString
		requestedAt           string
	)
	err := row.Scan(&req.RequestID, &req.RunID, &req.Tag, &req.RequestedBy,
		&reason, &req.Status, &requestedAt, &approvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, contracts.WrapError(contracts.KindRegistry, "get_request", err)
	}
	req.Reason = reason.String
	req.RequestedAt = parseTime(requestedAt)
	if approvedAt.Valid && approvedAt.String != "" {
		t := parseTime(approvedAt.String)
		req.ApprovedAt = &t
	}
	return &req, nil
}

// SetRequestStatus transitions a pending request to approved or rejected.
// The transition happens exactly once; a second attempt is a governance error.
func (s *Store) SetRequestStatus(ctx context.Context, requestID, status string) error {
	if status != contracts.RequestApproved && status != contracts.RequestRejected {
		return contracts.Errorf(contracts.KindGovernance, "invalid request status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("set_request_status", func() error {
		res, err := s.db.ExecContext(ctx, s.rebind(`
			UPDATE baseline_requests SET status = ?, approved_at = ?
			WHERE request_id = ? AND status = ?`),
			status, formatTime(time.Now().UTC()), requestID, contracts.RequestPending)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return contracts.Errorf(contracts.KindGovernance,
				"request %s is not pending", requestID)
		}
		return nil
	})
}

// AddApproval records an immutable approval for a tagging request.
func (s *Store) AddApproval(ctx context.Context, runID, tag, approvedBy, reason, requestID string) (*contracts.BaselineApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	approval := &contracts.BaselineApproval{
		ApprovalID: uuid.New().String(),
		RunID:      runID,
		Tag:        tag,
		ApprovedBy: approvedBy,
		Reason:     reason,
		ApprovedAt: time.Now().UTC(),
		RequestID:  requestID,
	}
	err := s.withRetry("add_approval", func() error {
		_, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO baseline_approvals (approval_id, run_id, tag, approved_by, reason, approved_at, request_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			approval.ApprovalID, approval.RunID, approval.Tag, approval.ApprovedBy,
			approval.Reason, formatTime(approval.ApprovedAt), approval.RequestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// CountApprovals counts distinct approvers recorded for a request.
func (s *Store) CountApprovals(ctx context.Context, requestID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(DISTINCT approved_by) FROM baseline_approvals WHERE request_id = ?`),
		requestID).Scan(&n)
	if err != nil {
		return 0, contracts.WrapError(contracts.KindRegistry, "count_approvals", err)
	}
	return n, nil
}
