package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mistakeknot/switchboard/internal/core"
)

// MarkConnected transitions an assigned request to connected. Already
// terminal rows are returned unchanged.
func (s *Store) MarkConnected(ctx context.Context, requestID string) (core.ConnectionRequest, error) {
	var out core.ConnectionRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		req, err := getRequestTx(tx, requestID)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			out = req
			return nil
		}
		if req.Status != core.StatusAssigned {
			return fmt.Errorf("%w: request is %s, not assigned", core.ErrConflict, req.Status)
		}

		now := s.now().UTC()
		res, err := tx.Exec(
			`UPDATE connection_requests SET status = 'connected', connected_at = ?, updated_at = ?
			 WHERE id = ? AND status = 'assigned'`,
			timeText(now), timeText(now), requestID,
		)
		if err != nil {
			return fmt.Errorf("mark connected: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: request state changed", core.ErrConflict)
		}
		updated, err := getRequestTx(tx, requestID)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return core.ConnectionRequest{}, err
	}
	return out, nil
}

// Complete finishes a session. Valid from assigned or connected; the
// expert's load decrements exactly once, in the same transaction.
func (s *Store) Complete(ctx context.Context, requestID string) (core.ConnectionRequest, error) {
	return s.finishRequest(ctx, requestID, core.StatusCompleted)
}

// Cancel ends a request from any active state. Cancelling a queued or
// offered request never touches expert load, because load starts only at
// acceptance.
func (s *Store) Cancel(ctx context.Context, requestID string) (core.ConnectionRequest, error) {
	return s.finishRequest(ctx, requestID, core.StatusCancelled)
}

func (s *Store) finishRequest(ctx context.Context, requestID string, target core.RequestStatus) (core.ConnectionRequest, error) {
	var out core.ConnectionRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		req, err := getRequestTx(tx, requestID)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			out = req
			return nil
		}
		if target == core.StatusCompleted &&
			req.Status != core.StatusAssigned && req.Status != core.StatusConnected {
			return fmt.Errorf("%w: request is %s, not assigned or connected", core.ErrConflict, req.Status)
		}

		now := s.now().UTC()
		stampCol := "cancelled_at"
		if target == core.StatusCompleted {
			stampCol = "completed_at"
		}
		res, err := tx.Exec(
			`UPDATE connection_requests
			 SET status = ?, `+stampCol+` = ?, position = NULL, estimated_wait_seconds = NULL,
			     offer_expires_at = NULL, updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(target), timeText(now), timeText(now), requestID, string(req.Status),
		)
		if err != nil {
			return fmt.Errorf("finish request: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: request state changed", core.ErrConflict)
		}

		// Load decrements only when the request had actually reached an
		// active-with-expert state. A cancel from queued or offered never
		// consumed a slot, so decrementing there would under-flow.
		if req.ExpertID != "" &&
			(req.Status == core.StatusAssigned || req.Status == core.StatusConnected) {
			if err := decrementLoadTx(tx, req.ExpertID, now); err != nil {
				return err
			}
		}

		if req.Status == core.StatusQueued {
			// Removal from the queue shifts everyone behind it.
			if err := s.normalizePositionsTx(tx, now); err != nil {
				return err
			}
		}

		updated, err := getRequestTx(tx, requestID)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return core.ConnectionRequest{}, err
	}
	return out, nil
}

func decrementLoadTx(tx *sql.Tx, expertID string, now time.Time) error {
	res, err := tx.Exec(
		`UPDATE expert_availability
		 SET current_active_clients = current_active_clients - 1, updated_at = ?
		 WHERE expert_id = ? AND current_active_clients > 0`,
		timeText(now), expertID,
	)
	if err != nil {
		return fmt.Errorf("decrement load: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: load counter already zero for expert %s", core.ErrConflict, expertID)
	}
	return nil
}
