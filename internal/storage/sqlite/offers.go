package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mistakeknot/switchboard/internal/core"
	"github.com/mistakeknot/switchboard/internal/storage"
)

// ListOffers returns the un-expired offers currently addressed to the expert.
func (s *Store) ListOffers(ctx context.Context, expertID string) ([]core.ConnectionRequest, error) {
	now := timeText(s.now().UTC())
	rows, err := s.db.Query(
		`SELECT `+requestColumns+` FROM connection_requests
		 WHERE expert_id = ? AND status = 'offered' AND offer_expires_at > ?
		 ORDER BY offered_at, id`,
		expertID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("query offers: %w", err)
	}
	defer rows.Close()

	var out []core.ConnectionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// AcceptOffer transitions an offered request to assigned and increments the
// expert's load, all in one transaction. An offer whose TTL already lapsed
// is a soft miss: the request reverts to queued and Expired is reported,
// never an error. A second accept on an already-assigned request is a
// conflict: the load counter must not increment twice.
func (s *Store) AcceptOffer(ctx context.Context, requestID, expertID string) (storage.AcceptResult, error) {
	var out storage.AcceptResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		req, err := getRequestTx(tx, requestID)
		if err != nil {
			return err
		}
		if req.ExpertID != expertID {
			return fmt.Errorf("%w: offer is not addressed to this expert", core.ErrAccessDenied)
		}
		if req.Status != core.StatusOffered {
			return fmt.Errorf("%w: request is %s, not offered", core.ErrConflict, req.Status)
		}

		now := s.now().UTC()
		if req.OfferExpired(now) {
			// Raced with the sweep. Revert instead of assigning.
			res, err := tx.Exec(
				`UPDATE connection_requests
				 SET status = 'queued', expert_id = NULL, offered_at = NULL, offer_expires_at = NULL, updated_at = ?
				 WHERE id = ? AND status = 'offered'`,
				timeText(now), requestID,
			)
			if err != nil {
				return fmt.Errorf("revert expired offer: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("%w: offer state changed", core.ErrConflict)
			}
			if err := s.normalizePositionsTx(tx, now); err != nil {
				return err
			}
			requeued, err := getRequestTx(tx, requestID)
			if err != nil {
				return err
			}
			out = storage.AcceptResult{Request: requeued, Expired: true}
			return nil
		}

		avail, err := getAvailabilityTx(tx, expertID)
		if err != nil {
			return err
		}
		if !avail.IsOnline {
			return fmt.Errorf("%w: expert is offline", core.ErrConflict)
		}
		if avail.CurrentActiveClients >= avail.MaxConcurrentClients {
			return fmt.Errorf("%w: expert is at capacity", core.ErrConflict)
		}

		res, err := tx.Exec(
			`UPDATE connection_requests
			 SET status = 'assigned', assigned_at = ?, offer_expires_at = NULL, updated_at = ?
			 WHERE id = ? AND status = 'offered' AND expert_id = ?`,
			timeText(now), timeText(now), requestID, expertID,
		)
		if err != nil {
			return fmt.Errorf("assign request: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: offer state changed", core.ErrConflict)
		}

		// The capacity guard repeats in the WHERE clause so the CHECK
		// constraint is never the thing that catches an over-fill.
		res, err = tx.Exec(
			`UPDATE expert_availability
			 SET current_active_clients = current_active_clients + 1, last_assigned_at = ?, updated_at = ?
			 WHERE expert_id = ? AND current_active_clients < max_concurrent_clients`,
			timeText(now), timeText(now), expertID,
		)
		if err != nil {
			return fmt.Errorf("increment load: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: expert is at capacity", core.ErrConflict)
		}

		assigned, err := getRequestTx(tx, requestID)
		if err != nil {
			return err
		}
		out = storage.AcceptResult{Request: assigned}
		return nil
	})
	if err != nil {
		return storage.AcceptResult{}, err
	}
	return out, nil
}

// RejectOffer reverts an offered request to queued, recording the rejection.
// Load is untouched: an offer never incremented it.
func (s *Store) RejectOffer(ctx context.Context, requestID, expertID, reason string) (core.ConnectionRequest, error) {
	var out core.ConnectionRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		req, err := getRequestTx(tx, requestID)
		if err != nil {
			return err
		}
		if req.ExpertID != expertID {
			return fmt.Errorf("%w: offer is not addressed to this expert", core.ErrAccessDenied)
		}
		if req.Status != core.StatusOffered {
			return fmt.Errorf("%w: request is %s, not offered", core.ErrConflict, req.Status)
		}

		now := s.now().UTC()
		res, err := tx.Exec(
			`UPDATE connection_requests
			 SET status = 'queued', expert_id = NULL, offered_at = NULL, offer_expires_at = NULL,
			     rejected_at = ?, rejected_reason = ?, updated_at = ?
			 WHERE id = ? AND status = 'offered' AND expert_id = ?`,
			timeText(now), nullString(reason), timeText(now), requestID, expertID,
		)
		if err != nil {
			return fmt.Errorf("reject offer: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: offer state changed", core.ErrConflict)
		}
		if err := s.normalizePositionsTx(tx, now); err != nil {
			return err
		}
		requeued, err := getRequestTx(tx, requestID)
		if err != nil {
			return err
		}
		out = requeued
		return nil
	})
	if err != nil {
		return core.ConnectionRequest{}, err
	}
	return out, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
