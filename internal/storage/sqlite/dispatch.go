package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mistakeknot/switchboard/internal/core"
	"github.com/mistakeknot/switchboard/internal/storage"
)

// DispatchAttempt pairs the oldest queued request with the least-recently
// assigned eligible expert, inside one transaction. SQLite has no
// FOR UPDATE SKIP LOCKED, so claims are guarded updates: zero rows affected
// means a concurrent worker won and the attempt reports contested.
func (s *Store) DispatchAttempt(ctx context.Context, offerTTL time.Duration) (storage.AttemptResult, error) {
	var out storage.AttemptResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC()

		row := tx.QueryRow(
			`SELECT id, client_id FROM connection_requests
			 WHERE status = 'queued'
			 ORDER BY created_at, id LIMIT 1`,
		)
		var requestID, clientID string
		if err := row.Scan(&requestID, &clientID); err == sql.ErrNoRows {
			out = storage.AttemptResult{Outcome: storage.AttemptQueueEmpty}
			return nil
		} else if err != nil {
			return fmt.Errorf("scan queued request: %w", err)
		}

		expertID, ok, err := eligibleExpertTx(tx, clientID, now)
		if err != nil {
			return err
		}
		if !ok {
			// Global shortage: leave the request queued, refresh positions
			// so wait estimates reflect current capacity.
			if err := s.normalizePositionsTx(tx, now); err != nil {
				return err
			}
			out = storage.AttemptResult{Outcome: storage.AttemptNoExpert}
			return nil
		}

		expires := now.Add(offerTTL)
		res, err := tx.Exec(
			`UPDATE connection_requests
			 SET status = 'offered', expert_id = ?, offered_at = ?, offer_expires_at = ?,
			     position = NULL, estimated_wait_seconds = NULL, updated_at = ?
			 WHERE id = ? AND status = 'queued'`,
			expertID, timeText(now), timeText(expires), timeText(now), requestID,
		)
		if err != nil {
			return fmt.Errorf("claim request: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			out = storage.AttemptResult{Outcome: storage.AttemptContested}
			return nil
		}

		// An offer counts as a fairness rotation event, not just an
		// acceptance; otherwise an unresponsive expert keeps winning the
		// next queued request ahead of idler peers.
		if _, err := tx.Exec(
			`UPDATE expert_availability SET last_assigned_at = ?, updated_at = ? WHERE expert_id = ?`,
			timeText(now), timeText(now), expertID,
		); err != nil {
			return fmt.Errorf("stamp last_assigned_at: %w", err)
		}

		if err := s.normalizePositionsTx(tx, now); err != nil {
			return err
		}
		req, err := getRequestTx(tx, requestID)
		if err != nil {
			return err
		}
		out = storage.AttemptResult{Outcome: storage.AttemptOffered, Request: &req}
		return nil
	})
	if err != nil {
		return storage.AttemptResult{}, err
	}
	return out, nil
}

// eligibleExpertTx picks the least-recently-assigned online expert with
// free capacity. Un-expired offers count against capacity even before
// acceptance; this live count is the only thing preventing one expert from
// being buried in offers they have not acted on yet. An expert queued as a
// client is never paired with themselves.
func eligibleExpertTx(tx *sql.Tx, clientID string, now time.Time) (string, bool, error) {
	row := tx.QueryRow(
		`SELECT a.expert_id
		 FROM expert_availability a
		 JOIN users u ON u.id = a.expert_id AND u.role = 'expert'
		 WHERE a.is_online = 1
		   AND a.expert_id <> ?
		   AND a.current_active_clients + (
		       SELECT COUNT(*) FROM connection_requests r
		       WHERE r.expert_id = a.expert_id AND r.status = 'offered' AND r.offer_expires_at > ?
		   ) < a.max_concurrent_clients
		 ORDER BY a.last_assigned_at IS NOT NULL, a.last_assigned_at, a.expert_id
		 LIMIT 1`,
		clientID, timeText(now),
	)
	var expertID string
	if err := row.Scan(&expertID); err == sql.ErrNoRows {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("scan eligible expert: %w", err)
	}
	return expertID, true, nil
}

// ExpireOffers reverts up to limit lapsed offers to queued, oldest expiry
// first. Reverted rows keep their original created_at, so they resume their
// original FIFO position instead of rejoining at the back.
func (s *Store) ExpireOffers(ctx context.Context, limit int) ([]core.ConnectionRequest, error) {
	if limit <= 0 {
		limit = 64
	}
	var reverted []core.ConnectionRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		reverted = nil
		now := s.now().UTC()
		rows, err := tx.Query(
			`SELECT id FROM connection_requests
			 WHERE status = 'offered' AND offer_expires_at <= ?
			 ORDER BY offer_expires_at, id LIMIT ?`,
			timeText(now), limit,
		)
		if err != nil {
			return fmt.Errorf("query expired offers: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan expired offer: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		for _, id := range ids {
			res, err := tx.Exec(
				`UPDATE connection_requests
				 SET status = 'queued', expert_id = NULL, offered_at = NULL, offer_expires_at = NULL, updated_at = ?
				 WHERE id = ? AND status = 'offered' AND offer_expires_at <= ?`,
				timeText(now), id, timeText(now),
			)
			if err != nil {
				return fmt.Errorf("revert offer: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue // raced with an accept or a concurrent sweep
			}
			req, err := getRequestTx(tx, id)
			if err != nil {
				return err
			}
			reverted = append(reverted, req)
		}
		if len(reverted) == 0 {
			return nil
		}
		return s.normalizePositionsTx(tx, now)
	})
	if err != nil {
		return nil, err
	}
	return reverted, nil
}

// TimeOutStale transitions requests that have sat queued longer than
// maxQueueWait to timed_out. Disabled when maxQueueWait is zero.
func (s *Store) TimeOutStale(ctx context.Context, maxQueueWait time.Duration, limit int) ([]core.ConnectionRequest, error) {
	if maxQueueWait <= 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 64
	}
	var timedOut []core.ConnectionRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		timedOut = nil
		now := s.now().UTC()
		cutoff := now.Add(-maxQueueWait)
		rows, err := tx.Query(
			`SELECT id FROM connection_requests
			 WHERE status = 'queued' AND created_at <= ?
			 ORDER BY created_at, id LIMIT ?`,
			timeText(cutoff), limit,
		)
		if err != nil {
			return fmt.Errorf("query stale requests: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan stale request: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		for _, id := range ids {
			res, err := tx.Exec(
				`UPDATE connection_requests
				 SET status = 'timed_out', position = NULL, estimated_wait_seconds = NULL, updated_at = ?
				 WHERE id = ? AND status = 'queued'`,
				timeText(now), id,
			)
			if err != nil {
				return fmt.Errorf("time out request: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			req, err := getRequestTx(tx, id)
			if err != nil {
				return err
			}
			timedOut = append(timedOut, req)
		}
		if len(timedOut) == 0 {
			return nil
		}
		return s.normalizePositionsTx(tx, now)
	})
	if err != nil {
		return nil, err
	}
	return timedOut, nil
}
