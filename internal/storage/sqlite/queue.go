package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mistakeknot/switchboard/internal/core"
	"github.com/mistakeknot/switchboard/internal/storage"
)

// Enqueue inserts a new queued request for the client, or returns the
// client's existing active request unchanged. The partial unique index on
// client_id backstops the pre-check: a violation from a concurrent enqueue
// is converted to "return existing", never surfaced as an error.
func (s *Store) Enqueue(ctx context.Context, clientID string) (storage.EnqueueResult, error) {
	if strings.TrimSpace(clientID) == "" {
		return storage.EnqueueResult{}, fmt.Errorf("%w: client id required", core.ErrInvalidInput)
	}

	var out storage.EnqueueResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM users WHERE id = ?`, clientID).Scan(&exists); err != nil {
			return fmt.Errorf("scan user: %w", err)
		}
		if exists == 0 {
			return core.ErrNotFound
		}

		if req, ok, err := activeRequestTx(tx, clientID); err != nil {
			return err
		} else if ok {
			out = storage.EnqueueResult{Request: req, Existing: true}
			return nil
		}

		now := s.now().UTC()
		id := uuid.NewString()
		_, err := tx.Exec(
			`INSERT INTO connection_requests (id, client_id, status, created_at, updated_at)
			 VALUES (?, ?, 'queued', ?, ?)`,
			id, clientID, timeText(now), timeText(now),
		)
		if err != nil {
			if isUniqueViolation(err) {
				// Lost the race to a concurrent enqueue for this client.
				req, ok, aerr := activeRequestTx(tx, clientID)
				if aerr != nil {
					return aerr
				}
				if !ok {
					return fmt.Errorf("insert request: %w", err)
				}
				out = storage.EnqueueResult{Request: req, Existing: true}
				return nil
			}
			return fmt.Errorf("insert request: %w", err)
		}

		if err := s.normalizePositionsTx(tx, now); err != nil {
			return err
		}
		req, err := getRequestTx(tx, id)
		if err != nil {
			return err
		}
		out = storage.EnqueueResult{Request: req}
		return nil
	})
	if err != nil {
		return storage.EnqueueResult{}, err
	}
	return out, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (core.ConnectionRequest, error) {
	row := s.db.QueryRow(`SELECT `+requestColumns+` FROM connection_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return core.ConnectionRequest{}, core.ErrNotFound
	}
	if err != nil {
		return core.ConnectionRequest{}, fmt.Errorf("scan request: %w", err)
	}
	return req, nil
}

func activeRequestTx(tx *sql.Tx, clientID string) (core.ConnectionRequest, bool, error) {
	row := tx.QueryRow(
		`SELECT `+requestColumns+` FROM connection_requests
		 WHERE client_id = ? AND status IN ('queued', 'offered', 'assigned', 'connected')`,
		clientID,
	)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return core.ConnectionRequest{}, false, nil
	}
	if err != nil {
		return core.ConnectionRequest{}, false, fmt.Errorf("scan active request: %w", err)
	}
	return req, true, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// normalizePositionsTx recomputes position and estimated wait for every
// queued row. A full recompute, not incremental bookkeeping: cheap at
// moderate queue depths and impossible to drift.
func (s *Store) normalizePositionsTx(tx *sql.Tx, now time.Time) error {
	_, err := tx.Exec(
		`UPDATE connection_requests SET position = (
			SELECT COUNT(*) FROM connection_requests q
			WHERE q.status = 'queued'
			  AND (q.created_at < connection_requests.created_at
			       OR (q.created_at = connection_requests.created_at AND q.id <= connection_requests.id))
		 ), updated_at = ?
		 WHERE status = 'queued'`,
		timeText(now),
	)
	if err != nil {
		return fmt.Errorf("normalize positions: %w", err)
	}

	capacity, err := onlineCapacityTx(tx)
	if err != nil {
		return err
	}
	if capacity <= 0 {
		// No online capacity anywhere: the wait is unknowable.
		if _, err := tx.Exec(
			`UPDATE connection_requests SET estimated_wait_seconds = NULL WHERE status = 'queued'`,
		); err != nil {
			return fmt.Errorf("clear wait estimates: %w", err)
		}
		return nil
	}

	// Wave-based estimate: ceil(position / capacity) service waves, each at
	// the configured average session length.
	_, err = tx.Exec(
		`UPDATE connection_requests SET estimated_wait_seconds =
			CASE WHEN position <= 0 THEN 0
			     ELSE ((position + ? - 1) / ?) * ?
			END
		 WHERE status = 'queued'`,
		capacity, capacity, s.avgSession,
	)
	if err != nil {
		return fmt.Errorf("update wait estimates: %w", err)
	}
	return nil
}

func onlineCapacityTx(tx *sql.Tx) (int, error) {
	var capacity int
	err := tx.QueryRow(
		`SELECT COALESCE(SUM(a.max_concurrent_clients), 0)
		 FROM expert_availability a
		 JOIN users u ON u.id = a.expert_id AND u.role = 'expert'
		 WHERE a.is_online = 1`,
	).Scan(&capacity)
	if err != nil {
		return 0, fmt.Errorf("scan online capacity: %w", err)
	}
	return capacity, nil
}
