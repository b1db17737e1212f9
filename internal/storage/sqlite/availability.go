package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mistakeknot/switchboard/internal/core"
)

// provisionExpertTx inserts the default availability row (online, capacity 1)
// for one expert if it is missing. Idempotent.
func provisionExpertTx(tx *sql.Tx, expertID, now string) error {
	_, err := tx.Exec(
		`INSERT INTO expert_availability (expert_id, is_online, max_concurrent_clients, current_active_clients, created_at, updated_at)
		 VALUES (?, 1, 1, 0, ?, ?)
		 ON CONFLICT(expert_id) DO NOTHING`,
		expertID, now, now,
	)
	if err != nil {
		return fmt.Errorf("provision expert: %w", err)
	}
	return nil
}

// EnsureProvisioned creates default availability rows for any expert-role
// user that lacks one. Safe to call before every dispatch cycle.
func (s *Store) EnsureProvisioned(ctx context.Context) error {
	now := timeText(s.now().UTC())
	_, err := s.db.Exec(
		`INSERT INTO expert_availability (expert_id, is_online, max_concurrent_clients, current_active_clients, created_at, updated_at)
		 SELECT u.id, 1, 1, 0, ?, ? FROM users u
		 WHERE u.role = 'expert'
		   AND NOT EXISTS (SELECT 1 FROM expert_availability a WHERE a.expert_id = u.id)`,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("ensure provisioned: %w", err)
	}
	return nil
}

// SetExpertStatus upserts the expert's availability row. Shrinking capacity
// below the current load is rejected as invalid input; assignment of freed
// capacity is left entirely to the next dispatch cycle.
func (s *Store) SetExpertStatus(ctx context.Context, expertID string, isOnline bool, maxConcurrent *int) (core.ExpertAvailability, error) {
	if maxConcurrent != nil && *maxConcurrent < 1 {
		return core.ExpertAvailability{}, fmt.Errorf("%w: max_concurrent_clients must be >= 1", core.ErrInvalidInput)
	}

	var out core.ExpertAvailability
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var role string
		err := tx.QueryRow(`SELECT role FROM users WHERE id = ?`, expertID).Scan(&role)
		if err == sql.ErrNoRows {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("scan role: %w", err)
		}
		if core.Role(role) != core.RoleExpert {
			return core.ErrNotAnExpert
		}

		now := timeText(s.now().UTC())
		if err := provisionExpertTx(tx, expertID, now); err != nil {
			return err
		}

		online := 0
		if isOnline {
			online = 1
		}
		if maxConcurrent != nil {
			// Guarded shrink: refuse to drop capacity below current load.
			res, err := tx.Exec(
				`UPDATE expert_availability
				 SET is_online = ?, max_concurrent_clients = ?, updated_at = ?
				 WHERE expert_id = ? AND current_active_clients <= ?`,
				online, *maxConcurrent, now, expertID, *maxConcurrent,
			)
			if err != nil {
				return fmt.Errorf("update availability: %w", err)
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return fmt.Errorf("%w: cannot shrink capacity below current load", core.ErrInvalidInput)
			}
		} else {
			if _, err := tx.Exec(
				`UPDATE expert_availability SET is_online = ?, updated_at = ? WHERE expert_id = ?`,
				online, now, expertID,
			); err != nil {
				return fmt.Errorf("update availability: %w", err)
			}
		}

		a, err := getAvailabilityTx(tx, expertID)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return core.ExpertAvailability{}, err
	}
	return out, nil
}

func (s *Store) GetAvailability(ctx context.Context, expertID string) (core.ExpertAvailability, error) {
	row := s.db.QueryRow(
		`SELECT expert_id, is_online, max_concurrent_clients, current_active_clients, last_assigned_at, created_at, updated_at
		 FROM expert_availability WHERE expert_id = ?`, expertID)
	a, err := scanAvailability(row)
	if err == sql.ErrNoRows {
		return core.ExpertAvailability{}, core.ErrNotFound
	}
	if err != nil {
		return core.ExpertAvailability{}, fmt.Errorf("scan availability: %w", err)
	}
	return a, nil
}

func getAvailabilityTx(tx *sql.Tx, expertID string) (core.ExpertAvailability, error) {
	row := tx.QueryRow(
		`SELECT expert_id, is_online, max_concurrent_clients, current_active_clients, last_assigned_at, created_at, updated_at
		 FROM expert_availability WHERE expert_id = ?`, expertID)
	a, err := scanAvailability(row)
	if err == sql.ErrNoRows {
		return core.ExpertAvailability{}, core.ErrNotFound
	}
	if err != nil {
		return core.ExpertAvailability{}, fmt.Errorf("scan availability: %w", err)
	}
	return a, nil
}
