package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mistakeknot/switchboard/internal/core"
)

func (s *Store) RegisterUser(ctx context.Context, u core.User) (core.User, error) {
	u.Name = strings.TrimSpace(u.Name)
	if u.Name == "" {
		return core.User{}, fmt.Errorf("%w: name required", core.ErrInvalidInput)
	}
	switch u.Role {
	case core.RoleClient, core.RoleExpert, core.RoleAdmin:
	case "":
		u.Role = core.RoleClient
	default:
		return core.User{}, fmt.Errorf("%w: unknown role %q", core.ErrInvalidInput, u.Role)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO users (id, name, role, created_at) VALUES (?, ?, ?, ?)`,
			u.ID, u.Name, string(u.Role), timeText(u.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		// Experts get a default availability row right away so dispatch
		// never has to special-case a missing one.
		if u.Role == core.RoleExpert {
			return provisionExpertTx(tx, u.ID, timeText(s.now().UTC()))
		}
		return nil
	})
	if err != nil {
		return core.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (core.User, error) {
	row := s.db.QueryRow(`SELECT id, name, role, created_at FROM users WHERE id = ?`, id)
	var u core.User
	var role, createdAt string
	err := row.Scan(&u.ID, &u.Name, &role, &createdAt)
	if err == sql.ErrNoRows {
		return core.User{}, core.ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.Role = core.Role(role)
	u.CreatedAt = parseTimeText(createdAt)
	return u, nil
}
