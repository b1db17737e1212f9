package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/mistakeknot/switchboard/internal/core"
)

func TestRegisterUserDefaultsToClient(t *testing.T) {
	st, _ := NewTestStore(t)
	ctx := context.Background()

	u, err := st.RegisterUser(ctx, core.User{Name: "ada"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected generated id")
	}
	if u.Role != core.RoleClient {
		t.Fatalf("expected client role, got %s", u.Role)
	}

	got, err := st.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Name != "ada" {
		t.Fatalf("expected ada, got %s", got.Name)
	}
}

func TestRegisterUserRejectsBadInput(t *testing.T) {
	st, _ := NewTestStore(t)
	ctx := context.Background()

	if _, err := st.RegisterUser(ctx, core.User{Name: "  "}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty name, got %v", err)
	}
	if _, err := st.RegisterUser(ctx, core.User{Name: "x", Role: "wizard"}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown role, got %v", err)
	}
}

func TestRegisterExpertProvisionsAvailability(t *testing.T) {
	st, _ := NewTestStore(t)
	ctx := context.Background()

	u, err := st.RegisterUser(ctx, core.User{ID: "expert-1", Name: "eva", Role: core.RoleExpert})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	a, err := st.GetAvailability(ctx, u.ID)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if !a.IsOnline {
		t.Fatal("expected default online")
	}
	if a.MaxConcurrentClients != 1 || a.CurrentActiveClients != 0 {
		t.Fatalf("expected capacity 1/0, got %d/%d", a.MaxConcurrentClients, a.CurrentActiveClients)
	}
}

func TestGetUserNotFound(t *testing.T) {
	st, _ := NewTestStore(t)
	if _, err := st.GetUser(context.Background(), "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEnsureProvisionedBackfills(t *testing.T) {
	st, clock := NewTestStore(t)
	ctx := context.Background()

	// An expert row created outside RegisterUser has no availability yet.
	if _, err := st.db.Exec(
		`INSERT INTO users (id, name, role, created_at) VALUES ('expert-x', 'x', 'expert', ?)`,
		timeText(clock.Now()),
	); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if _, err := st.GetAvailability(ctx, "expert-x"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found before provisioning, got %v", err)
	}

	if err := st.EnsureProvisioned(ctx); err != nil {
		t.Fatalf("ensure provisioned: %v", err)
	}
	a, err := st.GetAvailability(ctx, "expert-x")
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if a.MaxConcurrentClients != 1 {
		t.Fatalf("expected default capacity 1, got %d", a.MaxConcurrentClients)
	}
}
