package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mistakeknot/switchboard/internal/core"
)

//go:embed schema.sql
var schema string

// Options tune store behavior that the dispatch semantics depend on.
type Options struct {
	// AverageSessionSeconds feeds the wave-based wait estimate. Zero means
	// the default of 600.
	AverageSessionSeconds int

	// Now overrides the clock, for tests with simulated time.
	Now func() time.Time
}

// Store implements storage.Store on a single SQLite database. All
// claim paths run inside immediate transactions and detect lost races by
// checking rows-affected on guarded updates.
type Store struct {
	db         dbHandle
	now        func() time.Time
	avgSession int
}

func New(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	return open(dsn, opts)
}

func NewInMemory(opts Options) (*Store, error) {
	return open(":memory:", opts)
}

func open(dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite is single-writer; limit to 1 connection to avoid SQLITE_BUSY.
	// This also makes ":memory:" safe (each connection gets a separate DB).
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{
		db:         &queryLogger{inner: db},
		now:        time.Now,
		avgSession: 600,
	}
	if opts.AverageSessionSeconds > 0 {
		s.avgSession = opts.AverageSessionSeconds
	}
	if opts.Now != nil {
		s.now = opts.Now
	}
	return s, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside one transaction, rolling back on any error. The
// connection DSN requests immediate transactions so the write lock is taken
// up front, keeping claim windows short.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Timestamps are stored as fixed-width UTC text so that lexicographic
// order in SQL equals chronological order. RFC3339Nano trims trailing
// fractional zeros, which would make "…00.1Z" sort after "…00.12Z".
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timeText(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeText(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTimeText(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeText(*t)
}

func timeFromNull(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTimeText(ns.String)
	return &t
}

func intFromNull(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

type scanner interface {
	Scan(dest ...any) error
}

const requestColumns = `id, client_id, expert_id, status, position, estimated_wait_seconds,
	offered_at, offer_expires_at, assigned_at, connected_at, completed_at, cancelled_at,
	rejected_at, rejected_reason, created_at, updated_at`

func scanRequest(row scanner) (core.ConnectionRequest, error) {
	var r core.ConnectionRequest
	var expertID, rejectedReason sql.NullString
	var position, wait sql.NullInt64
	var offeredAt, expiresAt, assignedAt, connectedAt sql.NullString
	var completedAt, cancelledAt, rejectedAt sql.NullString
	var status, createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.ClientID, &expertID, &status, &position, &wait,
		&offeredAt, &expiresAt, &assignedAt, &connectedAt, &completedAt, &cancelledAt,
		&rejectedAt, &rejectedReason, &createdAt, &updatedAt)
	if err != nil {
		return core.ConnectionRequest{}, err
	}
	r.ExpertID = expertID.String
	r.Status = core.RequestStatus(status)
	r.Position = intFromNull(position)
	r.EstimatedWaitSeconds = intFromNull(wait)
	r.OfferedAt = timeFromNull(offeredAt)
	r.OfferExpiresAt = timeFromNull(expiresAt)
	r.AssignedAt = timeFromNull(assignedAt)
	r.ConnectedAt = timeFromNull(connectedAt)
	r.CompletedAt = timeFromNull(completedAt)
	r.CancelledAt = timeFromNull(cancelledAt)
	r.RejectedAt = timeFromNull(rejectedAt)
	r.RejectedReason = rejectedReason.String
	r.CreatedAt = parseTimeText(createdAt)
	r.UpdatedAt = parseTimeText(updatedAt)
	return r, nil
}

func scanAvailability(row scanner) (core.ExpertAvailability, error) {
	var a core.ExpertAvailability
	var online int
	var lastAssigned sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&a.ExpertID, &online, &a.MaxConcurrentClients, &a.CurrentActiveClients,
		&lastAssigned, &createdAt, &updatedAt)
	if err != nil {
		return core.ExpertAvailability{}, err
	}
	a.IsOnline = online != 0
	a.LastAssignedAt = timeFromNull(lastAssigned)
	a.CreatedAt = parseTimeText(createdAt)
	a.UpdatedAt = parseTimeText(updatedAt)
	return a, nil
}

func getRequestTx(tx *sql.Tx, id string) (core.ConnectionRequest, error) {
	row := tx.QueryRow(`SELECT `+requestColumns+` FROM connection_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return core.ConnectionRequest{}, core.ErrNotFound
	}
	if err != nil {
		return core.ConnectionRequest{}, fmt.Errorf("scan request: %w", err)
	}
	return req, nil
}
