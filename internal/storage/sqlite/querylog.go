package sqlite

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"
)

const slowQueryThreshold = 100 * time.Millisecond

// dbHandle is satisfied by both *sql.DB and *queryLogger so the Store can
// run with or without slow-query logging.
type dbHandle interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

// queryLogger wraps a *sql.DB and logs statements that cross the slow-query
// threshold. Dispatch claims are supposed to be short; anything slow here
// is stretching a claim window.
type queryLogger struct {
	inner *sql.DB
}

func (q *queryLogger) Exec(query string, args ...any) (sql.Result, error) {
	start := time.Now()
	result, err := q.inner.Exec(query, args...)
	q.logIfSlow(start, query)
	return result, err
}

func (q *queryLogger) Query(query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := q.inner.Query(query, args...)
	q.logIfSlow(start, query)
	return rows, err
}

func (q *queryLogger) QueryRow(query string, args ...any) *sql.Row {
	start := time.Now()
	row := q.inner.QueryRow(query, args...)
	q.logIfSlow(start, query)
	return row
}

func (q *queryLogger) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return q.inner.BeginTx(ctx, opts)
}

func (q *queryLogger) Close() error {
	return q.inner.Close()
}

func (q *queryLogger) logIfSlow(start time.Time, query string) {
	if d := time.Since(start); d >= slowQueryThreshold {
		log.Printf("store: slow query (%s): %s", d.Round(time.Millisecond), truncateQuery(query))
	}
}

func truncateQuery(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if len(query) > 120 {
		return query[:120] + "..."
	}
	return query
}
