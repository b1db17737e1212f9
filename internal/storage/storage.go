package storage

import (
	"context"
	"time"

	"github.com/mistakeknot/switchboard/internal/core"
)

// AttemptOutcome classifies one dispatch attempt.
type AttemptOutcome string

const (
	// AttemptOffered means a request/expert pair was transitioned to offered.
	AttemptOffered AttemptOutcome = "offered"
	// AttemptQueueEmpty means no queued request was available to claim.
	AttemptQueueEmpty AttemptOutcome = "queue_empty"
	// AttemptNoExpert means a request was available but no eligible expert.
	// The shortage is global, so batch drivers stop instead of retrying.
	AttemptNoExpert AttemptOutcome = "no_expert"
	// AttemptContested means a concurrent worker claimed the row first.
	// The attempt is a skip, not a failure; the next attempt may succeed.
	AttemptContested AttemptOutcome = "contested"
)

// AttemptResult reports what one dispatch attempt did. Request is set only
// when Outcome is AttemptOffered.
type AttemptResult struct {
	Outcome AttemptOutcome
	Request *core.ConnectionRequest
}

// EnqueueResult is the outcome of a connection request submission.
// Existing is true when the client already had an active request and it
// was returned unchanged.
type EnqueueResult struct {
	Request  core.ConnectionRequest
	Existing bool
}

// AcceptResult is the outcome of an expert accepting an offer. Expired is
// true when the offer's TTL had already lapsed: the request was reverted to
// queued and no assignment happened.
type AcceptResult struct {
	Request core.ConnectionRequest
	Expired bool
}

// Store is the sole coordination point between dispatcher workers. Every
// invariant-bearing transition runs inside one short transaction that
// claims rows by guarded update: zero rows affected means another worker
// won the race and the caller skips or reports a conflict. No in-process
// locks, no leader election.
type Store interface {
	// Users
	RegisterUser(ctx context.Context, u core.User) (core.User, error)
	GetUser(ctx context.Context, id string) (core.User, error)

	// Availability registry
	EnsureProvisioned(ctx context.Context) error
	SetExpertStatus(ctx context.Context, expertID string, isOnline bool, maxConcurrent *int) (core.ExpertAvailability, error)
	GetAvailability(ctx context.Context, expertID string) (core.ExpertAvailability, error)

	// Connection queue
	Enqueue(ctx context.Context, clientID string) (EnqueueResult, error)
	GetRequest(ctx context.Context, id string) (core.ConnectionRequest, error)

	// Matching dispatcher
	DispatchAttempt(ctx context.Context, offerTTL time.Duration) (AttemptResult, error)
	ExpireOffers(ctx context.Context, limit int) ([]core.ConnectionRequest, error)
	TimeOutStale(ctx context.Context, maxQueueWait time.Duration, limit int) ([]core.ConnectionRequest, error)

	// Offer lifecycle
	ListOffers(ctx context.Context, expertID string) ([]core.ConnectionRequest, error)
	AcceptOffer(ctx context.Context, requestID, expertID string) (AcceptResult, error)
	RejectOffer(ctx context.Context, requestID, expertID, reason string) (core.ConnectionRequest, error)

	// Downstream transitions. Terminal rows are returned unchanged.
	MarkConnected(ctx context.Context, requestID string) (core.ConnectionRequest, error)
	Complete(ctx context.Context, requestID string) (core.ConnectionRequest, error)
	Cancel(ctx context.Context, requestID string) (core.ConnectionRequest, error)

	// Reporting
	Overview(ctx context.Context, statsWindow time.Duration) (core.QueueOverview, error)
}
