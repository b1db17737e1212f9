package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/mistakeknot/switchboard/internal/core"
	"github.com/mistakeknot/switchboard/internal/storage"
)

// Compile-time interface checks.
var (
	_ storage.Store = (*Store)(nil)
	_ storage.Store = (*ResilientStore)(nil)
)

// ResilientStore wraps every Store method with circuit breaker + busy retry
// so transient SQLite contention never reaches callers as a hard error.
type ResilientStore struct {
	inner *Store
	cb    *CircuitBreaker
}

// NewResilient wraps a store with default breaker settings
// (threshold=5, resetTimeout=30s).
func NewResilient(inner *Store) *ResilientStore {
	return &ResilientStore{inner: inner, cb: NewCircuitBreaker(5, 30*time.Second)}
}

// NewResilientWithBreaker wraps a store with a custom breaker.
func NewResilientWithBreaker(inner *Store, cb *CircuitBreaker) *ResilientStore {
	return &ResilientStore{inner: inner, cb: cb}
}

// CircuitBreakerState exposes the breaker state for health endpoints.
func (r *ResilientStore) CircuitBreakerState() string {
	return r.cb.State().String()
}

func (r *ResilientStore) Close() error {
	return r.inner.Close()
}

// guard runs fn through the breaker and the busy-retry policy. Domain
// outcomes (not found, conflict, bad input) are routine and must not trip
// the breaker or trigger retries; only infrastructure errors count.
func (r *ResilientStore) guard(fn func() error) error {
	var domainErr error
	err := r.cb.Execute(func() error {
		return RetryOnBusy(func() error {
			domainErr = nil
			err := fn()
			if isDomainError(err) {
				domainErr = err
				return nil
			}
			return err
		})
	})
	if err == nil && domainErr != nil {
		return domainErr
	}
	return err
}

func isDomainError(err error) bool {
	return errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, core.ErrAccessDenied) ||
		errors.Is(err, core.ErrInvalidInput) ||
		errors.Is(err, core.ErrConflict) ||
		errors.Is(err, core.ErrNotAnExpert)
}

func (r *ResilientStore) RegisterUser(ctx context.Context, u core.User) (core.User, error) {
	var result core.User
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.RegisterUser(ctx, u)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) GetUser(ctx context.Context, id string) (core.User, error) {
	var result core.User
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.GetUser(ctx, id)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) EnsureProvisioned(ctx context.Context) error {
	return r.guard(func() error {
		return r.inner.EnsureProvisioned(ctx)
	})
}

func (r *ResilientStore) SetExpertStatus(ctx context.Context, expertID string, isOnline bool, maxConcurrent *int) (core.ExpertAvailability, error) {
	var result core.ExpertAvailability
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.SetExpertStatus(ctx, expertID, isOnline, maxConcurrent)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) GetAvailability(ctx context.Context, expertID string) (core.ExpertAvailability, error) {
	var result core.ExpertAvailability
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.GetAvailability(ctx, expertID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) Enqueue(ctx context.Context, clientID string) (storage.EnqueueResult, error) {
	var result storage.EnqueueResult
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.Enqueue(ctx, clientID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) GetRequest(ctx context.Context, id string) (core.ConnectionRequest, error) {
	var result core.ConnectionRequest
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.GetRequest(ctx, id)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) DispatchAttempt(ctx context.Context, offerTTL time.Duration) (storage.AttemptResult, error) {
	var result storage.AttemptResult
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.DispatchAttempt(ctx, offerTTL)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) ExpireOffers(ctx context.Context, limit int) ([]core.ConnectionRequest, error) {
	var result []core.ConnectionRequest
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.ExpireOffers(ctx, limit)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) TimeOutStale(ctx context.Context, maxQueueWait time.Duration, limit int) ([]core.ConnectionRequest, error) {
	var result []core.ConnectionRequest
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.TimeOutStale(ctx, maxQueueWait, limit)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) ListOffers(ctx context.Context, expertID string) ([]core.ConnectionRequest, error) {
	var result []core.ConnectionRequest
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.ListOffers(ctx, expertID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) AcceptOffer(ctx context.Context, requestID, expertID string) (storage.AcceptResult, error) {
	var result storage.AcceptResult
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.AcceptOffer(ctx, requestID, expertID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) RejectOffer(ctx context.Context, requestID, expertID, reason string) (core.ConnectionRequest, error) {
	var result core.ConnectionRequest
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.RejectOffer(ctx, requestID, expertID, reason)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) MarkConnected(ctx context.Context, requestID string) (core.ConnectionRequest, error) {
	var result core.ConnectionRequest
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.MarkConnected(ctx, requestID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) Complete(ctx context.Context, requestID string) (core.ConnectionRequest, error) {
	var result core.ConnectionRequest
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.Complete(ctx, requestID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) Cancel(ctx context.Context, requestID string) (core.ConnectionRequest, error) {
	var result core.ConnectionRequest
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.Cancel(ctx, requestID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) Overview(ctx context.Context, statsWindow time.Duration) (core.QueueOverview, error) {
	var result core.QueueOverview
	err := r.guard(func() error {
		var innerErr error
		result, innerErr = r.inner.Overview(ctx, statsWindow)
		return innerErr
	})
	return result, err
}
