package dispatch

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mistakeknot/switchboard/internal/config"
	"github.com/mistakeknot/switchboard/internal/core"
	"github.com/mistakeknot/switchboard/internal/storage"
)

// Stats is a point-in-time snapshot of the engine's activity.
type Stats struct {
	Running       bool       `json:"running"`
	Cycles        int64      `json:"cycles"`
	OffersCreated int64      `json:"offers_created"`
	OffersExpired int64      `json:"offers_expired"`
	QueueTimeouts int64      `json:"queue_timeouts"`
	LastCycleAt   *time.Time `json:"last_cycle_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
}

// Engine drives dispatch: each cycle runs the expiry sweep, the optional
// queue-timeout sweep, then one bounded batch of dispatch attempts. Two
// producers trigger cycles, an advisory wake signal and a fixed-interval
// ticker, both feeding one single-slot channel, so redundant triggers collapse
// instead of stacking and at most one cycle is ever in flight.
type Engine struct {
	store    storage.Store
	cfg      config.Config
	notifier Notifier

	wake    chan struct{}
	cycling atomic.Bool

	mu     sync.Mutex
	stats  Stats
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(store storage.Store, cfg config.Config, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Engine{
		store:    store,
		cfg:      cfg,
		notifier: notifier,
		wake:     make(chan struct{}, 1),
	}
}

// Wake asks for a cycle soon. Best-effort and advisory: safe to call from
// anywhere, duplicates collapse, and a lost signal is covered by the
// interval ticker.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Start launches the control loop goroutine.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.done != nil {
		e.mu.Unlock()
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	done := e.done
	e.stats.Running = true
	e.mu.Unlock()

	go func() {
		defer close(done)
		e.loop(ctx)
		e.mu.Lock()
		e.stats.Running = false
		e.mu.Unlock()
	}()
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (e *Engine) Snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.LastCycleAt = cloneTime(e.stats.LastCycleAt)
	s.LastErrorAt = cloneTime(e.stats.LastErrorAt)
	return s
}

func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.DispatchInterval)
	defer ticker.Stop()

	e.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunCycle(ctx)
		case <-e.wake:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle runs one sweep-then-dispatch cycle. Re-entrant calls collapse:
// a call that finds a cycle already in flight re-arms the wake signal so
// another cycle follows promptly, and returns.
func (e *Engine) RunCycle(ctx context.Context) {
	if !e.cycling.CompareAndSwap(false, true) {
		e.Wake()
		return
	}
	defer e.cycling.Store(false)

	now := time.Now().UTC()
	e.mu.Lock()
	e.stats.Cycles++
	e.stats.LastCycleAt = &now
	e.mu.Unlock()

	if err := e.store.EnsureProvisioned(ctx); err != nil {
		e.recordError("ensure provisioned", err)
	}

	e.sweepExpired(ctx)
	e.sweepStale(ctx)
	e.dispatchBatch(ctx)
}

func (e *Engine) sweepExpired(ctx context.Context) {
	reverted, err := e.store.ExpireOffers(ctx, e.cfg.SweepLimit)
	if err != nil {
		e.recordError("expire offers", err)
		return
	}
	if len(reverted) == 0 {
		return
	}
	log.Printf("dispatch: reverted %d expired offer(s)", len(reverted))
	e.mu.Lock()
	e.stats.OffersExpired += int64(len(reverted))
	e.mu.Unlock()
	for _, req := range reverted {
		notify(e.notifier, req.ClientID, Notification{
			Title: "Still looking for an expert",
			Body:  "The expert did not respond in time; you kept your place in line.",
			Data:  map[string]string{"request_id": req.ID},
		}, "offer.expired")
	}
}

func (e *Engine) sweepStale(ctx context.Context) {
	if e.cfg.MaxQueueWait <= 0 {
		return
	}
	timedOut, err := e.store.TimeOutStale(ctx, e.cfg.MaxQueueWait, e.cfg.SweepLimit)
	if err != nil {
		e.recordError("time out stale", err)
		return
	}
	if len(timedOut) == 0 {
		return
	}
	log.Printf("dispatch: timed out %d stale request(s)", len(timedOut))
	e.mu.Lock()
	e.stats.QueueTimeouts += int64(len(timedOut))
	e.mu.Unlock()
	for _, req := range timedOut {
		notify(e.notifier, req.ClientID, Notification{
			Title: "No expert became available",
			Body:  "Your connection request timed out. Please try again later.",
			Data:  map[string]string{"request_id": req.ID},
		}, "request.timed_out")
	}
}

// dispatchBatch runs attempts until the batch bound, stopping early when
// the queue is empty or no expert is eligible; both shortages are global,
// so retrying inside the same cycle cannot help.
func (e *Engine) dispatchBatch(ctx context.Context) {
	for i := 0; i < e.cfg.MaxAttemptsPerCycle; i++ {
		res, err := e.store.DispatchAttempt(ctx, e.cfg.OfferTTL)
		if err != nil {
			e.recordError("dispatch attempt", err)
			return
		}
		switch res.Outcome {
		case storage.AttemptQueueEmpty, storage.AttemptNoExpert:
			return
		case storage.AttemptContested:
			continue
		case storage.AttemptOffered:
			e.mu.Lock()
			e.stats.OffersCreated++
			e.mu.Unlock()
			e.notifyOffer(res.Request)
		}
	}
}

func (e *Engine) notifyOffer(req *core.ConnectionRequest) {
	if req == nil {
		return
	}
	data := map[string]string{"request_id": req.ID, "client_id": req.ClientID}
	if req.OfferExpiresAt != nil {
		data["expires_at"] = req.OfferExpiresAt.Format(time.RFC3339Nano)
	}
	notify(e.notifier, req.ExpertID, Notification{
		Title: "New connection offer",
		Body:  "A client is waiting to connect with you.",
		Data:  data,
	}, "offer.created")
}

func (e *Engine) recordError(op string, err error) {
	log.Printf("dispatch: %s: %v", op, err)
	now := time.Now().UTC()
	e.mu.Lock()
	e.stats.LastError = op + ": " + err.Error()
	e.stats.LastErrorAt = &now
	e.mu.Unlock()
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
