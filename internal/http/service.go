package httpapi

import (
	"context"
	"fmt"
	"log"

	"github.com/mistakeknot/switchboard/internal/config"
	"github.com/mistakeknot/switchboard/internal/core"
	"github.com/mistakeknot/switchboard/internal/dispatch"
	"github.com/mistakeknot/switchboard/internal/storage"
)

// Waker publishes the advisory wake signal to the control loop. Both sides
// tolerate duplicate and missed signals.
type Waker interface {
	Wake()
}

// Service implements the operation contracts the engine exposes to the
// outside: request/cancel/status on the client side, offers on the expert
// side, availability changes, and the operator overview. Authorization is
// enforced here; transactional semantics live in the store; notifications
// go out only after the store has committed.
type Service struct {
	store    storage.Store
	cfg      config.Config
	notifier dispatch.Notifier
	waker    Waker
	engine   *dispatch.Engine
}

func NewService(store storage.Store, cfg config.Config) *Service {
	return &Service{store: store, cfg: cfg, notifier: dispatch.LogNotifier{}}
}

func (s *Service) WithNotifier(n dispatch.Notifier) *Service {
	if n != nil {
		s.notifier = n
	}
	return s
}

func (s *Service) WithWaker(w Waker) *Service {
	s.waker = w
	return s
}

// WithEngine lets the health endpoint report engine stats.
func (s *Service) WithEngine(e *dispatch.Engine) *Service {
	s.engine = e
	return s
}

func (s *Service) wake() {
	if s.waker != nil {
		s.waker.Wake()
	}
}

// RequestConnection enqueues a connection request for the client, or
// returns their existing active request (idempotent submission).
func (s *Service) RequestConnection(ctx context.Context, clientID string) (storage.EnqueueResult, error) {
	res, err := s.store.Enqueue(ctx, clientID)
	if err != nil {
		return storage.EnqueueResult{}, err
	}
	if !res.Existing {
		s.wake()
	}
	return res, nil
}

// GetStatus returns the request if the actor may see it: admins always,
// the owning client, or the request's current expert.
func (s *Service) GetStatus(ctx context.Context, requestID string, actor Actor) (core.ConnectionRequest, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return core.ConnectionRequest{}, err
	}
	if err := authorizeOnRequest(req, actor); err != nil {
		return core.ConnectionRequest{}, err
	}
	return req, nil
}

// Cancel ends the actor's request. No-op when already terminal.
func (s *Service) Cancel(ctx context.Context, requestID string, actor Actor) (core.ConnectionRequest, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return core.ConnectionRequest{}, err
	}
	if err := authorizeOnRequest(req, actor); err != nil {
		return core.ConnectionRequest{}, err
	}
	prior := req.Status
	updated, err := s.store.Cancel(ctx, requestID)
	if err != nil {
		return core.ConnectionRequest{}, err
	}
	if prior.IsActive() {
		// A cancelled queue slot or a freed expert slot may unblock the
		// next pairing.
		s.wake()
		if updated.ExpertID != "" && actor.ID != updated.ExpertID {
			s.notify(updated.ExpertID, dispatch.Notification{
				Title: "Session cancelled",
				Body:  "The client cancelled the connection.",
				Data:  map[string]string{"request_id": updated.ID},
			}, "request.cancelled")
		}
	}
	return updated, nil
}

// SetExpertOnlineStatus changes eligibility for the next dispatch attempt.
// It never assigns anything itself: freed or added capacity is picked up by
// the woken control loop, which keeps a single authority over transitions
// out of queued.
func (s *Service) SetExpertOnlineStatus(ctx context.Context, expertID string, isOnline bool, maxConcurrent *int, actor Actor) (core.ExpertAvailability, error) {
	if actor.Role != core.RoleAdmin && actor.ID != expertID {
		return core.ExpertAvailability{}, fmt.Errorf("%w: cannot change another expert's availability", core.ErrAccessDenied)
	}
	avail, err := s.store.SetExpertStatus(ctx, expertID, isOnline, maxConcurrent)
	if err != nil {
		return core.ExpertAvailability{}, err
	}
	s.wake()
	return avail, nil
}

// ListMyOffers returns the expert's un-expired offers.
func (s *Service) ListMyOffers(ctx context.Context, expertID string) ([]core.ConnectionRequest, error) {
	return s.store.ListOffers(ctx, expertID)
}

// Accept assigns the offer to the expert. An offer whose TTL lapsed before
// the sweep noticed is a soft miss, reported via Expired.
func (s *Service) Accept(ctx context.Context, requestID, expertID string) (storage.AcceptResult, error) {
	res, err := s.store.AcceptOffer(ctx, requestID, expertID)
	if err != nil {
		return storage.AcceptResult{}, err
	}
	if res.Expired {
		// The request went back to the queue; let dispatch re-pair it.
		s.wake()
		return res, nil
	}
	s.notify(res.Request.ClientID, dispatch.Notification{
		Title: "Expert found",
		Body:  "An expert accepted your connection request.",
		Data:  map[string]string{"request_id": res.Request.ID, "expert_id": expertID},
	}, "request.assigned")
	return res, nil
}

// Reject reverts the offer to queued, keeping the request's place in line.
func (s *Service) Reject(ctx context.Context, requestID, expertID, reason string) (core.ConnectionRequest, error) {
	req, err := s.store.RejectOffer(ctx, requestID, expertID, reason)
	if err != nil {
		return core.ConnectionRequest{}, err
	}
	// Other experts may be eligible right now.
	s.wake()
	return req, nil
}

// MarkConnected records that the session actually started.
func (s *Service) MarkConnected(ctx context.Context, requestID string, actor Actor) (core.ConnectionRequest, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return core.ConnectionRequest{}, err
	}
	if err := authorizeOnRequest(req, actor); err != nil {
		return core.ConnectionRequest{}, err
	}
	return s.store.MarkConnected(ctx, requestID)
}

// Complete finishes the session and frees the expert's slot.
func (s *Service) Complete(ctx context.Context, requestID string, actor Actor) (core.ConnectionRequest, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return core.ConnectionRequest{}, err
	}
	if err := authorizeOnRequest(req, actor); err != nil {
		return core.ConnectionRequest{}, err
	}
	prior := req.Status
	updated, err := s.store.Complete(ctx, requestID)
	if err != nil {
		return core.ConnectionRequest{}, err
	}
	if prior.IsActive() {
		s.wake()
	}
	return updated, nil
}

// QueueOverview is the operator dashboard aggregate.
func (s *Service) QueueOverview(ctx context.Context) (core.QueueOverview, error) {
	return s.store.Overview(ctx, s.cfg.RejectionStatsWindow)
}

// RegisterUser creates a user; experts are provisioned with a default
// availability row in the same transaction.
func (s *Service) RegisterUser(ctx context.Context, u core.User) (core.User, error) {
	created, err := s.store.RegisterUser(ctx, u)
	if err != nil {
		return core.User{}, err
	}
	if created.Role == core.RoleExpert {
		s.wake()
	}
	return created, nil
}

func (s *Service) notify(userID string, n dispatch.Notification, eventKey string) {
	if s.notifier == nil {
		return
	}
	// Fire-and-forget; the store already committed.
	if err := s.notifier.Notify(userID, n, eventKey); err != nil {
		log.Printf("api: notify %s (%s): %v", userID, eventKey, err)
	}
}

// authorizeOnRequest: admin always; the owning client; the request's
// current expert.
func authorizeOnRequest(req core.ConnectionRequest, actor Actor) error {
	if actor.Role == core.RoleAdmin {
		return nil
	}
	if actor.ID == req.ClientID {
		return nil
	}
	if req.ExpertID != "" && actor.ID == req.ExpertID {
		return nil
	}
	return fmt.Errorf("%w: not a participant of this request", core.ErrAccessDenied)
}
