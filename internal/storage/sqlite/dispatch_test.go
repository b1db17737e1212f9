package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/mistakeknot/switchboard/internal/core"
	"github.com/mistakeknot/switchboard/internal/storage"
)

const testTTL = 30 * time.Second

func TestDispatchQueueEmpty(t *testing.T) {
	st, _ := NewTestStore(t)
	registerExpert(t, st, "expert-1", nil)

	res, err := st.DispatchAttempt(context.Background(), testTTL)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Outcome != storage.AttemptQueueEmpty {
		t.Fatalf("expected queue_empty, got %s", res.Outcome)
	}
}

func TestDispatchNoExpertLeavesRequestQueued(t *testing.T) {
	st, _ := NewTestStore(t)
	ctx := context.Background()
	expertID := registerExpert(t, st, "expert-1", nil)
	if _, err := st.SetExpertStatus(ctx, expertID, false, nil); err != nil {
		t.Fatalf("go offline: %v", err)
	}
	clientID := registerClient(t, st, "client-1")
	enq, err := st.Enqueue(ctx, clientID)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res, err := st.DispatchAttempt(ctx, testTTL)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Outcome != storage.AttemptNoExpert {
		t.Fatalf("expected no_expert, got %s", res.Outcome)
	}
	req, _ := st.GetRequest(ctx, enq.Request.ID)
	if req.Status != core.StatusQueued {
		t.Fatalf("request must stay queued, got %s", req.Status)
	}
}

func TestDispatchOffersOldestRequestFirst(t *testing.T) {
	st, clock := NewTestStore(t)
	ctx := context.Background()
	registerExpert(t, st, "expert-1", nil)

	c1 := registerClient(t, st, "client-1")
	c2 := registerClient(t, st, "client-2")
	r1, _ := st.Enqueue(ctx, c1)
	clock.Advance(time.Second)
	_, _ = st.Enqueue(ctx, c2)

	res, err := st.DispatchAttempt(ctx, testTTL)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Outcome != storage.AttemptOffered {
		t.Fatalf("expected offered, got %s", res.Outcome)
	}
	if res.Request.ID != r1.Request.ID {
		t.Fatalf("expected oldest request %s, got %s", r1.Request.ID, res.Request.ID)
	}
	if res.Request.OfferExpiresAt == nil {
		t.Fatal("offered request must carry an expiry")
	}
}

func TestPendingOffersCountAgainstCapacity(t *testing.T) {
	st, _ := NewTestStore(t)
	ctx := context.Background()
	registerExpert(t, st, "expert-1", nil) // capacity 1

	c1 := registerClient(t, st, "client-1")
	c2 := registerClient(t, st, "client-2")
	_, _ = st.Enqueue(ctx, c1)
	_, _ = st.Enqueue(ctx, c2)

	first, err := st.DispatchAttempt(ctx, testTTL)
	if err != nil {
		t.Fatalf("dispatch 1: %v", err)
	}
	if first.Outcome != storage.AttemptOffered {
		t.Fatalf("expected offered, got %s", first.Outcome)
	}

	// The unaccepted offer already holds the expert's only slot.
	second, err := st.DispatchAttempt(ctx, testTTL)
	if err != nil {
		t.Fatalf("dispatch 2: %v", err)
	}
	if second.Outcome != storage.AttemptNoExpert {
		t.Fatalf("expected no_expert while an offer is pending, got %s", second.Outcome)
	}
}

func TestFairnessRotatesAcrossExperts(t *testing.T) {
	st, clock := NewTestStore(t)
	ctx := context.Background()
	registerExpert(t, st, "expert-a", nil)
	registerExpert(t, st, "expert-b", nil)

	for _, c := range []string{"client-1", "client-2"} {
		registerClient(t, st, c)
		if _, err := st.Enqueue(ctx, c); err != nil {
			t.Fatalf("enqueue %s: %v", c, err)
		}
		clock.Advance(time.Second)
	}

	first, err := st.DispatchAttempt(ctx, testTTL)
	if err != nil {
		t.Fatalf("dispatch 1: %v", err)
	}
	second, err := st.DispatchAttempt(ctx, testTTL)
	if err != nil {
		t.Fatalf("dispatch 2: %v", err)
	}
	if first.Outcome != storage.AttemptOffered || second.Outcome != storage.AttemptOffered {
		t.Fatalf("expected two offers, got %s and %s", first.Outcome, second.Outcome)
	}
	if first.Request.ExpertID == second.Request.ExpertID {
		t.Fatalf("both offers went to %s; expected rotation", first.Request.ExpertID)
	}
}

func TestExpiredOfferRevertsAndKeepsFIFOPosition(t *testing.T) {
	st, clock := NewTestStore(t)
	ctx := context.Background()
	registerExpert(t, st, "expert-1", nil)

	c1 := registerClient(t, st, "client-1")
	c2 := registerClient(t, st, "client-2")
	r1, _ := st.Enqueue(ctx, c1)
	clock.Advance(time.Second)
	r2, _ := st.Enqueue(ctx, c2)

	offered, err := st.DispatchAttempt(ctx, testTTL)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if offered.Request.ID != r1.Request.ID {
		t.Fatalf("expected %s offered first", r1.Request.ID)
	}

	clock.Advance(testTTL + time.Second)
	reverted, err := st.ExpireOffers(ctx, 0)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(reverted) != 1 || reverted[0].ID != r1.Request.ID {
		t.Fatalf("expected %s reverted, got %+v", r1.Request.ID, reverted)
	}
	if reverted[0].Status != core.StatusQueued {
		t.Fatalf("expected queued after revert, got %s", reverted[0].Status)
	}
	if reverted[0].ExpertID != "" || reverted[0].OfferExpiresAt != nil {
		t.Fatal("revert must clear the offer fields")
	}

	// The reverted request kept its original enqueue time, so it goes
	// ahead of the younger one again.
	got1, _ := st.GetRequest(ctx, r1.Request.ID)
	got2, _ := st.GetRequest(ctx, r2.Request.ID)
	if *got1.Position != 1 || *got2.Position != 2 {
		t.Fatalf("expected positions 1/2, got %d/%d", *got1.Position, *got2.Position)
	}

	next, err := st.DispatchAttempt(ctx, testTTL)
	if err != nil {
		t.Fatalf("redispatch: %v", err)
	}
	if next.Outcome != storage.AttemptOffered || next.Request.ID != r1.Request.ID {
		t.Fatalf("expected %s re-offered, got %s %v", r1.Request.ID, next.Outcome, next.Request)
	}
}

func TestExpireOffersIgnoresLiveOnes(t *testing.T) {
	st, clock := NewTestStore(t)
	ctx := context.Background()
	registerExpert(t, st, "expert-1", nil)
	clientID := registerClient(t, st, "client-1")
	_, _ = st.Enqueue(ctx, clientID)
	if _, err := st.DispatchAttempt(ctx, testTTL); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	clock.Advance(testTTL - time.Second)
	reverted, err := st.ExpireOffers(ctx, 0)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(reverted) != 0 {
		t.Fatalf("offer is still live, nothing should revert: %+v", reverted)
	}
}

func TestTimeOutStaleRequests(t *testing.T) {
	st, clock := NewTestStore(t)
	ctx := context.Background()
	clientID := registerClient(t, st, "client-1")
	enq, _ := st.Enqueue(ctx, clientID)

	// Disabled sweep never times anything out.
	timedOut, err := st.TimeOutStale(ctx, 0, 0)
	if err != nil {
		t.Fatalf("disabled sweep: %v", err)
	}
	if len(timedOut) != 0 {
		t.Fatalf("disabled sweep must be a no-op, got %+v", timedOut)
	}

	clock.Advance(2 * time.Hour)
	timedOut, err = st.TimeOutStale(ctx, time.Hour, 0)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(timedOut) != 1 || timedOut[0].ID != enq.Request.ID {
		t.Fatalf("expected %s timed out, got %+v", enq.Request.ID, timedOut)
	}
	if timedOut[0].Status != core.StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", timedOut[0].Status)
	}

	// Once timed out the client can enqueue again.
	fresh, err := st.Enqueue(ctx, clientID)
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if fresh.Existing {
		t.Fatal("expected a fresh request after timeout")
	}
}

func TestDispatchFIFOWithSubsecondTimestamps(t *testing.T) {
	st, clock := NewTestStore(t)
	ctx := context.Background()
	registerExpert(t, st, "expert-1", nil)

	// Two requests inside the same second, where the older one's stored
	// fraction is a prefix of the newer one's. A trimmed-zero encoding
	// would sort these backwards.
	c1 := registerClient(t, st, "client-1")
	c2 := registerClient(t, st, "client-2")
	clock.Advance(100 * time.Millisecond)
	r1, _ := st.Enqueue(ctx, c1)
	clock.Advance(20 * time.Millisecond)
	if _, err := st.Enqueue(ctx, c2); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res, err := st.DispatchAttempt(ctx, testTTL)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Outcome != storage.AttemptOffered {
		t.Fatalf("expected offered, got %s", res.Outcome)
	}
	if res.Request.ID != r1.Request.ID {
		t.Fatalf("older request %s should be offered first, got %s", r1.Request.ID, res.Request.ID)
	}
}

func TestDispatchNeverPairsExpertWithThemselves(t *testing.T) {
	st, _ := NewTestStore(t)
	ctx := context.Background()
	expertID := registerExpert(t, st, "expert-1", nil)

	// An expert may queue as a client; their own availability must not
	// satisfy their request.
	if _, err := st.Enqueue(ctx, expertID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	res, err := st.DispatchAttempt(ctx, testTTL)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Outcome != storage.AttemptNoExpert {
		t.Fatalf("expected no_expert with only the requester online, got %s", res.Outcome)
	}

	registerExpert(t, st, "expert-2", nil)
	res, err = st.DispatchAttempt(ctx, testTTL)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Outcome != storage.AttemptOffered {
		t.Fatalf("expected offered, got %s", res.Outcome)
	}
	if res.Request.ExpertID != "expert-2" {
		t.Fatalf("expected expert-2, got %s", res.Request.ExpertID)
	}
}

func TestTimeTextOrderMatchesChronology(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(100 * time.Millisecond),
		base.Add(120 * time.Millisecond),
		base.Add(time.Second),
	}
	for i := 1; i < len(times); i++ {
		a, b := timeText(times[i-1]), timeText(times[i])
		if !(a < b) {
			t.Fatalf("encoding not order-preserving: %q >= %q", a, b)
		}
	}
}
