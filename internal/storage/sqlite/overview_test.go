package sqlite

import (
	"context"
	"testing"
	"time"
)

func TestOverviewAggregates(t *testing.T) {
	st, clock := NewTestStore(t)
	ctx := context.Background()

	max := 2
	expertID := registerExpert(t, st, "expert-1", &max)
	offline := registerExpert(t, st, "expert-2", nil)
	if _, err := st.SetExpertStatus(ctx, offline, false, nil); err != nil {
		t.Fatalf("go offline: %v", err)
	}

	c1 := registerClient(t, st, "client-1")
	c2 := registerClient(t, st, "client-2")
	c3 := registerClient(t, st, "client-3")

	// client-1 ends up assigned, client-2 gets rejected back into the
	// queue, client-3 just waits.
	assignRequest(t, st, c1, expertID)
	clock.Advance(time.Second)
	r2, _ := st.Enqueue(ctx, c2)
	clock.Advance(time.Second)
	_, _ = st.Enqueue(ctx, c3)
	res, err := st.DispatchAttempt(ctx, testTTL)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Request.ID != r2.Request.ID {
		t.Fatalf("expected %s offered, got %s", r2.Request.ID, res.Request.ID)
	}
	if _, err := st.RejectOffer(ctx, r2.Request.ID, expertID, "wrong speciality"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	ov, err := st.Overview(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.Queued != 2 {
		t.Fatalf("expected 2 queued, got %d", ov.Queued)
	}
	if ov.Assigned != 1 {
		t.Fatalf("expected 1 assigned, got %d", ov.Assigned)
	}
	if ov.TotalExperts != 2 || ov.OnlineExperts != 1 {
		t.Fatalf("expected 2 experts / 1 online, got %d/%d", ov.TotalExperts, ov.OnlineExperts)
	}
	if ov.TotalCapacity != 2 || ov.ActiveClients != 1 {
		t.Fatalf("expected capacity 2 / active 1, got %d/%d", ov.TotalCapacity, ov.ActiveClients)
	}
	if ov.RecentRejected != 1 {
		t.Fatalf("expected 1 rejection, got %d", ov.RecentRejected)
	}
	if len(ov.TopRejectReasons) != 1 || ov.TopRejectReasons[0].Reason != "wrong speciality" {
		t.Fatalf("expected the rejection reason, got %+v", ov.TopRejectReasons)
	}
	if ov.AvgAssignWaitSeconds == nil {
		t.Fatal("expected an assignment latency average")
	}
}

func TestOverviewWindowExcludesOldRejections(t *testing.T) {
	st, clock := NewTestStore(t)
	ctx := context.Background()
	expertID := registerExpert(t, st, "expert-1", nil)
	clientID := registerClient(t, st, "client-1")
	enq, _ := st.Enqueue(ctx, clientID)
	if _, err := st.DispatchAttempt(ctx, testTTL); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := st.RejectOffer(ctx, enq.Request.ID, expertID, "busy"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	clock.Advance(48 * time.Hour)
	ov, err := st.Overview(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.RecentRejected != 0 {
		t.Fatalf("old rejection must fall outside the window, got %d", ov.RecentRejected)
	}
}
