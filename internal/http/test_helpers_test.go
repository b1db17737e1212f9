package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mistakeknot/switchboard/internal/config"
	"github.com/mistakeknot/switchboard/internal/core"
	"github.com/mistakeknot/switchboard/internal/storage/sqlite"
	"github.com/mistakeknot/switchboard/internal/ws"
)

// testEnv bundles a Service, its store and an httptest.Server for handler
// tests. Dispatch runs only when a test drives it through the store.
type testEnv struct {
	srv   *httptest.Server
	store *sqlite.Store
	clock *sqlite.TestClock
	cfg   config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, clock := sqlite.NewTestStore(t)
	cfg := config.Default()
	hub := ws.NewHub()
	svc := NewService(st, cfg).WithNotifier(hub)
	srv := httptest.NewServer(NewRouter(svc, hub.Handler()))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: st, clock: clock, cfg: cfg}
}

// do issues a request with actor headers. Empty actorID sends no identity.
func (e *testEnv) do(t *testing.T, method, path, actorID, actorRole string, body any) *http.Response {
	t.Helper()
	var buf *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		buf = bytes.NewReader(data)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actorID != "" {
		req.Header.Set("X-Actor-ID", actorID)
		req.Header.Set("X-Actor-Role", actorRole)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// registerUser creates a user directly in the store.
func (e *testEnv) registerUser(t *testing.T, id string, role core.Role) string {
	t.Helper()
	u, err := e.store.RegisterUser(context.Background(), core.User{ID: id, Name: id, Role: role})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return u.ID
}

// enqueue creates a queued request for the client directly in the store.
func (e *testEnv) enqueue(t *testing.T, clientID string) core.ConnectionRequest {
	t.Helper()
	res, err := e.store.Enqueue(context.Background(), clientID)
	if err != nil {
		t.Fatalf("enqueue %s: %v", clientID, err)
	}
	return res.Request
}

// dispatchOffer runs one dispatch attempt and fails unless it offers.
func (e *testEnv) dispatchOffer(t *testing.T) core.ConnectionRequest {
	t.Helper()
	res, err := e.store.DispatchAttempt(context.Background(), e.cfg.OfferTTL)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Request == nil {
		t.Fatalf("expected an offer, got %s", res.Outcome)
	}
	return *res.Request
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d", want, resp.StatusCode)
	}
}
