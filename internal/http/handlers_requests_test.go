package httpapi

import (
	"net/http"
	"testing"

	"github.com/mistakeknot/switchboard/internal/core"
)

func TestSubmitRequestCreatesQueued(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "client-1", core.RoleClient)

	resp := env.do(t, http.MethodPost, "/api/requests", "client-1", "client", map[string]string{})
	requireStatus(t, resp, http.StatusCreated)
	body := decodeJSON[requestConnectionResponse](t, resp)
	if body.IsExisting {
		t.Fatal("fresh submission reported as existing")
	}
	if body.Status != core.StatusQueued {
		t.Fatalf("expected queued, got %s", body.Status)
	}
	if body.Request.Position == nil || *body.Request.Position != 1 {
		t.Fatalf("expected position 1, got %v", body.Request.Position)
	}
}

func TestSubmitRequestIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "client-1", core.RoleClient)

	first := decodeJSON[requestConnectionResponse](t,
		env.do(t, http.MethodPost, "/api/requests", "client-1", "client", map[string]string{}))

	resp := env.do(t, http.MethodPost, "/api/requests", "client-1", "client", map[string]string{})
	requireStatus(t, resp, http.StatusOK)
	second := decodeJSON[requestConnectionResponse](t, resp)
	if !second.IsExisting {
		t.Fatal("resubmission not reported as existing")
	}
	if second.Request.ID != first.Request.ID {
		t.Fatalf("resubmission returned a different request: %s vs %s", second.Request.ID, first.Request.ID)
	}
}

func TestSubmitForAnotherClientForbidden(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "client-1", core.RoleClient)
	env.registerUser(t, "client-2", core.RoleClient)

	resp := env.do(t, http.MethodPost, "/api/requests", "client-1", "client",
		map[string]string{"client_id": "client-2"})
	requireStatus(t, resp, http.StatusForbidden)
}

func TestAdminSubmitsOnBehalfOfClient(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "client-1", core.RoleClient)

	resp := env.do(t, http.MethodPost, "/api/requests", "ops-1", "admin",
		map[string]string{"client_id": "client-1"})
	requireStatus(t, resp, http.StatusCreated)
	body := decodeJSON[requestConnectionResponse](t, resp)
	if body.Request.ClientID != "client-1" {
		t.Fatalf("expected request for client-1, got %s", body.Request.ClientID)
	}
}

func TestMissingActorRejected(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/requests", "", "", map[string]string{})
	requireStatus(t, resp, http.StatusUnauthorized)
}

func TestUnknownClientNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/requests", "ghost", "client", map[string]string{})
	requireStatus(t, resp, http.StatusNotFound)
}

func TestRequestStatusVisibility(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "client-1", core.RoleClient)
	env.registerUser(t, "client-2", core.RoleClient)
	req := env.enqueue(t, "client-1")

	resp := env.do(t, http.MethodGet, "/api/requests/"+req.ID, "client-1", "client", nil)
	requireStatus(t, resp, http.StatusOK)
	got := decodeJSON[apiRequest](t, resp)
	if got.Status != core.StatusQueued {
		t.Fatalf("expected queued, got %s", got.Status)
	}

	resp = env.do(t, http.MethodGet, "/api/requests/"+req.ID, "client-2", "client", nil)
	requireStatus(t, resp, http.StatusForbidden)

	resp = env.do(t, http.MethodGet, "/api/requests/"+req.ID, "ops-1", "admin", nil)
	requireStatus(t, resp, http.StatusOK)
}

func TestCancelRequest(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "client-1", core.RoleClient)
	req := env.enqueue(t, "client-1")

	resp := env.do(t, http.MethodPost, "/api/requests/"+req.ID+"/cancel", "client-1", "client", nil)
	requireStatus(t, resp, http.StatusOK)
	got := decodeJSON[apiRequest](t, resp)
	if got.Status != core.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "expert-1", core.RoleExpert)
	env.registerUser(t, "client-1", core.RoleClient)
	env.enqueue(t, "client-1")
	offered := env.dispatchOffer(t)

	resp := env.do(t, http.MethodPost, "/api/offers/"+offered.ID+"/accept", "expert-1", "expert", nil)
	requireStatus(t, resp, http.StatusOK)

	resp = env.do(t, http.MethodPost, "/api/requests/"+offered.ID+"/connected", "expert-1", "expert", nil)
	requireStatus(t, resp, http.StatusOK)
	if got := decodeJSON[apiRequest](t, resp); got.Status != core.StatusConnected {
		t.Fatalf("expected connected, got %s", got.Status)
	}

	resp = env.do(t, http.MethodPost, "/api/requests/"+offered.ID+"/complete", "client-1", "client", nil)
	requireStatus(t, resp, http.StatusOK)
	if got := decodeJSON[apiRequest](t, resp); got.Status != core.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestConnectedFromQueuedConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "client-1", core.RoleClient)
	req := env.enqueue(t, "client-1")

	resp := env.do(t, http.MethodPost, "/api/requests/"+req.ID+"/connected", "client-1", "client", nil)
	requireStatus(t, resp, http.StatusConflict)
}
