package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/switchboard/internal/dispatch"
)

func dialUser(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/users/" + userID
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var v map[string]any
	if err := wsjson.Read(ctx, conn, &v); err != nil {
		t.Fatalf("ws read: %v", err)
	}
	return v
}

func TestHubRejectsMissingUserID(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/users/")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestNotifyReachesOnlyAddressedUser(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	expert := dialUser(t, srv, "expert-1")
	other := dialUser(t, srv, "client-1")

	err := hub.Notify("expert-1", dispatch.Notification{
		Title: "New connection offer",
		Data:  map[string]string{"request_id": "r1"},
	}, "offer.created")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	got := readEvent(t, expert)
	if got["type"] != "offer.created" {
		t.Fatalf("expected offer.created, got %v", got["type"])
	}
	data, ok := got["data"].(map[string]any)
	if !ok || data["request_id"] != "r1" {
		t.Fatalf("expected request_id r1, got %v", got["data"])
	}

	// The other user's socket must stay silent.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var v any
	if err := wsjson.Read(ctx, other, &v); err == nil {
		t.Fatalf("unexpected event on other socket: %v", v)
	}
}

func TestBroadcastEmptyUserReachesEveryone(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	a := dialUser(t, srv, "user-a")
	b := dialUser(t, srv, "user-b")

	hub.Broadcast("", map[string]string{"type": "queue.changed"})

	for _, conn := range []*websocket.Conn{a, b} {
		got := readEvent(t, conn)
		if got["type"] != "queue.changed" {
			t.Fatalf("expected queue.changed, got %v", got["type"])
		}
	}
}

func TestNotifyWithNoConnectionsIsNil(t *testing.T) {
	hub := NewHub()
	if err := hub.Notify("nobody", dispatch.Notification{Title: "x"}, "offer.created"); err != nil {
		t.Fatalf("offline user must not be an error: %v", err)
	}
}
