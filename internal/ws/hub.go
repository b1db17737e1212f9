package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/switchboard/internal/dispatch"
)

const writeTimeout = 5 * time.Second

// Hub fans events out to connected users. Clients subscribe to their own
// request updates, experts to incoming offers, operator UIs to everything
// (empty user id on Broadcast).
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*websocket.Conn]struct{})}
}

// Handler serves /ws/users/{id}. Inbound frames are drained and ignored;
// the hub is push-only.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/ws/users/")
		userID := strings.Trim(path, "/")
		if userID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		h.add(userID, conn)
		defer h.remove(userID, conn)

		ctx := r.Context()
		for {
			var v any
			if err := wsjson.Read(ctx, conn, &v); err != nil {
				return
			}
		}
	}
}

type connEntry struct {
	conn   *websocket.Conn
	userID string
}

// Broadcast sends event to every connection of userID, or to every
// connection when userID is empty. Write failures evict the connection.
func (h *Hub) Broadcast(userID string, event any) {
	entries := h.snapshot(userID)
	for _, e := range entries {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, e.conn, event)
		cancel()
		if err != nil {
			go func(e connEntry) {
				e.conn.Close(websocket.StatusGoingAway, "write error")
				h.remove(e.userID, e.conn)
			}(e)
		}
	}
}

// Notify implements dispatch.Notifier: notifications ride the same
// websocket fan-out as everything else. Always returns nil; an offline
// user simply has no connections.
func (h *Hub) Notify(userID string, n dispatch.Notification, eventKey string) error {
	h.Broadcast(userID, map[string]any{
		"type":  eventKey,
		"title": n.Title,
		"body":  n.Body,
		"data":  n.Data,
	})
	return nil
}

func (h *Hub) snapshot(userID string) []connEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []connEntry
	if userID == "" {
		for id, conns := range h.conns {
			for conn := range conns {
				out = append(out, connEntry{conn: conn, userID: id})
			}
		}
		return out
	}
	for conn := range h.conns[userID] {
		out = append(out, connEntry{conn: conn, userID: userID})
	}
	return out
}

func (h *Hub) add(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perUser, ok := h.conns[userID]
	if !ok {
		perUser = make(map[*websocket.Conn]struct{})
		h.conns[userID] = perUser
	}
	perUser[conn] = struct{}{}
}

func (h *Hub) remove(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perUser, ok := h.conns[userID]
	if !ok {
		return
	}
	delete(perUser, conn)
	if len(perUser) == 0 {
		delete(h.conns, userID)
	}
}
