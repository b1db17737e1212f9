package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mistakeknot/switchboard/internal/core"
)

// Actor is the caller identity established by the surrounding auth layer.
// Authentication itself is out of scope here; the gateway in front of this
// service verifies credentials and forwards the verified identity in
// headers. Role-based checks on top of that identity belong to the engine.
type Actor struct {
	ID   string
	Role core.Role
}

type actorKey struct{}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	v, ok := ctx.Value(actorKey{}).(Actor)
	return v, ok
}

// ActorMiddleware reads X-Actor-ID and X-Actor-Role into the request
// context. Requests without an identity are rejected up front.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Actor-ID"))
		role := core.Role(strings.TrimSpace(r.Header.Get("X-Actor-Role")))
		if id == "" {
			writeUnauthenticated(w)
			return
		}
		switch role {
		case core.RoleClient, core.RoleExpert, core.RoleAdmin:
		default:
			writeUnauthenticated(w)
			return
		}
		actor := Actor{ID: id, Role: role}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated"})
}
