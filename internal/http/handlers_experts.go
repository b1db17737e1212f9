package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/mistakeknot/switchboard/internal/core"
)

type expertStatusRequest struct {
	IsOnline      *bool `json:"is_online"`
	MaxConcurrent *int  `json:"max_concurrent_clients,omitempty"`
}

type expertStatusResponse struct {
	ExpertID             string `json:"expert_id"`
	IsOnline             bool   `json:"is_online"`
	MaxConcurrentClients int    `json:"max_concurrent_clients"`
	CurrentActiveClients int    `json:"current_active_clients"`
	LastAssignedAt       string `json:"last_assigned_at,omitempty"`
}

func toExpertStatusResponse(a core.ExpertAvailability) expertStatusResponse {
	resp := expertStatusResponse{
		ExpertID:             a.ExpertID,
		IsOnline:             a.IsOnline,
		MaxConcurrentClients: a.MaxConcurrentClients,
		CurrentActiveClients: a.CurrentActiveClients,
	}
	if a.LastAssignedAt != nil {
		resp.LastAssignedAt = a.LastAssignedAt.Format(time.RFC3339Nano)
	}
	return resp
}

// handleExpertByID routes /api/experts/{id}/status.
func (s *Service) handleExpertByID(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/experts/"), "/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch {
	case action == "status" && r.Method == http.MethodPut:
		var body expertStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if body.IsOnline == nil {
			writeError(w, core.ErrInvalidInput)
			return
		}
		avail, err := s.SetExpertOnlineStatus(r.Context(), id, *body.IsOnline, body.MaxConcurrent, actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toExpertStatusResponse(avail))
	case action == "status" && r.Method == http.MethodGet:
		if actor.Role != core.RoleAdmin && actor.ID != id {
			writeError(w, core.ErrAccessDenied)
			return
		}
		avail, err := s.store.GetAvailability(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toExpertStatusResponse(avail))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
