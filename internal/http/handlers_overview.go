package httpapi

import (
	"net/http"

	"github.com/mistakeknot/switchboard/internal/core"
	"github.com/mistakeknot/switchboard/internal/dispatch"
)

type healthResponse struct {
	Status     string          `json:"status"`
	Dispatcher *dispatch.Stats `json:"dispatcher,omitempty"`
}

func (s *Service) handleOverview(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if actor.Role != core.RoleAdmin {
		writeError(w, core.ErrAccessDenied)
		return
	}
	overview, err := s.QueueOverview(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := healthResponse{Status: "ok"}
	if s.engine != nil {
		stats := s.engine.Snapshot()
		resp.Dispatcher = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}
