package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mistakeknot/switchboard/internal/core"
)

type requestConnectionRequest struct {
	ClientID string `json:"client_id"`
}

type requestConnectionResponse struct {
	IsExisting bool               `json:"is_existing"`
	Status     core.RequestStatus `json:"status"`
	Request    apiRequest         `json:"request"`
}

type apiRequest struct {
	ID                   string             `json:"id"`
	ClientID             string             `json:"client_id"`
	ExpertID             string             `json:"expert_id,omitempty"`
	Status               core.RequestStatus `json:"status"`
	Position             *int               `json:"position,omitempty"`
	EstimatedWaitSeconds *int               `json:"estimated_wait_seconds,omitempty"`
	OfferedAt            *string            `json:"offered_at,omitempty"`
	OfferExpiresAt       *string            `json:"offer_expires_at,omitempty"`
	AssignedAt           *string            `json:"assigned_at,omitempty"`
	ConnectedAt          *string            `json:"connected_at,omitempty"`
	CompletedAt          *string            `json:"completed_at,omitempty"`
	CancelledAt          *string            `json:"cancelled_at,omitempty"`
	RejectedAt           *string            `json:"rejected_at,omitempty"`
	RejectedReason       string             `json:"rejected_reason,omitempty"`
	CreatedAt            string             `json:"created_at"`
	UpdatedAt            string             `json:"updated_at"`
}

func toAPIRequest(r core.ConnectionRequest) apiRequest {
	return apiRequest{
		ID:                   r.ID,
		ClientID:             r.ClientID,
		ExpertID:             r.ExpertID,
		Status:               r.Status,
		Position:             r.Position,
		EstimatedWaitSeconds: r.EstimatedWaitSeconds,
		OfferedAt:            timeString(r.OfferedAt),
		OfferExpiresAt:       timeString(r.OfferExpiresAt),
		AssignedAt:           timeString(r.AssignedAt),
		ConnectedAt:          timeString(r.ConnectedAt),
		CompletedAt:          timeString(r.CompletedAt),
		CancelledAt:          timeString(r.CancelledAt),
		RejectedAt:           timeString(r.RejectedAt),
		RejectedReason:       r.RejectedReason,
		CreatedAt:            r.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:            r.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func timeString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}

func (s *Service) handleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor, _ := ActorFromContext(r.Context())

	var req requestConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		clientID = actor.ID
	}
	if actor.Role != core.RoleAdmin && clientID != actor.ID {
		writeError(w, core.ErrAccessDenied)
		return
	}

	res, err := s.RequestConnection(r.Context(), clientID)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Existing {
		status = http.StatusOK
	}
	writeJSON(w, status, requestConnectionResponse{
		IsExisting: res.Existing,
		Status:     res.Request.Status,
		Request:    toAPIRequest(res.Request),
	})
}

// handleRequestByID routes /api/requests/{id}[/action].
func (s *Service) handleRequestByID(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/requests/"), "/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		req, err := s.GetStatus(r.Context(), id, actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAPIRequest(req))
	case action == "cancel" && r.Method == http.MethodPost:
		req, err := s.Cancel(r.Context(), id, actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAPIRequest(req))
	case action == "connected" && r.Method == http.MethodPost:
		req, err := s.MarkConnected(r.Context(), id, actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAPIRequest(req))
	case action == "complete" && r.Method == http.MethodPost:
		req, err := s.Complete(r.Context(), id, actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAPIRequest(req))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. Anything outside
// the taxonomy is a retryable internal error with no partial effects.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrNotAnExpert):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		status = http.StatusConflict
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
