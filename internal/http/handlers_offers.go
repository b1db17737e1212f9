package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mistakeknot/switchboard/internal/core"
)

type offerListResponse struct {
	Offers []apiRequest `json:"offers"`
}

type acceptResponse struct {
	Expired bool       `json:"expired"`
	Request apiRequest `json:"request"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Service) handleOffers(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	offers, err := s.ListMyOffers(r.Context(), actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := offerListResponse{Offers: make([]apiRequest, 0, len(offers))}
	for _, o := range offers {
		out.Offers = append(out.Offers, toAPIRequest(o))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleOfferByID routes /api/offers/{id}/{accept|reject}.
func (s *Service) handleOfferByID(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/offers/"), "/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if actor.Role != core.RoleExpert {
		writeError(w, core.ErrAccessDenied)
		return
	}

	switch action {
	case "accept":
		res, err := s.Accept(r.Context(), id, actor.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		// An expired offer is not an error: the caller learns the offer
		// lapsed and the request is already back in the queue.
		writeJSON(w, http.StatusOK, acceptResponse{
			Expired: res.Expired,
			Request: toAPIRequest(res.Request),
		})
	case "reject":
		var body rejectRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		req, err := s.Reject(r.Context(), id, actor.ID, strings.TrimSpace(body.Reason))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAPIRequest(req))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
