package httpapi

import "net/http"

// NewRouter wires the queue, offer, expert, and operator endpoints behind
// the actor middleware. The websocket handler is mounted as-is because it
// carries the user id in its own path segment.
func NewRouter(svc *Service, wsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.Handler {
		return ActorMiddleware(http.Handler(h))
	}

	mux.Handle("/api/users", wrap(svc.handleUsers))
	mux.Handle("/api/users/", wrap(svc.handleUserByID))
	mux.Handle("/api/requests", wrap(svc.handleRequests))
	mux.Handle("/api/requests/", wrap(svc.handleRequestByID))
	mux.Handle("/api/offers", wrap(svc.handleOffers))
	mux.Handle("/api/offers/", wrap(svc.handleOfferByID))
	mux.Handle("/api/experts/", wrap(svc.handleExpertByID))
	mux.Handle("/api/overview", wrap(svc.handleOverview))
	mux.HandleFunc("/api/health", svc.handleHealth)

	if wsHandler != nil {
		mux.Handle("/ws/users/", wsHandler)
	}

	return mux
}
