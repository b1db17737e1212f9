package dispatch

import "log"

// Notification is the payload handed to the delivery collaborator.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notifier delivers a notification to one user. Fire-and-forget: it is
// called strictly after commit and its errors are logged, never propagated,
// so delivery failure can't affect a transaction's outcome.
type Notifier interface {
	Notify(userID string, n Notification, eventKey string) error
}

// LogNotifier just logs deliveries. Used headless and in tests.
type LogNotifier struct{}

func (LogNotifier) Notify(userID string, n Notification, eventKey string) error {
	log.Printf("notify [%s] %s: %s", eventKey, userID, n.Title)
	return nil
}

// notify wraps a Notifier call with the swallow-and-log policy.
func notify(nt Notifier, userID string, n Notification, eventKey string) {
	if nt == nil || userID == "" {
		return
	}
	if err := nt.Notify(userID, n, eventKey); err != nil {
		log.Printf("dispatch: notify %s (%s): %v", userID, eventKey, err)
	}
}
