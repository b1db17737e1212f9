package core

import "time"

// RequestStatus is the lifecycle state of a connection request.
type RequestStatus string

const (
	StatusQueued    RequestStatus = "queued"
	StatusOffered   RequestStatus = "offered"
	StatusAssigned  RequestStatus = "assigned"
	StatusConnected RequestStatus = "connected"
	StatusCancelled RequestStatus = "cancelled"
	StatusTimedOut  RequestStatus = "timed_out"
	StatusCompleted RequestStatus = "completed"
)

// IsActive reports whether the status still occupies the client's
// one-active-request slot. Rejection is not a status: a rejected offer
// reverts to queued.
func (s RequestStatus) IsActive() bool {
	switch s {
	case StatusQueued, StatusOffered, StatusAssigned, StatusConnected:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusCancelled, StatusTimedOut, StatusCompleted:
		return true
	}
	return false
}

// Role of a registered user.
type Role string

const (
	RoleClient Role = "client"
	RoleExpert Role = "expert"
	RoleAdmin  Role = "admin"
)

// User is the minimal identity the engine needs: who can request
// connections, who can receive offers. Vetting and credentials live
// elsewhere.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// ConnectionRequest is one client's attempt to be connected to an expert.
// Terminal rows are never deleted; they feed the reporting facade.
type ConnectionRequest struct {
	ID       string        `json:"id"`
	ClientID string        `json:"client_id"`
	ExpertID string        `json:"expert_id,omitempty"` // set from offered onward
	Status   RequestStatus `json:"status"`

	// Position and EstimatedWaitSeconds are meaningful only while queued.
	// Both are recomputed wholesale after every queue mutation.
	Position             *int `json:"position,omitempty"`
	EstimatedWaitSeconds *int `json:"estimated_wait_seconds,omitempty"`

	OfferedAt      *time.Time `json:"offered_at,omitempty"`
	OfferExpiresAt *time.Time `json:"offer_expires_at,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`

	// Last rejection only; a request can be rejected and re-offered many
	// times and we keep just the latest.
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
	RejectedReason string     `json:"rejected_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OfferExpired reports whether the request carries an offer whose TTL has
// lapsed as of now. False for anything not currently offered.
func (r ConnectionRequest) OfferExpired(now time.Time) bool {
	return r.Status == StatusOffered && r.OfferExpiresAt != nil && !r.OfferExpiresAt.After(now)
}

// ExpertAvailability tracks one expert's online flag and capacity. One row
// per expert user.
type ExpertAvailability struct {
	ExpertID             string     `json:"expert_id"`
	IsOnline             bool       `json:"is_online"`
	MaxConcurrentClients int        `json:"max_concurrent_clients"`
	CurrentActiveClients int        `json:"current_active_clients"`
	LastAssignedAt       *time.Time `json:"last_assigned_at,omitempty"` // fairness rotation clock
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// QueueOverview is the read-only aggregate snapshot for operators.
type QueueOverview struct {
	Queued    int `json:"queued"`
	Offered   int `json:"offered"`
	Assigned  int `json:"assigned"`
	Connected int `json:"connected"`

	TotalExperts  int `json:"total_experts"`
	OnlineExperts int `json:"online_experts"`
	TotalCapacity int `json:"total_capacity"` // sum of max_concurrent over online experts
	ActiveClients int `json:"active_clients"` // sum of current_active over online experts

	RecentRejected   int                 `json:"recent_rejected"` // rejections inside the stats window
	TopRejectReasons []RejectReasonCount `json:"top_reject_reasons,omitempty"`

	// Mean queued-to-assigned latency over the stats window, in seconds.
	AvgAssignWaitSeconds *float64 `json:"avg_assign_wait_seconds,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// RejectReasonCount pairs a rejection reason with its occurrence count.
type RejectReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}
