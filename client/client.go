// Package client provides a Go client for the switchboard service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client

	// ActorID and ActorRole identify the caller to the service. The
	// gateway in front of a production deployment overwrites these from
	// the verified session.
	ActorID   string
	ActorRole string
}

type Option func(*Client)

func WithActor(id, role string) Option {
	return func(c *Client) {
		c.ActorID = strings.TrimSpace(id)
		c.ActorRole = strings.TrimSpace(role)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.HTTP = httpClient
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// User mirrors the service's user resource.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Request mirrors the service's connection request resource.
type Request struct {
	ID                   string  `json:"id"`
	ClientID             string  `json:"client_id"`
	ExpertID             string  `json:"expert_id,omitempty"`
	Status               string  `json:"status"`
	Position             *int    `json:"position,omitempty"`
	EstimatedWaitSeconds *int    `json:"estimated_wait_seconds,omitempty"`
	OfferedAt            *string `json:"offered_at,omitempty"`
	OfferExpiresAt       *string `json:"offer_expires_at,omitempty"`
	AssignedAt           *string `json:"assigned_at,omitempty"`
	ConnectedAt          *string `json:"connected_at,omitempty"`
	CompletedAt          *string `json:"completed_at,omitempty"`
	CancelledAt          *string `json:"cancelled_at,omitempty"`
	RejectedAt           *string `json:"rejected_at,omitempty"`
	RejectedReason       string  `json:"rejected_reason,omitempty"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

// EnqueueResponse is the outcome of submitting a connection request.
type EnqueueResponse struct {
	IsExisting bool    `json:"is_existing"`
	Status     string  `json:"status"`
	Request    Request `json:"request"`
}

// AcceptResponse is the outcome of accepting an offer. Expired means the
// offer lapsed before the accept landed and the request is queued again.
type AcceptResponse struct {
	Expired bool    `json:"expired"`
	Request Request `json:"request"`
}

// ExpertStatus mirrors the service's availability resource.
type ExpertStatus struct {
	ExpertID             string `json:"expert_id"`
	IsOnline             bool   `json:"is_online"`
	MaxConcurrentClients int    `json:"max_concurrent_clients"`
	CurrentActiveClients int    `json:"current_active_clients"`
	LastAssignedAt       string `json:"last_assigned_at,omitempty"`
}

// APIError carries the HTTP status and the error string the service
// returned.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("switchboard: %d: %s", e.StatusCode, e.Message)
}

// RegisterUser creates a user with the given name and role.
func (c *Client) RegisterUser(ctx context.Context, name, role string) (User, error) {
	var out User
	err := c.doJSON(ctx, http.MethodPost, "/api/users", map[string]string{
		"name": name,
		"role": role,
	}, &out)
	return out, err
}

// GetUser fetches a user by id.
func (c *Client) GetUser(ctx context.Context, id string) (User, error) {
	var out User
	err := c.doJSON(ctx, http.MethodGet, "/api/users/"+url.PathEscape(id), nil, &out)
	return out, err
}

// RequestConnection submits a connection request for the acting client.
// Resubmitting while a request is active returns the existing one.
func (c *Client) RequestConnection(ctx context.Context) (EnqueueResponse, error) {
	var out EnqueueResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/requests", map[string]string{}, &out)
	return out, err
}

// RequestStatus fetches the current state of a connection request.
func (c *Client) RequestStatus(ctx context.Context, requestID string) (Request, error) {
	var out Request
	err := c.doJSON(ctx, http.MethodGet, "/api/requests/"+url.PathEscape(requestID), nil, &out)
	return out, err
}

// CancelRequest cancels a connection request at any pre-terminal point.
func (c *Client) CancelRequest(ctx context.Context, requestID string) (Request, error) {
	var out Request
	err := c.doJSON(ctx, http.MethodPost, "/api/requests/"+url.PathEscape(requestID)+"/cancel", map[string]string{}, &out)
	return out, err
}

// MarkConnected records that the session actually started.
func (c *Client) MarkConnected(ctx context.Context, requestID string) (Request, error) {
	var out Request
	err := c.doJSON(ctx, http.MethodPost, "/api/requests/"+url.PathEscape(requestID)+"/connected", map[string]string{}, &out)
	return out, err
}

// CompleteRequest finishes the session and releases the expert's slot.
func (c *Client) CompleteRequest(ctx context.Context, requestID string) (Request, error) {
	var out Request
	err := c.doJSON(ctx, http.MethodPost, "/api/requests/"+url.PathEscape(requestID)+"/complete", map[string]string{}, &out)
	return out, err
}

// ListOffers returns the open offers addressed to the acting expert.
func (c *Client) ListOffers(ctx context.Context) ([]Request, error) {
	var out struct {
		Offers []Request `json:"offers"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/offers", nil, &out)
	return out.Offers, err
}

// AcceptOffer accepts an offer addressed to the acting expert.
func (c *Client) AcceptOffer(ctx context.Context, requestID string) (AcceptResponse, error) {
	var out AcceptResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/offers/"+url.PathEscape(requestID)+"/accept", map[string]string{}, &out)
	return out, err
}

// RejectOffer declines an offer, optionally recording a reason.
func (c *Client) RejectOffer(ctx context.Context, requestID, reason string) (Request, error) {
	var out Request
	err := c.doJSON(ctx, http.MethodPost, "/api/offers/"+url.PathEscape(requestID)+"/reject", map[string]string{"reason": reason}, &out)
	return out, err
}

// SetExpertStatus updates the acting expert's online flag and, when
// maxConcurrent is non-nil, their concurrency ceiling.
func (c *Client) SetExpertStatus(ctx context.Context, expertID string, online bool, maxConcurrent *int) (ExpertStatus, error) {
	payload := map[string]any{"is_online": online}
	if maxConcurrent != nil {
		payload["max_concurrent_clients"] = *maxConcurrent
	}
	var out ExpertStatus
	err := c.doJSON(ctx, http.MethodPut, "/api/experts/"+url.PathEscape(expertID)+"/status", payload, &out)
	return out, err
}

// Overview fetches the operator snapshot as raw JSON.
func (c *Client) Overview(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.doJSON(ctx, http.MethodGet, "/api/overview", nil, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) applyHeaders(req *http.Request) {
	if c.ActorID != "" {
		req.Header.Set("X-Actor-ID", c.ActorID)
	}
	if c.ActorRole != "" {
		req.Header.Set("X-Actor-Role", c.ActorRole)
	}
}
