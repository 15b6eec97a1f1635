package session

import "time"

// CreateRequest is the body of POST /v1/voice/session.
type CreateRequest struct {
	UserID string `json:"user_id"`
}

// CreateResponse describes a new session and how long it may stay idle.
type CreateResponse struct {
	*Session
	InactivityTTLMS int64 `json:"inactivity_ttl_ms"`
}

// NewCreateResponse wraps s for the create endpoint.
func NewCreateResponse(s *Session, inactivity time.Duration) CreateResponse {
	return CreateResponse{Session: s, InactivityTTLMS: inactivity.Milliseconds()}
}
