package models

import "time"

// SigningRequestStatus is the lifecycle state of a signing request.
type SigningRequestStatus string

const (
	SigningStatusPending   SigningRequestStatus = "pending"
	SigningStatusCompleted SigningRequestStatus = "completed"
	SigningStatusExpired   SigningRequestStatus = "expired"
)

// SigningRequest is one nonce-bound challenge handed to an agent. The request
// is created pending and resolves exactly once: completed when a signature
// arrives (whether or not it verifies; Valid records the outcome) or expired
// when the TTL elapses first. Terminal states accept no further submissions.
type SigningRequest struct {
	ID      string
	AgentID string
	Message string

	// Nonce is single use and request scoped; the signature is computed
	// over the nonce joined with the message, so it cannot be replayed
	// against another request.
	Nonce string

	Status SigningRequestStatus

	// Valid is set when Status is completed and records whether the
	// submitted signature verified against the agent's public key.
	Valid *bool

	// Signature is the submitted signature, kept for audit.
	Signature *string

	// WorkflowID is the handle of the suspended workflow instance awaiting
	// the signature signal.
	WorkflowID string

	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Resolved reports whether the request reached a terminal state.
func (r *SigningRequest) Resolved() bool {
	return r.Status != SigningStatusPending
}
