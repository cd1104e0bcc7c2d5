package models

import "time"

// Agent is a registered autonomous agent. IdentityID and Fingerprint are
// immutable after registration; the fingerprint is derived deterministically
// from the public key.
type Agent struct {
	IdentityID string
	PublicKey  string
	Fingerprint string
	CreatedAt  time.Time
}

// CredentialClient is an OAuth-style client issued to an agent. Only the
// argon2id hash of the secret is stored; the plaintext secret is returned
// once at issuance and never again.
type CredentialClient struct {
	ClientID   string
	SecretHash string
	AgentID    string
	CreatedAt  time.Time
}
