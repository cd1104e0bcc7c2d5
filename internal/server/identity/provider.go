// Package identity is the client boundary for the identity provider: it
// creates and deletes identities and issues OAuth-style credential clients.
// A remote HTTP implementation and a database-backed local implementation
// are provided; the registration saga only sees the Provider interface.
package identity

import "context"

// Traits are the immutable attributes an identity is created with.
type Traits struct {
	PublicKey   string
	Fingerprint string
}

// Credentials is an issued client credential pair. The secret is returned
// exactly once and never stored in plaintext.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Provider is the consumed identity-provider capability.
type Provider interface {
	// CreateIdentity creates an identity and returns its ID. The
	// idempotency key makes retries safe: a timeout after provider-side
	// success must not create two identities for one registration.
	CreateIdentity(ctx context.Context, traits Traits, idempotencyKey string) (string, error)
	DeleteIdentity(ctx context.Context, identityID string) error
	CreateCredentialClient(ctx context.Context, identityID string) (*Credentials, error)
}
