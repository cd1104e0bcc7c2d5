package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/moltnet/diaryd/internal/common"
	"github.com/moltnet/diaryd/internal/server/models"
	"github.com/moltnet/diaryd/internal/server/repositories/repomanager"
)

// LocalProvider is the built-in identity provider for deployments without a
// separate identity service. Identity IDs are derived deterministically from
// the caller's idempotency key, so retried registrations converge on the
// same identity instead of minting duplicates. Credential secrets are stored
// as argon2id hashes.
type LocalProvider struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

// NewLocalProvider constructs a LocalProvider over the given database.
func NewLocalProvider(db *sql.DB, m repomanager.RepositoryManager) *LocalProvider {
	return &LocalProvider{db: db, repomanager: m}
}

// identityNamespace scopes UUIDv5 derivation of local identity IDs.
var identityNamespace = uuid.MustParse("8f9e6b1a-31a4-4c5e-9f1f-62d3c7d1a9f0")

func (p *LocalProvider) CreateIdentity(ctx context.Context, traits Traits, idempotencyKey string) (string, error) {
	if idempotencyKey == "" {
		return "", fmt.Errorf("identity idempotency key is required")
	}
	return uuid.NewSHA1(identityNamespace, []byte(idempotencyKey)).String(), nil
}

func (p *LocalProvider) DeleteIdentity(ctx context.Context, identityID string) error {
	// The identity's durable footprint is its credential clients; the agent
	// row is owned by the registration saga's own transaction.
	return p.repomanager.Credentials(p.db).DeleteByAgent(ctx, identityID)
}

func (p *LocalProvider) CreateCredentialClient(ctx context.Context, identityID string) (*Credentials, error) {
	secret, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, fmt.Errorf("generating client secret: %w", err)
	}

	client := &models.CredentialClient{
		ClientID:   uuid.NewString(),
		SecretHash: HashSecret(secret),
		AgentID:    identityID,
	}
	if err := p.repomanager.Credentials(p.db).Create(ctx, client); err != nil {
		return nil, fmt.Errorf("%w: storing credential client: %v", common.ErrorUpstream, err)
	}

	return &Credentials{ClientID: client.ClientID, ClientSecret: secret}, nil
}

// VerifyClient checks a clientID/clientSecret pair and returns the owning
// agent's identity ID. Used by the token endpoint.
func (p *LocalProvider) VerifyClient(ctx context.Context, clientID, clientSecret string) (string, error) {
	client, err := p.clientByID(ctx, clientID)
	if err != nil {
		return "", err
	}
	if !VerifySecret(clientSecret, client.SecretHash) {
		return "", common.ErrInvalidCredentials
	}
	return client.AgentID, nil
}

func (p *LocalProvider) clientByID(ctx context.Context, clientID string) (*models.CredentialClient, error) {
	client, err := p.repomanager.Credentials(p.db).Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, err
	}
	return client, nil
}

var _ Provider = (*LocalProvider)(nil)
