package identity

import "context"

// SplitProvider delegates the identity lifecycle to one provider and
// credential-client issuance to another. Deployments with a remote identity
// service use it to keep credential clients in the local database, where the
// token verifier reads them.
type SplitProvider struct {
	identities  Provider
	credentials Provider
}

// NewSplitProvider builds a provider that creates and deletes identities via
// identities and issues credential clients via credentials.
func NewSplitProvider(identities, credentials Provider) *SplitProvider {
	return &SplitProvider{identities: identities, credentials: credentials}
}

func (p *SplitProvider) CreateIdentity(ctx context.Context, traits Traits, idempotencyKey string) (string, error) {
	return p.identities.CreateIdentity(ctx, traits, idempotencyKey)
}

func (p *SplitProvider) DeleteIdentity(ctx context.Context, identityID string) error {
	return p.identities.DeleteIdentity(ctx, identityID)
}

func (p *SplitProvider) CreateCredentialClient(ctx context.Context, identityID string) (*Credentials, error) {
	return p.credentials.CreateCredentialClient(ctx, identityID)
}

var _ Provider = (*SplitProvider)(nil)
