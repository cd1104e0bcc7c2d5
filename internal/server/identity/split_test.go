package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingProvider struct {
	identityCalls   []string
	deleteCalls     []string
	credentialCalls []string
}

func (p *recordingProvider) CreateIdentity(ctx context.Context, traits Traits, idempotencyKey string) (string, error) {
	p.identityCalls = append(p.identityCalls, idempotencyKey)
	return "id-1", nil
}

func (p *recordingProvider) DeleteIdentity(ctx context.Context, identityID string) error {
	p.deleteCalls = append(p.deleteCalls, identityID)
	return nil
}

func (p *recordingProvider) CreateCredentialClient(ctx context.Context, identityID string) (*Credentials, error) {
	p.credentialCalls = append(p.credentialCalls, identityID)
	return &Credentials{ClientID: "c", ClientSecret: "s"}, nil
}

func TestSplitProvider_Delegation(t *testing.T) {
	identities := &recordingProvider{}
	credentials := &recordingProvider{}
	p := NewSplitProvider(identities, credentials)

	ctx := context.Background()
	_, err := p.CreateIdentity(ctx, Traits{Fingerprint: "fp"}, "k1")
	require.NoError(t, err)
	require.NoError(t, p.DeleteIdentity(ctx, "id-1"))
	_, err = p.CreateCredentialClient(ctx, "id-1")
	require.NoError(t, err)

	require.Equal(t, []string{"k1"}, identities.identityCalls)
	require.Equal(t, []string{"id-1"}, identities.deleteCalls)
	require.Empty(t, identities.credentialCalls, "credential client issued on the identity side")
	require.Equal(t, []string{"id-1"}, credentials.credentialCalls)
	require.Empty(t, credentials.identityCalls)
}
