package services

import (
	"context"
	"fmt"
	"time"

	"github.com/moltnet/diaryd/internal/common"
	"github.com/moltnet/diaryd/internal/logging"
	"github.com/moltnet/diaryd/internal/server/auth"
	"github.com/moltnet/diaryd/internal/server/config"
)

// ClientVerifier checks a client-credentials pair and returns the agent
// identity it belongs to. Satisfied by the identity LocalProvider.
type ClientVerifier interface {
	VerifyClient(ctx context.Context, clientID, clientSecret string) (string, error)
}

// TokenService exchanges client credentials for short-lived access tokens.
type TokenService struct {
	verifier ClientVerifier
	logger   logging.Logger
	secret   []byte
	validity time.Duration
}

func NewTokenService(verifier ClientVerifier, logger logging.Logger, cfg *config.Config) *TokenService {
	return &TokenService{
		verifier: verifier,
		logger:   logger.With("module", "token"),
		secret:   []byte(cfg.SecretKey),
		validity: cfg.AccessTokenValidityDuration,
	}
}

// TokenResult is an issued access token with its validity in seconds.
type TokenResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64
}

// Issue verifies the client credentials and mints an access token bound to
// the owning agent. Bad credentials surface as ErrInvalidCredentials
// regardless of which part failed.
func (s *TokenService) Issue(ctx context.Context, clientID, clientSecret string) (*TokenResult, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("%w: client_id and client_secret are required", common.ErrorValidation)
	}

	agentID, err := s.verifier.VerifyClient(ctx, clientID, clientSecret)
	if err != nil {
		s.logger.Warn(ctx, "credential verification failed", "client_id", clientID)
		return nil, common.ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(agentID, s.secret, s.validity)
	if err != nil {
		return nil, fmt.Errorf("%w: signing token: %s", common.ErrorInternal, err)
	}

	return &TokenResult{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.validity.Seconds()),
	}, nil
}
