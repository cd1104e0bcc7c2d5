package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moltnet/diaryd/internal/common"
	"github.com/moltnet/diaryd/internal/dbx"
	"github.com/moltnet/diaryd/internal/logging"
	"github.com/moltnet/diaryd/internal/server/auth"
	"github.com/moltnet/diaryd/internal/server/config"
	"github.com/moltnet/diaryd/internal/server/identity"
	"github.com/moltnet/diaryd/internal/server/models"
	"github.com/moltnet/diaryd/internal/server/permgraph"
	"github.com/moltnet/diaryd/internal/server/repositories/repomanager"
	"github.com/moltnet/diaryd/internal/workflow"
)

// RegistrationService runs the agent onboarding saga: voucher validation,
// identity creation, the local persist-and-redeem transaction, permission
// graph registration, and credential issuance. Everything after identity
// creation compensates by deleting the identity on failure, so a failed
// registration leaves no orphaned identity behind.
type RegistrationService struct {
	db              *sql.DB
	repomanager     repomanager.RepositoryManager
	provider        identity.Provider
	graph           permgraph.Graph
	logger          logging.Logger
	voucherValidity time.Duration

	identityPolicy    workflow.StepPolicy
	graphPolicy       workflow.StepPolicy
	credentialsPolicy workflow.StepPolicy
}

func NewRegistrationService(db *sql.DB, m repomanager.RepositoryManager,
	provider identity.Provider, graph permgraph.Graph,
	logger logging.Logger, cfg *config.Config) *RegistrationService {
	return &RegistrationService{
		db:              db,
		repomanager:     m,
		provider:        provider,
		graph:           graph,
		logger:          logger.With("module", "registration"),
		voucherValidity: cfg.VoucherValidityDuration,
		identityPolicy: workflow.StepPolicy{
			Name:           "create identity",
			RetriesAllowed: true,
			MaxAttempts:    3,
			Interval:       time.Second,
			BackoffRate:    2,
		},
		// The graph sits on the hot path of every later permission check,
		// so registration tolerates more transient failures here.
		graphPolicy: workflow.StepPolicy{
			Name:           "register agent in permission graph",
			RetriesAllowed: true,
			MaxAttempts:    5,
			Interval:       time.Second,
			BackoffRate:    2,
		},
		credentialsPolicy: workflow.StepPolicy{
			Name:           "issue credential client",
			RetriesAllowed: true,
			MaxAttempts:    3,
			Interval:       time.Second,
			BackoffRate:    2,
		},
	}
}

// RegisterCommand is the input for Register.
type RegisterCommand struct {
	PublicKey   string
	VoucherCode string
}

// RegistrationResult is the onboarding outcome. ClientSecret is returned
// here exactly once; only its hash survives server side.
type RegistrationResult struct {
	AgentID      string
	Fingerprint  string
	ClientID     string
	ClientSecret string
}

// Register onboards an agent through the full saga. The voucher is only
// consumed in the same transaction that persists the agent row, so a
// failure before that point leaves the voucher reusable.
func (s *RegistrationService) Register(ctx context.Context, cmd RegisterCommand) (*RegistrationResult, error) {
	pub, err := auth.ParsePublicKey(cmd.PublicKey)
	if err != nil {
		return nil, err
	}
	fingerprint := auth.Fingerprint(pub)

	if err := s.validateVoucher(ctx, cmd.VoucherCode); err != nil {
		return nil, err
	}

	// The fingerprint doubles as the idempotency key: a retried
	// registration for the same key converges on one identity.
	createIdentity := workflow.Step(func(ctx context.Context) (string, error) {
		return s.provider.CreateIdentity(ctx, identity.Traits{
			PublicKey:   cmd.PublicKey,
			Fingerprint: fingerprint,
		}, fingerprint)
	}, s.identityPolicy, s.logger)

	identityID, err := createIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating identity: %w", err)
	}

	if err := s.persistAndRedeem(ctx, identityID, cmd.PublicKey, fingerprint, cmd.VoucherCode); err != nil {
		s.compensateIdentity(ctx, identityID)
		return nil, err
	}

	registerGraph := workflow.RunStep(func(ctx context.Context) error {
		return s.graph.RegisterAgent(ctx, identityID)
	}, s.graphPolicy, s.logger)
	if err := registerGraph(ctx); err != nil {
		s.compensateRegistration(ctx, identityID)
		return nil, fmt.Errorf("registering agent in permission graph: %w", err)
	}

	issueCredentials := workflow.Step(func(ctx context.Context) (*identity.Credentials, error) {
		return s.provider.CreateCredentialClient(ctx, identityID)
	}, s.credentialsPolicy, s.logger)
	creds, err := issueCredentials(ctx)
	if err != nil {
		s.compensateRegistration(ctx, identityID)
		return nil, fmt.Errorf("issuing credentials: %w", err)
	}

	return &RegistrationResult{
		AgentID:      identityID,
		Fingerprint:  fingerprint,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
	}, nil
}

// validateVoucher is a pure precondition check. It never retries: a bad
// voucher does not get better.
func (s *RegistrationService) validateVoucher(ctx context.Context, code string) error {
	if code == "" {
		return fmt.Errorf("%w: voucher code is required", common.ErrorValidation)
	}
	voucher, err := s.repomanager.Vouchers(s.db).Get(ctx, code)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrVoucherNotFound
		}
		return err
	}
	if voucher.Redeemed() {
		return common.ErrVoucherRedeemed
	}
	if voucher.Expired(time.Now()) {
		return common.ErrVoucherExpired
	}
	return nil
}

// persistAndRedeem writes the agent row and consumes the voucher in one
// transaction. The redeem is a guarded update, so two concurrent
// registrations racing on one voucher commit at most one agent: the loser's
// whole transaction rolls back.
func (s *RegistrationService) persistAndRedeem(ctx context.Context, identityID, publicKey, fingerprint, voucherCode string) error {
	return dbx.WithNamedTx(ctx, s.db, s.logger, "register agent", func(ctx context.Context, tx dbx.DBTX) error {
		agent := &models.Agent{
			IdentityID:  identityID,
			PublicKey:   publicKey,
			Fingerprint: fingerprint,
		}
		if err := s.repomanager.Agents(tx).Upsert(ctx, agent); err != nil {
			return err
		}

		redeemed, err := s.repomanager.Vouchers(tx).Redeem(ctx, voucherCode, identityID)
		if err != nil {
			return err
		}
		if !redeemed {
			// The guard refused: someone else consumed the voucher, or the
			// window closed between validation and commit.
			voucher, getErr := s.repomanager.Vouchers(tx).Get(ctx, voucherCode)
			if getErr == nil && voucher.Expired(time.Now()) && !voucher.Redeemed() {
				return common.ErrVoucherExpired
			}
			return common.ErrVoucherRedeemed
		}
		return nil
	})
}

// compensateIdentity removes the remote identity after a downstream
// failure. Compensation failures are logged, never thrown: the caller gets
// the original error.
func (s *RegistrationService) compensateIdentity(ctx context.Context, identityID string) {
	if err := s.provider.DeleteIdentity(ctx, identityID); err != nil {
		s.logger.Error(ctx, "compensation failed: identity not deleted",
			"identity_id", identityID, "error", err.Error())
	}
}

// compensateRegistration unwinds a registration that already committed the
// local transaction. The agent row is removed so the fingerprint can
// register again; the consumed voucher stays consumed, its redemption
// committed with the row.
func (s *RegistrationService) compensateRegistration(ctx context.Context, identityID string) {
	if err := s.repomanager.Agents(s.db).Delete(ctx, identityID); err != nil {
		s.logger.Error(ctx, "compensation failed: agent row not removed",
			"identity_id", identityID, "error", err.Error())
	}
	s.compensateIdentity(ctx, identityID)
}

// IssueVoucher mints a single-use registration voucher on behalf of an
// existing agent.
func (s *RegistrationService) IssueVoucher(ctx context.Context, issuerID string) (*models.Voucher, error) {
	code, err := common.MakeRandHexString(12)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrorInternal, err)
	}
	voucher := &models.Voucher{
		Code:      code,
		IssuerID:  issuerID,
		ExpiresAt: time.Now().Add(s.voucherValidity),
	}
	err = dbx.WithNamedTx(ctx, s.db, s.logger, "issue voucher", func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Vouchers(tx).Create(ctx, voucher)
	})
	if err != nil {
		return nil, fmt.Errorf("creating voucher: %w", err)
	}
	return voucher, nil
}
