package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/moltnet/diaryd/internal/common"
	"github.com/moltnet/diaryd/internal/logging"
	"github.com/moltnet/diaryd/internal/server/auth"
	"github.com/moltnet/diaryd/internal/server/config"
	"github.com/moltnet/diaryd/internal/server/models"
	"github.com/moltnet/diaryd/internal/server/repositories/repomanager"
	"github.com/moltnet/diaryd/internal/workflow"
)

// signingWorkflowName is the registered workflow type for signing requests.
const signingWorkflowName = "signing-request"

// signingPollInterval is how often Submit re-reads the request while waiting
// for the workflow to resolve it.
const signingPollInterval = 50 * time.Millisecond

// SigningService issues nonce-bound signing challenges and resolves them via
// a durable workflow. Each challenge suspends a workflow instance waiting for
// the signature signal; the request row is the source of truth for state,
// and a guarded update ensures at most one terminal transition.
type SigningService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	engine      *workflow.Engine
	logger      logging.Logger
	ttl         time.Duration
	pollWindow  time.Duration
}

func NewSigningService(db *sql.DB, m repomanager.RepositoryManager,
	engine *workflow.Engine, logger logging.Logger, cfg *config.Config) *SigningService {
	s := &SigningService{
		db:          db,
		repomanager: m,
		engine:      engine,
		logger:      logger.With("module", "signing"),
		ttl:         cfg.SigningRequestTTL,
		pollWindow:  cfg.SigningSubmitPollWindow,
	}
	engine.Register(signingWorkflowName, s.run)
	return s
}

type signingInput struct {
	RequestID string `json:"request_id"`
}

type signaturePayload struct {
	Signature string `json:"signature"`
}

// Create issues a signing challenge for the agent and starts the workflow
// instance that will wait for its resolution. The row is committed before
// the workflow starts so the body always finds it.
func (s *SigningService) Create(ctx context.Context, agentID, message string) (*models.SigningRequest, error) {
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", common.ErrorValidation)
	}
	if _, err := s.repomanager.Agents(s.db).Get(ctx, agentID); err != nil {
		return nil, err
	}

	nonce, err := common.MakeRandHexString(16)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrorInternal, err)
	}

	request := &models.SigningRequest{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		Message:    message,
		Nonce:      nonce,
		Status:     models.SigningStatusPending,
		WorkflowID: signingWorkflowName + ":" + uuid.NewString(),
		ExpiresAt:  time.Now().Add(s.ttl),
	}
	if err := s.repomanager.SigningRequests(s.db).Create(ctx, request); err != nil {
		return nil, fmt.Errorf("creating signing request: %w", err)
	}

	input, _ := json.Marshal(signingInput{RequestID: request.ID})
	if _, err := s.engine.Start(ctx, signingWorkflowName, request.WorkflowID, input); err != nil {
		return nil, fmt.Errorf("starting signing workflow: %w", err)
	}

	return request, nil
}

// Get returns the request when it belongs to the caller. Requests of other
// agents read as absent.
func (s *SigningService) Get(ctx context.Context, requestID, agentID string) (*models.SigningRequest, error) {
	request, err := s.repomanager.SigningRequests(s.db).Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.AgentID != agentID {
		return nil, common.ErrorNotFound
	}
	return request, nil
}

// List returns the caller's signing requests, optionally filtered by status.
func (s *SigningService) List(ctx context.Context, agentID string, status models.SigningRequestStatus) ([]*models.SigningRequest, error) {
	return s.repomanager.SigningRequests(s.db).ListByAgent(ctx, agentID, status)
}

// Submit delivers a signature to the request's suspended workflow and waits
// a short window for the resolution to land, so most callers see the final
// state in the response. Terminal requests are rejected before the signal is
// sent; racing submissions are serialized by the workflow, which consumes at
// most one signal.
func (s *SigningService) Submit(ctx context.Context, requestID, agentID, signature string) (*models.SigningRequest, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: signature is required", common.ErrorValidation)
	}

	request, err := s.Get(ctx, requestID, agentID)
	if err != nil {
		return nil, err
	}
	if err := terminalError(request); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(signaturePayload{Signature: signature})
	if err := s.signal(ctx, request.WorkflowID, payload); err != nil {
		// The workflow may have resolved the request between our read and
		// the send. Re-read to return the precise terminal error.
		if latest, getErr := s.repomanager.SigningRequests(s.db).Get(ctx, requestID); getErr == nil {
			if termErr := terminalError(latest); termErr != nil {
				return nil, termErr
			}
		}
		return nil, err
	}

	return s.awaitResolution(ctx, requestID)
}

// signal sends the signature to the workflow instance, resuming it first
// when it only exists as a durable row (for example after a restart where
// ResumePending has not reached it yet).
func (s *SigningService) signal(ctx context.Context, workflowID string, payload json.RawMessage) error {
	err := s.engine.Send(ctx, workflowID, "signature", payload)
	if err == nil || !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	if _, resumeErr := s.engine.Resume(ctx, workflowID); resumeErr != nil {
		return err
	}
	return s.engine.Send(ctx, workflowID, "signature", payload)
}

// awaitResolution polls the request row until it leaves pending or the poll
// window closes, returning whatever state it last observed.
func (s *SigningService) awaitResolution(ctx context.Context, requestID string) (*models.SigningRequest, error) {
	deadline := time.Now().Add(s.pollWindow)
	for {
		request, err := s.repomanager.SigningRequests(s.db).Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if request.Resolved() || time.Now().After(deadline) {
			return request, nil
		}
		select {
		case <-ctx.Done():
			return request, nil
		case <-time.After(signingPollInterval):
		}
	}
}

// ResumePending restarts the workflow instances of requests that were still
// pending when the previous process stopped. Called once at boot.
func (s *SigningService) ResumePending(ctx context.Context) error {
	pending, err := s.repomanager.SigningRequests(s.db).ListPending(ctx)
	if err != nil {
		return fmt.Errorf("listing pending signing requests: %w", err)
	}
	for _, request := range pending {
		if _, err := s.engine.Resume(ctx, request.WorkflowID); err != nil {
			s.logger.Error(ctx, "failed to resume signing workflow",
				"request_id", request.ID, "workflow_id", request.WorkflowID, "error", err.Error())
		}
	}
	if len(pending) > 0 {
		s.logger.Info(ctx, "resumed pending signing requests", "count", len(pending))
	}
	return nil
}

// run is the workflow body. It waits for the signature signal up to the
// request's remaining TTL, verifies what arrives, and drives the row to its
// terminal state through guarded updates, so replays and duplicate signals
// can never resolve a request twice.
func (s *SigningService) run(ctx context.Context, run *workflow.Run) (json.RawMessage, error) {
	var input signingInput
	if err := json.Unmarshal(run.Input(), &input); err != nil {
		return nil, fmt.Errorf("decoding workflow input: %w", err)
	}

	repo := s.repomanager.SigningRequests(s.db)
	request, err := repo.Get(ctx, input.RequestID)
	if err != nil {
		return nil, fmt.Errorf("loading signing request: %w", err)
	}
	if request.Resolved() {
		// Replay after a crash between resolution and workflow completion.
		return json.Marshal(map[string]string{"status": string(request.Status)})
	}

	remaining := time.Until(request.ExpiresAt)
	var payload json.RawMessage
	if remaining > 0 {
		payload, err = run.Receive(ctx, "signature", remaining)
		if err != nil {
			return nil, err
		}
	}

	if payload == nil {
		if _, err := repo.Expire(ctx, request.ID); err != nil {
			return nil, fmt.Errorf("expiring signing request: %w", err)
		}
		run.Logger().Info(ctx, "signing request expired", "request_id", request.ID)
		return json.Marshal(map[string]string{"status": string(models.SigningStatusExpired)})
	}

	var sig signaturePayload
	if err := json.Unmarshal(payload, &sig); err != nil {
		return nil, fmt.Errorf("decoding signature payload: %w", err)
	}

	valid := s.verify(ctx, request, sig.Signature)
	if _, err := repo.Complete(ctx, request.ID, valid, sig.Signature); err != nil {
		return nil, fmt.Errorf("completing signing request: %w", err)
	}
	run.Logger().Info(ctx, "signing request completed",
		"request_id", request.ID, "valid", valid)
	return json.Marshal(map[string]any{
		"status": string(models.SigningStatusCompleted),
		"valid":  valid,
	})
}

// verify checks the submitted signature over the nonce-bound payload. Any
// failure to load or parse the agent's key counts as an invalid signature;
// the request still completes.
func (s *SigningService) verify(ctx context.Context, request *models.SigningRequest, signature string) bool {
	agent, err := s.repomanager.Agents(s.db).Get(ctx, request.AgentID)
	if err != nil {
		s.logger.Error(ctx, "failed to load agent for verification",
			"request_id", request.ID, "agent_id", request.AgentID, "error", err.Error())
		return false
	}
	pub, err := auth.ParsePublicKey(agent.PublicKey)
	if err != nil {
		s.logger.Error(ctx, "agent public key unparseable",
			"request_id", request.ID, "agent_id", request.AgentID, "error", err.Error())
		return false
	}
	return auth.VerifySignature(pub, request.Nonce, request.Message, signature)
}

// terminalError maps a resolved request to its precise rejection error, or
// nil when the request is still pending.
func terminalError(request *models.SigningRequest) error {
	switch request.Status {
	case models.SigningStatusExpired:
		return common.ErrSigningRequestExpired
	case models.SigningStatusCompleted:
		return common.ErrSigningRequestResolved
	default:
		return nil
	}
}
