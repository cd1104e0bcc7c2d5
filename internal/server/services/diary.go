// Package services contains the server-side business logic: the diary saga,
// the registration saga, the signing-request state machine, and token
// issuance. Sagas span the relational store and remote collaborators, using
// compensations instead of a single atomic commit.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/moltnet/diaryd/internal/common"
	"github.com/moltnet/diaryd/internal/dbx"
	"github.com/moltnet/diaryd/internal/logging"
	"github.com/moltnet/diaryd/internal/server/config"
	"github.com/moltnet/diaryd/internal/server/contentsafety"
	"github.com/moltnet/diaryd/internal/server/embedding"
	"github.com/moltnet/diaryd/internal/server/models"
	"github.com/moltnet/diaryd/internal/server/permgraph"
	"github.com/moltnet/diaryd/internal/server/repositories/repomanager"
	"github.com/moltnet/diaryd/internal/workflow"
)

// DiaryService orchestrates diary entry create/update/delete/share across
// the relational store and the permission graph, keeping the two converged
// despite partial failures.
type DiaryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	graph       permgraph.Graph
	embedder    embedding.Embedder
	scanner     contentsafety.Scanner
	logger      logging.Logger
	consistency config.Consistency
	grantPolicy workflow.StepPolicy
}

// NewDiaryService constructs a DiaryService. The consistency variant comes
// from configuration and is fixed for the process lifetime; the two variants
// are never mixed.
func NewDiaryService(db *sql.DB, m repomanager.RepositoryManager, graph permgraph.Graph,
	embedder embedding.Embedder, scanner contentsafety.Scanner,
	logger logging.Logger, cfg *config.Config) *DiaryService {
	return &DiaryService{
		db:          db,
		repomanager: m,
		graph:       graph,
		embedder:    embedder,
		scanner:     scanner,
		logger:      logger.With("module", "diary"),
		consistency: cfg.DiaryConsistency,
		grantPolicy: workflow.StepPolicy{
			Name:           "diary permission grant",
			RetriesAllowed: true,
			MaxAttempts:    3,
			Interval:       500 * time.Millisecond,
			BackoffRate:    2,
		},
	}
}

// CreateEntryCommand is the input for Create.
type CreateEntryCommand struct {
	OwnerID    string
	Content    string
	Title      string
	Tags       []string
	Visibility models.Visibility
}

// UpdateEntryCommand is the input for Update. Nil fields are left unchanged.
type UpdateEntryCommand struct {
	Content    *string
	Title      *string
	Tags       *[]string
	Visibility *models.Visibility
}

// Create persists a new diary entry and grants ownership in the permission
// graph. The embedding is best effort: an embedding failure degrades search,
// it never blocks the write. Grant failure handling depends on the
// configured consistency variant: strict compensates by deleting the
// just-created row, best-effort keeps the row and logs.
func (s *DiaryService) Create(ctx context.Context, cmd CreateEntryCommand) (*models.DiaryEntry, error) {
	if cmd.OwnerID == "" || cmd.Content == "" {
		return nil, fmt.Errorf("%w: owner and content are required", common.ErrorValidation)
	}
	if cmd.Visibility == "" {
		cmd.Visibility = models.VisibilityPrivate
	}
	if !cmd.Visibility.Valid() {
		return nil, fmt.Errorf("%w: unknown visibility %q", common.ErrorValidation, cmd.Visibility)
	}

	scan := s.scanner.Scan(ctx, cmd.Content, cmd.Title)
	if scan.InjectionRisk {
		s.logger.Warn(ctx, "entry content flagged", "owner_id", cmd.OwnerID, "threats", scan.Describe())
	}

	entry := &models.DiaryEntry{
		ID:            uuid.NewString(),
		OwnerID:       cmd.OwnerID,
		Content:       cmd.Content,
		Title:         cmd.Title,
		Tags:          cmd.Tags,
		Visibility:    cmd.Visibility,
		Embedding:     s.embedBestEffort(ctx, cmd.Content),
		InjectionRisk: scan.InjectionRisk,
	}

	err := dbx.WithNamedTx(ctx, s.db, s.logger, "create diary entry", func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Entries(tx).Create(ctx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("creating entry: %w", err)
	}

	grant := workflow.RunStep(func(ctx context.Context) error {
		return s.graph.GrantOwnership(ctx, entry.ID, entry.OwnerID)
	}, s.grantPolicy, s.logger)

	if err := grant(ctx); err != nil {
		if s.consistency == config.ConsistencyBestEffort {
			// The entry stays persisted; the owner may be wrongly denied
			// until a later grant converges the graph.
			s.logger.Error(ctx, "ownership grant failed, keeping entry",
				"entry_id", entry.ID, "owner_id", entry.OwnerID, "error", err.Error())
			return entry, nil
		}

		s.compensateCreate(ctx, entry.ID)
		return nil, fmt.Errorf("granting ownership: %w", err)
	}

	return entry, nil
}

// compensateCreate removes the entry row after a strict-mode grant failure.
// A compensation failure is logged, never thrown over the original error.
func (s *DiaryService) compensateCreate(ctx context.Context, entryID string) {
	if _, err := s.repomanager.Entries(s.db).Delete(ctx, entryID); err != nil {
		s.logger.Error(ctx, "compensation failed: entry row not removed",
			"entry_id", entryID, "error", err.Error())
	}
}

// Update applies the command to an existing entry after an edit-permission
// check. The embedding and safety scan only re-run when content, title, or
// tags actually change; metadata-only updates skip both.
func (s *DiaryService) Update(ctx context.Context, entryID, agentID string, cmd UpdateEntryCommand) (*models.DiaryEntry, error) {
	entry, err := s.authorizedEntry(ctx, entryID, agentID, s.graph.CanEditEntry)
	if err != nil {
		return nil, err
	}

	contentChanged := false
	if cmd.Content != nil && *cmd.Content != entry.Content {
		if *cmd.Content == "" {
			return nil, fmt.Errorf("%w: content cannot be empty", common.ErrorValidation)
		}
		entry.Content = *cmd.Content
		contentChanged = true
	}
	if cmd.Title != nil && *cmd.Title != entry.Title {
		entry.Title = *cmd.Title
		contentChanged = true
	}
	if cmd.Tags != nil && !slices.Equal(*cmd.Tags, entry.Tags) {
		entry.Tags = *cmd.Tags
		contentChanged = true
	}
	if cmd.Visibility != nil {
		if !cmd.Visibility.Valid() {
			return nil, fmt.Errorf("%w: unknown visibility %q", common.ErrorValidation, *cmd.Visibility)
		}
		entry.Visibility = *cmd.Visibility
	}

	if contentChanged {
		scan := s.scanner.Scan(ctx, entry.Content, entry.Title)
		entry.InjectionRisk = scan.InjectionRisk
		if scan.InjectionRisk {
			s.logger.Warn(ctx, "entry content flagged", "entry_id", entry.ID, "threats", scan.Describe())
		}
		entry.Embedding = s.embedBestEffort(ctx, entry.Content)
	}

	err = dbx.WithNamedTx(ctx, s.db, s.logger, "update diary entry", func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Entries(tx).Update(ctx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("updating entry: %w", err)
	}
	return entry, nil
}

// Delete removes the entry and cleans up its permission-graph relations.
// It reports false when no such entry exists, without touching the graph.
// Cleanup failure is logged but does not resurrect the deleted row: the
// delete is irreversible once committed.
func (s *DiaryService) Delete(ctx context.Context, entryID, agentID string) (bool, error) {
	_, err := s.repomanager.Entries(s.db).Get(ctx, entryID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := s.requirePermission(ctx, entryID, agentID, s.graph.CanDeleteEntry); err != nil {
		return false, err
	}

	var existed bool
	err = dbx.WithNamedTx(ctx, s.db, s.logger, "delete diary entry", func(ctx context.Context, tx dbx.DBTX) error {
		var delErr error
		existed, delErr = s.repomanager.Entries(tx).Delete(ctx, entryID)
		return delErr
	})
	if err != nil {
		return false, fmt.Errorf("deleting entry: %w", err)
	}
	if !existed {
		return false, nil
	}

	cleanup := workflow.RunStep(func(ctx context.Context) error {
		return s.graph.RemoveEntryRelations(ctx, entryID)
	}, s.grantPolicy, s.logger)
	if err := cleanup(ctx); err != nil {
		s.logger.Error(ctx, "permission graph cleanup failed after delete",
			"entry_id", entryID, "error", err.Error())
	}

	return true, nil
}

// Share records a share and grants the target agent a viewer relation. A
// share without its view grant is meaningless, so a grant failure
// compensates by removing the share record.
func (s *DiaryService) Share(ctx context.Context, entryID, agentID, targetAgentID string) (*models.DiaryEntryShare, error) {
	if targetAgentID == "" {
		return nil, fmt.Errorf("%w: target agent is required", common.ErrorValidation)
	}
	if targetAgentID == agentID {
		return nil, fmt.Errorf("%w: cannot share an entry with its owner", common.ErrorValidation)
	}

	if _, err := s.authorizedEntry(ctx, entryID, agentID, s.graph.CanShareEntry); err != nil {
		return nil, err
	}

	share := &models.DiaryEntryShare{
		ID:      uuid.NewString(),
		EntryID: entryID,
		AgentID: targetAgentID,
	}
	err := dbx.WithNamedTx(ctx, s.db, s.logger, "share diary entry", func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Shares(tx).Create(ctx, share)
	})
	if err != nil {
		if errors.Is(err, common.ErrorConflict) {
			return nil, fmt.Errorf("%w: entry already shared with agent", common.ErrorConflict)
		}
		return nil, fmt.Errorf("creating share: %w", err)
	}

	grant := workflow.RunStep(func(ctx context.Context) error {
		return s.graph.GrantViewer(ctx, entryID, targetAgentID)
	}, s.grantPolicy, s.logger)

	if err := grant(ctx); err != nil {
		if _, compErr := s.repomanager.Shares(s.db).Delete(ctx, entryID, targetAgentID); compErr != nil {
			s.logger.Error(ctx, "compensation failed: share record not removed",
				"entry_id", entryID, "agent_id", targetAgentID, "error", compErr.Error())
		}
		// A retried grant can have written the tuple before its response was
		// lost, so revoke it instead of trusting the reported failure.
		if compErr := s.graph.RevokeViewer(ctx, entryID, targetAgentID); compErr != nil {
			s.logger.Error(ctx, "compensation failed: viewer relation not revoked",
				"entry_id", entryID, "agent_id", targetAgentID, "error", compErr.Error())
		}
		return nil, fmt.Errorf("granting viewer: %w", err)
	}

	return share, nil
}

// Get returns the entry when the caller may view it. Permission denial
// surfaces as not-found to avoid leaking existence.
func (s *DiaryService) Get(ctx context.Context, entryID, agentID string) (*models.DiaryEntry, error) {
	entry, err := s.repomanager.Entries(s.db).Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Visibility == models.VisibilityPublic || entry.OwnerID == agentID {
		return entry, nil
	}
	if err := s.requirePermission(ctx, entryID, agentID, s.graph.CanViewEntry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListOwn returns the caller's own entries.
func (s *DiaryService) ListOwn(ctx context.Context, agentID string) ([]*models.DiaryEntry, error) {
	return s.repomanager.Entries(s.db).ListByOwner(ctx, agentID)
}

func (s *DiaryService) embedBestEffort(ctx context.Context, content string) []float32 {
	vector, err := s.embedder.EmbedPassage(ctx, content)
	if err != nil {
		s.logger.Warn(ctx, "embedding failed, storing entry without vector", "error", err.Error())
		return nil
	}
	return vector
}

type permissionCheck func(ctx context.Context, entryID, agentID string) (bool, error)

func (s *DiaryService) authorizedEntry(ctx context.Context, entryID, agentID string, check permissionCheck) (*models.DiaryEntry, error) {
	entry, err := s.repomanager.Entries(s.db).Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePermission(ctx, entryID, agentID, check); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *DiaryService) requirePermission(ctx context.Context, entryID, agentID string, check permissionCheck) error {
	allowed, err := check(ctx, entryID, agentID)
	if err != nil {
		return fmt.Errorf("permission check: %w", err)
	}
	if !allowed {
		// Denied reads as absent: existence is not leaked.
		return common.ErrorNotFound
	}
	return nil
}
