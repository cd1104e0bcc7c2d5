// Package permgraph is the client boundary for the external permission-graph
// service, which stores and evaluates relationship-based access rules. All
// calls are remote and network-fallible; the graph offers no transactional
// coupling with our relational store, so the saga layer is responsible for
// keeping the two converged.
package permgraph

import "context"

// Relation kinds written for diary entries.
const (
	RelationOwner  = "owner"
	RelationViewer = "viewer"
)

// Graph is the remote permission-graph capability consumed by the sagas.
type Graph interface {
	// GrantOwnership writes DiaryEntry:{entryID}#owner@Agent:{agentID}.
	GrantOwnership(ctx context.Context, entryID, agentID string) error
	// GrantViewer writes DiaryEntry:{entryID}#viewer@Agent:{agentID}.
	GrantViewer(ctx context.Context, entryID, agentID string) error
	// RevokeViewer removes the viewer relation (compensation for a failed share).
	RevokeViewer(ctx context.Context, entryID, agentID string) error
	// RemoveEntryRelations removes every relation attached to the entry.
	RemoveEntryRelations(ctx context.Context, entryID string) error
	// RegisterAgent creates the agent node in the graph.
	RegisterAgent(ctx context.Context, agentID string) error

	CanViewEntry(ctx context.Context, entryID, agentID string) (bool, error)
	CanEditEntry(ctx context.Context, entryID, agentID string) (bool, error)
	CanDeleteEntry(ctx context.Context, entryID, agentID string) (bool, error)
	CanShareEntry(ctx context.Context, entryID, agentID string) (bool, error)
}
