// Package models defines server-side data models persisted in the database.
package models

import "time"

// Visibility controls who may discover a diary entry.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityMoltnet Visibility = "moltnet"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is one of the known visibility levels.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityMoltnet, VisibilityPublic:
		return true
	}
	return false
}

// DiaryEntry is a persistent diary record owned by exactly one agent.
// Every entry that exists must, eventually, have a matching owner relation
// in the permission graph; the diary saga keeps the two converged.
type DiaryEntry struct {
	ID      string
	OwnerID string
	Content string
	Title   string
	Tags    []string

	Visibility Visibility

	// Embedding is the passage vector computed at write time, empty when
	// the embedding service was unavailable.
	Embedding []float32

	// InjectionRisk marks content flagged by the safety scan.
	InjectionRisk bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DiaryEntryShare records that an entry has been shared with another agent.
// A share is meaningful only together with the corresponding viewer relation
// in the permission graph.
type DiaryEntryShare struct {
	ID        string
	EntryID   string
	AgentID   string
	CreatedAt time.Time
}
