package permgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/moltnet/diaryd/internal/common"
)

// HTTPGraph talks to a permission-graph service over its relationship-tuple
// HTTP API. Every failure is reported as common.ErrorUpstream so the saga
// layer can classify it for retry.
type HTTPGraph struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGraph constructs a client for the graph service at baseURL.
func NewHTTPGraph(baseURL string) *HTTPGraph {
	return &HTTPGraph{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type tuple struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Relation     string `json:"relation"`
	SubjectType  string `json:"subject_type"`
	SubjectID    string `json:"subject_id"`
}

func entryTuple(entryID, relation, agentID string) tuple {
	return tuple{
		ResourceType: "DiaryEntry",
		ResourceID:   entryID,
		Relation:     relation,
		SubjectType:  "Agent",
		SubjectID:    agentID,
	}
}

func (g *HTTPGraph) GrantOwnership(ctx context.Context, entryID, agentID string) error {
	return g.writeTuple(ctx, http.MethodPost, entryTuple(entryID, RelationOwner, agentID))
}

func (g *HTTPGraph) GrantViewer(ctx context.Context, entryID, agentID string) error {
	return g.writeTuple(ctx, http.MethodPost, entryTuple(entryID, RelationViewer, agentID))
}

func (g *HTTPGraph) RevokeViewer(ctx context.Context, entryID, agentID string) error {
	return g.writeTuple(ctx, http.MethodDelete, entryTuple(entryID, RelationViewer, agentID))
}

func (g *HTTPGraph) RemoveEntryRelations(ctx context.Context, entryID string) error {
	body := map[string]string{"resource_type": "DiaryEntry", "resource_id": entryID}
	return g.do(ctx, http.MethodDelete, "/v1/relations/resource", body, nil)
}

func (g *HTTPGraph) RegisterAgent(ctx context.Context, agentID string) error {
	body := map[string]string{"type": "Agent", "id": agentID}
	return g.do(ctx, http.MethodPost, "/v1/objects", body, nil)
}

func (g *HTTPGraph) CanViewEntry(ctx context.Context, entryID, agentID string) (bool, error) {
	return g.check(ctx, entryID, "can_view", agentID)
}

func (g *HTTPGraph) CanEditEntry(ctx context.Context, entryID, agentID string) (bool, error) {
	return g.check(ctx, entryID, "can_edit", agentID)
}

func (g *HTTPGraph) CanDeleteEntry(ctx context.Context, entryID, agentID string) (bool, error) {
	return g.check(ctx, entryID, "can_delete", agentID)
}

func (g *HTTPGraph) CanShareEntry(ctx context.Context, entryID, agentID string) (bool, error) {
	return g.check(ctx, entryID, "can_share", agentID)
}

func (g *HTTPGraph) writeTuple(ctx context.Context, method string, tpl tuple) error {
	return g.do(ctx, method, "/v1/relations", tpl, nil)
}

func (g *HTTPGraph) check(ctx context.Context, entryID, permission, agentID string) (bool, error) {
	body := map[string]string{
		"resource_type": "DiaryEntry",
		"resource_id":   entryID,
		"permission":    permission,
		"subject_type":  "Agent",
		"subject_id":    agentID,
	}
	var result struct {
		Allowed bool `json:"allowed"`
	}
	if err := g.do(ctx, http.MethodPost, "/v1/check", body, &result); err != nil {
		return false, err
	}
	return result.Allowed, nil
}

func (g *HTTPGraph) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding graph request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrorUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: permission graph unreachable: %v", common.ErrorUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: permission graph returned %d: %s", common.ErrorUpstream, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding graph response: %v", common.ErrorUpstream, err)
		}
	}
	return nil
}
