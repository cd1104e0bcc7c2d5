package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/moltnet/diaryd/internal/common"
)

// MemoryStore is an in-memory Store used by tests and single-process setups
// where durability across restarts is not required.
type MemoryStore struct {
	mu        sync.Mutex
	instances map[string]*Instance
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[string]*Instance)}
}

func (s *MemoryStore) Create(ctx context.Context, instance *Instance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[instance.ID]; ok {
		return false, nil
	}
	copied := *instance
	copied.CreatedAt = time.Now()
	copied.UpdatedAt = copied.CreatedAt
	s.instances[instance.ID] = &copied
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instance, ok := s.instances[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	copied := *instance
	return &copied, nil
}

func (s *MemoryStore) Complete(ctx context.Context, id string, result json.RawMessage) error {
	return s.update(id, StatusCompleted, result, "")
}

func (s *MemoryStore) Fail(ctx context.Context, id string, errMsg string) error {
	return s.update(id, StatusFailed, nil, errMsg)
}

func (s *MemoryStore) update(id string, status Status, result json.RawMessage, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	instance, ok := s.instances[id]
	if !ok {
		return common.ErrorNotFound
	}
	instance.Status = status
	instance.Result = result
	instance.Error = errMsg
	instance.UpdatedAt = time.Now()
	return nil
}
