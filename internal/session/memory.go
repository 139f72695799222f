package session

import (
	"context"
	"sync"

	"github.com/arborlabs/arbor/internal/tree"
)

// MemoryStore is an in-process Store for tests and single-node setups
// without durable storage. Conversations survive eviction from the
// manager's working set but not process restarts.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, td *tree.TreeData) error {
	data, err := td.Marshal()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.blobs[sessionKey(td.UserID, td.ConversationID)] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, userID, conversationID string) (*tree.TreeData, error) {
	s.mu.RLock()
	data, ok := s.blobs[sessionKey(userID, conversationID)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return tree.UnmarshalTreeData(data)
}

func (s *MemoryStore) Exists(_ context.Context, userID, conversationID string) (bool, error) {
	s.mu.RLock()
	_, ok := s.blobs[sessionKey(userID, conversationID)]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID, conversationID string) error {
	s.mu.Lock()
	delete(s.blobs, sessionKey(userID, conversationID))
	s.mu.Unlock()
	return nil
}
