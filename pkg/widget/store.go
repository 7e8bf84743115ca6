package widget

import "sync"

// Store is the local persistence used by the widget: one conversation
// reference keyed globally plus one last-seen timestamp per conversation.
// On the web build this is backed by browser local storage; tests and the
// embeddable Go client use MemoryStore.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

const (
	// conversationKey holds the persisted conversation id reference.
	conversationKey = "trafficai:conversation_id"
	// lastSeenKeyPrefix is joined with a conversation id.
	lastSeenKeyPrefix = "trafficai:last_seen:"
)

// MemoryStore is an in-process Store implementation.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *MemoryStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}
