package session

import (
	"context"
	"sync"
)

// MemoryPersistence keeps conversations in process memory. Used by tests and
// single-node development runs.
type MemoryPersistence struct {
	mu    sync.RWMutex
	items map[string]Conversation
}

// NewMemoryPersistence creates an empty in-memory backend.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{items: make(map[string]Conversation)}
}

func (m *MemoryPersistence) Load(_ context.Context, identity string) (Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.items[identity]
	if !ok {
		return Conversation{}, false, nil
	}
	return cloneConversation(conv), true, nil
}

func (m *MemoryPersistence) Save(_ context.Context, conv Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[conv.Identity] = cloneConversation(conv)
	return nil
}

var _ Persistence = (*MemoryPersistence)(nil)

func cloneConversation(conv Conversation) Conversation {
	out := conv
	out.Context = make(map[string]string, len(conv.Context))
	for k, v := range conv.Context {
		out.Context[k] = v
	}
	out.History = append([]Turn(nil), conv.History...)
	if conv.Pending != nil {
		pending := *conv.Pending
		pending.Params = make(map[string]string, len(conv.Pending.Params))
		for k, v := range conv.Pending.Params {
			pending.Params[k] = v
		}
		out.Pending = &pending
	}
	return out
}
