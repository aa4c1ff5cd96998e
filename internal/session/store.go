package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Persistence abstracts conversation durability so the Store logic is
// testable without Postgres.
type Persistence interface {
	Load(ctx context.Context, identity string) (Conversation, bool, error)
	Save(ctx context.Context, conv Conversation) error
}

// Store is the only owner of Conversation records. All mutation goes through
// explicit Mutation values; per-identity locking keeps one turn in flight per
// conversation.
type Store struct {
	persistence  Persistence
	locks        *identityLocks
	historyLimit int
	logger       *slog.Logger
	now          func() time.Time
}

// NewStore creates a Store over the given persistence backend. historyLimit
// bounds the rolling turn history; <= 0 keeps it unbounded.
func NewStore(log *slog.Logger, p Persistence, historyLimit int) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		persistence:  p,
		locks:        newIdentityLocks(),
		historyLimit: historyLimit,
		logger:       log.With(slog.String("service", "session")),
		now:          time.Now,
	}
}

// Acquire takes the identity lock for the duration of a turn. The returned
// release function must be called once the turn has produced its reply (or
// aborted), so a queued turn for the same identity can proceed.
func (s *Store) Acquire(identity string) func() {
	return s.locks.Acquire(identity)
}

// Load returns the conversation for identity, creating an empty one
// atomically when absent. Callers must hold the identity lock for the
// load/update pair to be read-your-writes.
func (s *Store) Load(ctx context.Context, identity string) (Conversation, error) {
	conv, found, err := s.persistence.Load(ctx, identity)
	if err != nil {
		return Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if found {
		return conv, nil
	}
	now := s.now()
	conv = Conversation{
		Identity:  identity,
		Context:   make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.persistence.Save(ctx, conv); err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Debug("conversation created", slog.String("identity", identity))
	return conv, nil
}

// Update applies partial mutations in order and persists the result,
// returning the updated conversation. Callers must hold the identity lock.
func (s *Store) Update(ctx context.Context, identity string, mutations ...Mutation) (Conversation, error) {
	conv, err := s.Load(ctx, identity)
	if err != nil {
		return Conversation{}, err
	}
	for _, mutation := range mutations {
		mutation.apply(&conv, s.historyLimit, s.now())
	}
	if err := s.persistence.Save(ctx, conv); err != nil {
		return Conversation{}, fmt.Errorf("save conversation: %w", err)
	}
	return conv, nil
}
