package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Dedup decides whether a transport message id has been seen before. Begin
// must be atomic: exactly one caller across all replicas wins a given id.
// Release un-marks an id whose turn aborted without a reply, so the
// transport's redelivery is processed instead of short-circuited.
type Dedup interface {
	Begin(ctx context.Context, messageID, identity string) (fresh bool, err error)
	Release(ctx context.Context, messageID string) error
}

// PostgresDedup records processed message ids in the processed_messages
// table. The primary key makes Begin a single atomic insert.
type PostgresDedup struct {
	pool *pgxpool.Pool
}

func NewPostgresDedup(pool *pgxpool.Pool) *PostgresDedup {
	return &PostgresDedup{pool: pool}
}

const insertProcessed = `
INSERT INTO processed_messages (message_id, identity, status, processed_at)
VALUES ($1, $2, 'accepted', $3)
ON CONFLICT (message_id) DO NOTHING`

func (d *PostgresDedup) Begin(ctx context.Context, messageID, identity string) (bool, error) {
	tag, err := d.pool.Exec(ctx, insertProcessed, messageID, identity, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("dedup insert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (d *PostgresDedup) Release(ctx context.Context, messageID string) error {
	if _, err := d.pool.Exec(ctx,
		`DELETE FROM processed_messages WHERE message_id = $1`, messageID); err != nil {
		return fmt.Errorf("dedup release: %w", err)
	}
	return nil
}

var _ Dedup = (*PostgresDedup)(nil)

// MemoryDedup is the in-process variant for tests and development.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]struct{})}
}

func (d *MemoryDedup) Begin(_ context.Context, messageID, _ string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[messageID]; ok {
		return false, nil
	}
	d.seen[messageID] = struct{}{}
	return true, nil
}

func (d *MemoryDedup) Release(_ context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, messageID)
	return nil
}

var _ Dedup = (*MemoryDedup)(nil)
