package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPersistence stores conversations in the conversations table.
// Connection-level failures surface as ErrStoreUnavailable so the pipeline
// can signal the transport to redeliver.
type PostgresPersistence struct {
	pool *pgxpool.Pool
}

// NewPostgresPersistence creates a Postgres-backed persistence over pool.
func NewPostgresPersistence(pool *pgxpool.Pool) *PostgresPersistence {
	return &PostgresPersistence{pool: pool}
}

func (p *PostgresPersistence) Load(ctx context.Context, identity string) (Conversation, bool, error) {
	var (
		conv        Conversation
		contextJSON []byte
		pendingJSON []byte
		historyJSON []byte
	)
	row := p.pool.QueryRow(ctx,
		`SELECT identity, context, pending, history, created_at, updated_at
		 FROM conversations WHERE identity = $1`, identity)
	err := row.Scan(&conv.Identity, &contextJSON, &pendingJSON, &historyJSON, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &conv.Context); err != nil {
			return Conversation{}, false, fmt.Errorf("decode context: %w", err)
		}
	}
	if len(pendingJSON) > 0 {
		if err := json.Unmarshal(pendingJSON, &conv.Pending); err != nil {
			return Conversation{}, false, fmt.Errorf("decode pending: %w", err)
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &conv.History); err != nil {
			return Conversation{}, false, fmt.Errorf("decode history: %w", err)
		}
	}
	return conv, true, nil
}

func (p *PostgresPersistence) Save(ctx context.Context, conv Conversation) error {
	contextJSON, err := json.Marshal(nonNilContext(conv.Context))
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	historyJSON, err := json.Marshal(nonNilHistory(conv.History))
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	var pendingJSON []byte
	if conv.Pending != nil {
		pendingJSON, err = json.Marshal(conv.Pending)
		if err != nil {
			return fmt.Errorf("encode pending: %w", err)
		}
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO conversations (identity, context, pending, history, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (identity) DO UPDATE
		 SET context = EXCLUDED.context,
		     pending = EXCLUDED.pending,
		     history = EXCLUDED.history,
		     updated_at = EXCLUDED.updated_at`,
		conv.Identity, contextJSON, pendingJSON, historyJSON, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

var _ Persistence = (*PostgresPersistence)(nil)

func nonNilContext(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilHistory(turns []Turn) []Turn {
	if turns == nil {
		return []Turn{}
	}
	return turns
}
