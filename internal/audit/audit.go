// Package audit appends a persistent trail of inbound messages and outbound
// replies. Audit failures are logged and swallowed: losing a trail entry must
// never fail a user's turn.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelinehq/careline/internal/db"
)

// Direction marks whether an entry describes a received or a sent message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Entry is one audit record: the message, its classification snapshot, and
// how the turn ended.
type Entry struct {
	MessageID  string
	Identity   string
	Direction  Direction
	Intent     string
	Confidence float64
	SourceTier string
	Outcome    string
	Detail     string
}

// Recorder is what the pipeline depends on.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// Logger writes entries to Postgres. Safe for concurrent use; the pool
// serializes nothing and the table is append-only.
type Logger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewLogger creates the Postgres-backed audit logger.
func NewLogger(log *slog.Logger, pool *pgxpool.Pool) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{
		pool:   pool,
		logger: log.With(slog.String("service", "audit")),
		now:    time.Now,
	}
}

const insertEntry = `
INSERT INTO audit_entries (id, message_id, identity, direction, intent, confidence, source_tier, outcome, detail, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Record appends one entry. Errors are logged, never returned.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	_, err := l.pool.Exec(ctx, insertEntry,
		uuid.New(),
		entry.MessageID,
		entry.Identity,
		string(entry.Direction),
		db.ToPgText(entry.Intent),
		entry.Confidence,
		db.ToPgText(entry.SourceTier),
		db.ToPgText(entry.Outcome),
		db.ToPgText(entry.Detail),
		l.now().UTC(),
	)
	if err != nil {
		l.logger.Error("audit write failed",
			slog.String("message_id", entry.MessageID),
			slog.String("direction", string(entry.Direction)),
			slog.Any("error", err))
	}
}

var _ Recorder = (*Logger)(nil)

// Noop discards entries; used when auditing is disabled.
type Noop struct{}

func (Noop) Record(context.Context, Entry) {}

var _ Recorder = Noop{}
