// Package session persists per-identity conversation state and serializes
// turns with a per-identity lock.
package session

import "time"

// Turn is one entry in a conversation's rolling history.
type Turn struct {
	Role   string    `json:"role"` // "user" or "assistant"
	Text   string    `json:"text"`
	Intent string    `json:"intent,omitempty"`
	At     time.Time `json:"at"`
}

// PendingIntent holds a partially-filled intent carried across turns, either
// waiting for a missing slot or for an explicit confirmation.
type PendingIntent struct {
	Intent       string            `json:"intent"`
	Params       map[string]string `json:"params,omitempty"`
	MissingSlot  string            `json:"missing_slot,omitempty"`
	NeedsConfirm bool              `json:"needs_confirm,omitempty"`
	MessageID    string            `json:"message_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Conversation is the per-identity session state. Owned exclusively by the
// Store; callers mutate it only through Mutation values.
type Conversation struct {
	Identity  string            `json:"identity"`
	Context   map[string]string `json:"context"`
	Pending   *PendingIntent    `json:"pending,omitempty"`
	History   []Turn            `json:"history"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ContextValue returns the trimmed context value for key, or "".
func (c Conversation) ContextValue(key string) string {
	if c.Context == nil {
		return ""
	}
	return c.Context[key]
}

// RecentHistory returns up to limit most recent turns, oldest first.
func (c Conversation) RecentHistory(limit int) []Turn {
	if limit <= 0 || len(c.History) <= limit {
		return c.History
	}
	return c.History[len(c.History)-limit:]
}

// Mutation is an explicit, partial change applied to a Conversation under the
// identity lock. Zero-value fields are no-ops.
type Mutation struct {
	Set          map[string]string
	Unset        []string
	AppendTurns  []Turn
	SetPending   *PendingIntent
	ClearPending bool
}

func (m Mutation) apply(conv *Conversation, historyLimit int, now time.Time) {
	if conv.Context == nil {
		conv.Context = make(map[string]string)
	}
	for key, value := range m.Set {
		conv.Context[key] = value
	}
	for _, key := range m.Unset {
		delete(conv.Context, key)
	}
	if m.ClearPending {
		conv.Pending = nil
	}
	if m.SetPending != nil {
		pending := *m.SetPending
		conv.Pending = &pending
	}
	conv.History = append(conv.History, m.AppendTurns...)
	if historyLimit > 0 && len(conv.History) > historyLimit {
		conv.History = conv.History[len(conv.History)-historyLimit:]
	}
	conv.UpdatedAt = now
}
