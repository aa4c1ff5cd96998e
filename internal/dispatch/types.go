// Package dispatch routes classified intents to registered action handlers,
// filling missing parameters and gating risky actions behind confirmation
// turns along the way.
package dispatch

import (
	"context"

	"github.com/carelinehq/careline/internal/intent"
	"github.com/carelinehq/careline/internal/session"
)

// TurnState tracks where a turn ended up. Received and Classified are
// transient; the dispatcher reports one of the latter three.
type TurnState string

const (
	StateReceived              TurnState = "received"
	StateClassified            TurnState = "classified"
	StateAwaitingClarification TurnState = "awaiting_clarification"
	StateAwaitingConfirmation  TurnState = "awaiting_confirmation"
	StateDispatched            TurnState = "dispatched"
	StateResponded             TurnState = "responded"
)

// Slot is a parameter a handler needs, with the question asked when it is
// missing.
type Slot struct {
	Name     string
	Question string
}

// Descriptor declares a handler's routing contract. Irreversible implies
// Effectful; Effectful but reversible actions still confirm below the
// auto-execute threshold, purely informational ones never do.
type Descriptor struct {
	Intent       intent.Intent
	Required     []Slot
	Effectful    bool
	Irreversible bool
	// Summarize phrases the action for a confirmation question. Required
	// when Irreversible or Effectful.
	Summarize func(params map[string]string) string
}

// Request is what a handler receives for one execution. IdempotencyKey is
// stable across webhook redeliveries and across the clarification turns of a
// single command.
type Request struct {
	Identity       string
	MessageID      string
	IdempotencyKey string
	Params         map[string]string
	Conversation   session.Conversation
}

// Reply is a handler's answer: a template trigger plus its parameters, and
// optional session context updates (e.g. remembering the active child).
type Reply struct {
	Trigger    string
	Params     map[string]string
	SetContext map[string]string
}

// Handler executes one intent.
type Handler interface {
	Describe() Descriptor
	Handle(ctx context.Context, req Request) (Reply, error)
}

// Outcome is the dispatcher's verdict on a turn: the reply to render, session
// mutations for the pipeline to apply under the identity lock, and the
// handler error (if any) for the audit trail.
type Outcome struct {
	State      TurnState
	Intent     intent.Intent
	Reply      Reply
	Mutations  []session.Mutation
	HandlerErr error
}
