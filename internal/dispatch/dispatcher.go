package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/carelinehq/careline/internal/intent"
	"github.com/carelinehq/careline/internal/session"
)

// Template triggers the dispatcher emits itself. Handler replies carry their
// own triggers.
const (
	TriggerUnknownIntent         = "unknown_intent"
	TriggerClarifyMissingSlot    = "clarify_missing_slot"
	TriggerConfirmIrreversible   = "confirm_irreversible"
	TriggerConfirmationCancelled = "confirmation_cancelled"
	TriggerErrorGeneric          = "error_generic"
)

// Dispatcher drives the middle of a turn: pending-intent continuation, slot
// filling, confirmation gating, and handler execution.
type Dispatcher struct {
	registry       *Registry
	autoExecute    float64
	confirm        float64
	handlerTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewDispatcher wires a dispatcher. autoExecute gates effectful handlers,
// confirm gates irreversible ones; confirm must not be below autoExecute.
func NewDispatcher(log *slog.Logger, registry *Registry, autoExecute, confirm float64, handlerTimeout time.Duration) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		registry:       registry,
		autoExecute:    autoExecute,
		confirm:        confirm,
		handlerTimeout: handlerTimeout,
		logger:         log.With(slog.String("service", "dispatch")),
		now:            time.Now,
	}
}

// Dispatch resolves one classified turn against the conversation state. The
// caller holds the identity lock and applies the returned mutations.
func (d *Dispatcher) Dispatch(ctx context.Context, conv session.Conversation, messageID, text string, result intent.Result) Outcome {
	if conv.Pending != nil {
		if conv.Pending.NeedsConfirm {
			return d.resolveConfirmation(ctx, conv, text)
		}
		return d.resolveClarification(ctx, conv, messageID, text, result)
	}
	return d.open(ctx, conv, messageID, result.Intent, result.Params, result.Confidence)
}

// resolveConfirmation interprets the turn as a yes/no answer to a stored
// confirmation question. Anything ambiguous re-asks rather than guessing.
func (d *Dispatcher) resolveConfirmation(ctx context.Context, conv session.Conversation, text string) Outcome {
	pending := *conv.Pending
	pendingIntent := intent.Parse(pending.Intent)
	switch {
	case isAffirmative(text):
		return d.execute(ctx, conv, pendingIntent, pending.Params, pending.MessageID)
	case isNegative(text):
		return Outcome{
			State:     StateDispatched,
			Intent:    pendingIntent,
			Reply:     Reply{Trigger: TriggerConfirmationCancelled},
			Mutations: []session.Mutation{{ClearPending: true}},
		}
	default:
		return Outcome{
			State:  StateAwaitingConfirmation,
			Intent: pendingIntent,
			Reply:  d.confirmReply(pendingIntent, pending.Params),
		}
	}
}

// resolveClarification treats the turn as the answer to a clarifying
// question, unless the classifier is confident the user switched topics.
func (d *Dispatcher) resolveClarification(ctx context.Context, conv session.Conversation, messageID, text string, result intent.Result) Outcome {
	pending := *conv.Pending
	pendingIntent := intent.Parse(pending.Intent)

	switched := result.Tier == intent.TierPrimary &&
		result.Confidence >= d.autoExecute &&
		result.Intent != intent.IntentUnknown &&
		result.Intent != pendingIntent
	if switched {
		d.logger.Debug("abandoning pending intent for confident switch",
			slog.String("pending", pending.Intent),
			slog.String("intent", result.Intent.String()))
		outcome := d.open(ctx, conv, messageID, result.Intent, result.Params, result.Confidence)
		outcome.Mutations = append([]session.Mutation{{ClearPending: true}}, outcome.Mutations...)
		return outcome
	}

	params := mergeParams(pending.Params, result.Params)
	if value := strings.TrimSpace(text); value != "" && params[pending.MissingSlot] == "" {
		params[pending.MissingSlot] = value
	}
	// Continue under the original message id so the whole multi-turn command
	// shares one idempotency key. Answering the question counts as engagement
	// up to the auto-execute level, so irreversible intents still get their
	// explicit confirmation turn.
	return d.proceed(ctx, conv, pendingIntent, params, pending.MessageID, d.autoExecute)
}

// open starts a fresh command from a classification result.
func (d *Dispatcher) open(ctx context.Context, conv session.Conversation, messageID string, in intent.Intent, params map[string]string, confidence float64) Outcome {
	if in == intent.IntentUnknown {
		return Outcome{
			State:  StateDispatched,
			Intent: in,
			Reply:  Reply{Trigger: TriggerUnknownIntent},
		}
	}
	return d.proceed(ctx, conv, in, mergeParams(nil, params), messageID, confidence)
}

// proceed checks slots and confirmation gates, then executes.
func (d *Dispatcher) proceed(ctx context.Context, conv session.Conversation, in intent.Intent, params map[string]string, messageID string, confidence float64) Outcome {
	handler, ok := d.registry.Lookup(in)
	if !ok {
		d.logger.Warn("classified intent has no handler", slog.String("intent", in.String()))
		return Outcome{
			State:      StateDispatched,
			Intent:     in,
			Reply:      Reply{Trigger: TriggerUnknownIntent},
			HandlerErr: ErrNoHandler,
			Mutations:  []session.Mutation{{ClearPending: true}},
		}
	}
	desc := handler.Describe()

	for _, slot := range desc.Required {
		if strings.TrimSpace(params[slot.Name]) != "" {
			continue
		}
		return Outcome{
			State:  StateAwaitingClarification,
			Intent: in,
			Reply: Reply{
				Trigger: TriggerClarifyMissingSlot,
				Params:  map[string]string{"question": slot.Question},
			},
			Mutations: []session.Mutation{{SetPending: &session.PendingIntent{
				Intent:      in.String(),
				Params:      params,
				MissingSlot: slot.Name,
				MessageID:   messageID,
				CreatedAt:   d.now(),
			}}},
		}
	}

	needsConfirm := (desc.Irreversible && confidence < d.confirm) ||
		(desc.Effectful && !desc.Irreversible && confidence < d.autoExecute)
	if needsConfirm {
		return Outcome{
			State:  StateAwaitingConfirmation,
			Intent: in,
			Reply:  d.confirmReply(in, params),
			Mutations: []session.Mutation{{SetPending: &session.PendingIntent{
				Intent:       in.String(),
				Params:       params,
				NeedsConfirm: true,
				MessageID:    messageID,
				CreatedAt:    d.now(),
			}}},
		}
	}

	return d.execute(ctx, conv, in, params, messageID)
}

// execute runs the handler under its timeout and maps error kinds to reply
// shapes. Validation failures correct the user; everything else apologizes
// and surfaces in the audit trail.
func (d *Dispatcher) execute(ctx context.Context, conv session.Conversation, in intent.Intent, params map[string]string, messageID string) Outcome {
	handler, ok := d.registry.Lookup(in)
	if !ok {
		return Outcome{
			State:      StateDispatched,
			Intent:     in,
			Reply:      Reply{Trigger: TriggerUnknownIntent},
			HandlerErr: ErrNoHandler,
			Mutations:  []session.Mutation{{ClearPending: true}},
		}
	}

	handlerCtx, cancel := context.WithTimeout(ctx, d.handlerTimeout)
	defer cancel()

	reply, err := handler.Handle(handlerCtx, Request{
		Identity:       conv.Identity,
		MessageID:      messageID,
		IdempotencyKey: messageID + ":" + in.String(),
		Params:         params,
		Conversation:   conv,
	})
	if err != nil {
		var validation *ValidationError
		if errors.As(err, &validation) {
			return Outcome{
				State:  StateDispatched,
				Intent: in,
				Reply: Reply{
					Trigger: TriggerClarifyMissingSlot,
					Params:  map[string]string{"question": validation.Message},
				},
				Mutations: []session.Mutation{{ClearPending: true}},
			}
		}
		d.logger.Error("handler failed",
			slog.String("intent", in.String()),
			slog.String("message_id", messageID),
			slog.Any("error", err))
		return Outcome{
			State:      StateDispatched,
			Intent:     in,
			Reply:      Reply{Trigger: TriggerErrorGeneric},
			HandlerErr: err,
			Mutations:  []session.Mutation{{ClearPending: true}},
		}
	}

	mutation := session.Mutation{ClearPending: true}
	if len(reply.SetContext) > 0 {
		mutation.Set = reply.SetContext
	}
	return Outcome{
		State:     StateDispatched,
		Intent:    in,
		Reply:     reply,
		Mutations: []session.Mutation{mutation},
	}
}

func (d *Dispatcher) confirmReply(in intent.Intent, params map[string]string) Reply {
	summary := in.String()
	if handler, ok := d.registry.Lookup(in); ok {
		if desc := handler.Describe(); desc.Summarize != nil {
			summary = desc.Summarize(params)
		}
	}
	return Reply{
		Trigger: TriggerConfirmIrreversible,
		Params:  map[string]string{"action_summary": summary},
	}
}

func mergeParams(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range extra {
		if value != "" {
			merged[key] = value
		}
	}
	return merged
}

var affirmatives = []string{"yes", "y", "yeah", "yep", "sure", "ok", "okay", "confirm", "please do", "go ahead"}

var negatives = []string{"no", "n", "nope", "cancel", "don't", "dont", "stop", "never mind", "nevermind"}

func isAffirmative(text string) bool {
	return matchesAnswer(text, affirmatives)
}

func isNegative(text string) bool {
	return matchesAnswer(text, negatives)
}

func matchesAnswer(text string, answers []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.TrimRight(normalized, ".!")
	for _, answer := range answers {
		if normalized == answer {
			return true
		}
	}
	return false
}
