// Package pipeline runs one inbound message through the full turn: session
// load, media handling, classification, dispatch, reply, session update, and
// audit. Each message gets its own goroutine and its own time budget.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/carelinehq/careline/internal/audit"
	"github.com/carelinehq/careline/internal/dispatch"
	"github.com/carelinehq/careline/internal/intent"
	"github.com/carelinehq/careline/internal/media"
	"github.com/carelinehq/careline/internal/session"
	"github.com/carelinehq/careline/internal/template"
	"github.com/carelinehq/careline/internal/transcribe"
	"github.com/carelinehq/careline/internal/transport"
)

// Message is one normalized inbound message after webhook parsing.
type Message struct {
	ID        string
	From      string
	Type      string // "text", "audio", "image", "document"
	Text      string
	MediaID   string
	Mime      string
	Language  string
	Timestamp time.Time
}

// Engine drives turns. One Handle call per message; concurrency across
// identities is unbounded, per identity the session lock serializes.
type Engine struct {
	store       *session.Store
	resolver    *media.Resolver
	transcriber transcribe.Transcriber
	classifier  *intent.Classifier
	dispatcher  *dispatch.Dispatcher
	templates   *template.Registry
	sender      transport.Sender
	recorder    audit.Recorder
	turnBudget  time.Duration
	logger      *slog.Logger
}

// NewEngine wires the turn engine.
func NewEngine(
	log *slog.Logger,
	store *session.Store,
	resolver *media.Resolver,
	transcriber transcribe.Transcriber,
	classifier *intent.Classifier,
	dispatcher *dispatch.Dispatcher,
	templates *template.Registry,
	sender transport.Sender,
	recorder audit.Recorder,
	turnBudget time.Duration,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if recorder == nil {
		recorder = audit.Noop{}
	}
	return &Engine{
		store:       store,
		resolver:    resolver,
		transcriber: transcriber,
		classifier:  classifier,
		dispatcher:  dispatcher,
		templates:   templates,
		sender:      sender,
		recorder:    recorder,
		turnBudget:  turnBudget,
		logger:      log.With(slog.String("service", "pipeline")),
	}
}

// Handle runs one full turn. It acquires the identity lock for the whole
// turn, so two messages from the same identity never interleave. A non-nil
// error means the turn aborted before any reply went out and the message
// should be redelivered by the transport.
func (e *Engine) Handle(ctx context.Context, msg Message) error {
	release := e.store.Acquire(msg.From)
	defer release()

	turnCtx, cancel := context.WithTimeout(ctx, e.turnBudget)
	defer cancel()

	return e.runTurn(turnCtx, msg)
}

func (e *Engine) runTurn(ctx context.Context, msg Message) error {
	conv, err := e.store.Load(ctx, msg.From)
	if err != nil {
		// No reply on a store outage: the user would get an error text and
		// the transport would still consider the message delivered. Abort
		// instead and let redelivery retry the whole turn.
		e.logger.Error("session load failed, aborting turn",
			slog.String("message_id", msg.ID),
			slog.Any("error", err))
		e.audit(msg, audit.DirectionInbound, intent.Result{}, "store_unavailable", err.Error())
		return err
	}

	text, failTrigger := e.resolveText(ctx, msg)
	if failTrigger != "" {
		e.audit(msg, audit.DirectionInbound, intent.Result{}, failTrigger, "")
		e.send(ctx, msg.From, failTrigger, nil)
		e.auditOutbound(msg, failTrigger)
		e.appendTurns(ctx, msg, "", intent.Result{}, e.renderText(failTrigger, nil), nil)
		return nil
	}

	result := e.classifier.Classify(ctx, text, classifierContext(conv))
	outcome := e.dispatcher.Dispatch(ctx, conv, msg.ID, text, result)

	if ctx.Err() != nil {
		e.logger.Warn("turn budget exceeded",
			slog.String("message_id", msg.ID),
			slog.String("identity", msg.From))
		e.audit(msg, audit.DirectionInbound, result, "timed_out", "")
		e.send(context.WithoutCancel(ctx), msg.From, "still_working", nil)
		e.auditOutbound(msg, "still_working")
		return nil
	}

	replyText := e.renderText(outcome.Reply.Trigger, outcome.Reply.Params)
	e.send(ctx, msg.From, outcome.Reply.Trigger, outcome.Reply.Params)

	e.appendTurns(ctx, msg, text, result, replyText, outcome.Mutations)

	inboundOutcome := string(outcome.State)
	detail := ""
	if outcome.HandlerErr != nil {
		inboundOutcome = "handler_failed"
		detail = outcome.HandlerErr.Error()
	}
	e.audit(msg, audit.DirectionInbound, result, inboundOutcome, detail)
	e.recorder.Record(context.WithoutCancel(ctx), audit.Entry{
		MessageID: msg.ID,
		Identity:  msg.From,
		Direction: audit.DirectionOutbound,
		Intent:    outcome.Intent.String(),
		Outcome:   outcome.Reply.Trigger,
	})
	return nil
}

// resolveText produces the text to classify. Voice notes are downloaded and
// transcribed; images and documents ride on their caption. Returns a
// template trigger naming the failure when the message yields no text.
func (e *Engine) resolveText(ctx context.Context, msg Message) (string, string) {
	switch msg.Type {
	case "audio":
		payload, err := e.resolver.Resolve(ctx, msg.MediaID)
		if err != nil {
			e.logger.Warn("media resolution failed",
				slog.String("message_id", msg.ID),
				slog.Any("error", err))
			return "", "media_failed"
		}
		text, err := e.transcriber.Transcribe(ctx, payload, transcribe.Hints{
			Language: msg.Language,
			Mime:     msg.Mime,
		})
		if err != nil {
			e.logger.Warn("transcription failed",
				slog.String("message_id", msg.ID),
				slog.Any("error", err))
			return "", "transcription_failed"
		}
		return text, ""
	case "image", "document":
		if strings.TrimSpace(msg.Text) != "" {
			return msg.Text, ""
		}
		return "", dispatch.TriggerUnknownIntent
	default:
		return msg.Text, ""
	}
}

// appendTurns persists the turn transcript plus the dispatcher's mutations in
// one session update. A failed update is logged; the reply already went out.
func (e *Engine) appendTurns(ctx context.Context, msg Message, userText string, result intent.Result, replyText string, mutations []session.Mutation) {
	now := time.Now().UTC()
	turns := session.Mutation{AppendTurns: []session.Turn{
		{Role: "user", Text: userText, Intent: result.Intent.String(), At: now},
		{Role: "assistant", Text: replyText, At: now},
	}}
	all := append(append([]session.Mutation{}, mutations...), turns)
	if _, err := e.store.Update(context.WithoutCancel(ctx), msg.From, all...); err != nil {
		e.logger.Error("session update failed",
			slog.String("identity", msg.From),
			slog.Any("error", err))
	}
}

// renderText renders a trigger, falling back to the generic error template.
// A literal placeholder never reaches the user.
func (e *Engine) renderText(trigger string, params map[string]string) string {
	rendered, err := e.templates.Render(trigger, params)
	if err == nil {
		return rendered.Text
	}
	e.logger.Error("template render failed",
		slog.String("trigger", trigger),
		slog.Any("error", err))
	if fallback, ferr := e.templates.Render(dispatch.TriggerErrorGeneric, nil); ferr == nil {
		return fallback.Text
	}
	return "Something went wrong on our side. Please try again in a moment."
}

func (e *Engine) send(ctx context.Context, to, trigger string, params map[string]string) {
	text := e.renderText(trigger, params)
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.sender.SendText(sendCtx, to, text); err != nil {
		e.logger.Error("reply send failed",
			slog.String("to", to),
			slog.String("trigger", trigger),
			slog.Any("error", err))
	}
}

// auditOutbound records a reply that carries no classification, such as an
// apology or a timeout notice. Every outbound message leaves a trail entry.
func (e *Engine) auditOutbound(msg Message, trigger string) {
	e.recorder.Record(context.Background(), audit.Entry{
		MessageID: msg.ID,
		Identity:  msg.From,
		Direction: audit.DirectionOutbound,
		Outcome:   trigger,
	})
}

func (e *Engine) audit(msg Message, direction audit.Direction, result intent.Result, outcome, detail string) {
	e.recorder.Record(context.Background(), audit.Entry{
		MessageID:  msg.ID,
		Identity:   msg.From,
		Direction:  direction,
		Intent:     result.Intent.String(),
		Confidence: result.Confidence,
		SourceTier: string(result.Tier),
		Outcome:    outcome,
		Detail:     detail,
	})
}

// classifierContext projects the bounded slice of session state the
// classifier is allowed to see.
func classifierContext(conv session.Conversation) intent.Context {
	turns := make([]intent.ContextTurn, 0, 6)
	lastIntent := ""
	for _, turn := range conv.RecentHistory(6) {
		turns = append(turns, intent.ContextTurn{Role: turn.Role, Text: turn.Text})
		if turn.Intent != "" && turn.Intent != intent.IntentUnknown.String() {
			lastIntent = turn.Intent
		}
	}
	var known []string
	if raw := conv.ContextValue("known_children"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				known = append(known, trimmed)
			}
		}
	}
	return intent.Context{
		Turns:         turns,
		ActiveChild:   conv.ContextValue("active_child"),
		KnownChildren: known,
		LastIntent:    lastIntent,
	}
}
