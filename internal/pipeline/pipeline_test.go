package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelinehq/careline/internal/audit"
	"github.com/carelinehq/careline/internal/dispatch"
	"github.com/carelinehq/careline/internal/intent"
	"github.com/carelinehq/careline/internal/media"
	"github.com/carelinehq/careline/internal/session"
	"github.com/carelinehq/careline/internal/template"
	"github.com/carelinehq/careline/internal/transcribe"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	to    []string
	errOn int
}

func (f *fakeSender) SendText(ctx context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.to = append(f.to, to)
	return nil
}

func (f *fakeSender) SendTemplate(ctx context.Context, to, name string, params map[string]string, priority string) error {
	return nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeMediaSource struct {
	payload []byte
	err     error
}

func (f *fakeMediaSource) ResolveMediaURL(ctx context.Context, mediaID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://media.test/" + mediaID, nil
}

func (f *fakeMediaSource) DownloadMedia(ctx context.Context, url string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.payload)), nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, hints transcribe.Hints) (string, error) {
	return f.text, f.err
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeRecorder) Record(ctx context.Context, entry audit.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeRecorder) byDirection(d audit.Direction) []audit.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []audit.Entry
	for _, e := range f.entries {
		if e.Direction == d {
			out = append(out, e)
		}
	}
	return out
}

type unavailablePersistence struct{}

func (unavailablePersistence) Load(context.Context, string) (session.Conversation, bool, error) {
	return session.Conversation{}, false, fmt.Errorf("%w: connection refused", session.ErrStoreUnavailable)
}

func (unavailablePersistence) Save(context.Context, session.Conversation) error {
	return fmt.Errorf("%w: connection refused", session.ErrStoreUnavailable)
}

type greetHandler struct{}

func (greetHandler) Describe() dispatch.Descriptor {
	return dispatch.Descriptor{Intent: intent.IntentGreeting}
}

func (greetHandler) Handle(ctx context.Context, req dispatch.Request) (dispatch.Reply, error) {
	return dispatch.Reply{Trigger: "greeting"}, nil
}

type scheduleTestHandler struct {
	calls int
	keys  []string
}

func (h *scheduleTestHandler) Describe() dispatch.Descriptor {
	return dispatch.Descriptor{
		Intent:    intent.IntentScheduleAppointment,
		Required:  []dispatch.Slot{{Name: "child_name", Question: "Which child is the appointment for?"}},
		Effectful: true,
		Summarize: func(params map[string]string) string {
			return "schedule an appointment for " + params["child_name"]
		},
	}
}

func (h *scheduleTestHandler) Handle(ctx context.Context, req dispatch.Request) (dispatch.Reply, error) {
	h.calls++
	h.keys = append(h.keys, req.IdempotencyKey)
	return dispatch.Reply{
		Trigger: "appointment_scheduled",
		Params: map[string]string{
			"assessment_type": "autism",
			"child_name":      req.Params["child_name"],
			"date":            "2026-09-08 10:00",
		},
		SetContext: map[string]string{"active_child": req.Params["child_name"]},
	}, nil
}

type engineParts struct {
	engine   *Engine
	store    *session.Store
	sender   *fakeSender
	recorder *fakeRecorder
	schedule *scheduleTestHandler
}

func newTestEngine(t *testing.T, transcriber transcribe.Transcriber, source *fakeMediaSource, budget time.Duration) engineParts {
	t.Helper()
	return newTestEngineWith(t, session.NewMemoryPersistence(), transcriber, source, budget)
}

func newTestEngineWith(t *testing.T, p session.Persistence, transcriber transcribe.Transcriber, source *fakeMediaSource, budget time.Duration) engineParts {
	t.Helper()

	registry := dispatch.NewRegistry()
	schedule := &scheduleTestHandler{}
	require.NoError(t, registry.Register(greetHandler{}))
	require.NoError(t, registry.Register(schedule))

	templates, err := template.Load("../../templates.yaml")
	require.NoError(t, err)

	store := session.NewStore(nil, p, 10)
	sender := &fakeSender{}
	recorder := &fakeRecorder{}
	engine := NewEngine(
		nil,
		store,
		media.NewResolver(nil, source, 1<<20),
		transcriber,
		intent.NewClassifier(nil, nil, time.Second),
		dispatch.NewDispatcher(nil, registry, 0.75, 0.85, time.Second),
		templates,
		sender,
		recorder,
		budget,
	)
	return engineParts{engine: engine, store: store, sender: sender, recorder: recorder, schedule: schedule}
}

func TestHandle_TextTurnEndToEnd(t *testing.T) {
	t.Parallel()
	parts := newTestEngine(t, &fakeTranscriber{}, &fakeMediaSource{}, 30*time.Second)

	parts.engine.Handle(context.Background(), Message{
		ID:   "msg-1",
		From: "family-1",
		Type: "text",
		Text: "hello",
	})

	assert.Contains(t, parts.sender.last(), "schedule appointments")

	conv, err := parts.store.Load(context.Background(), "family-1")
	require.NoError(t, err)
	require.Len(t, conv.History, 2)
	assert.Equal(t, "user", conv.History[0].Role)
	assert.Equal(t, "hello", conv.History[0].Text)
	assert.Equal(t, "assistant", conv.History[1].Role)

	inbound := parts.recorder.byDirection(audit.DirectionInbound)
	require.Len(t, inbound, 1)
	assert.Equal(t, "greeting", inbound[0].Intent)
	assert.Equal(t, string(intent.TierFallback), inbound[0].SourceTier)
	outbound := parts.recorder.byDirection(audit.DirectionOutbound)
	require.Len(t, outbound, 1)
}

func TestHandle_SlotFillingSpansTurns(t *testing.T) {
	t.Parallel()
	parts := newTestEngine(t, &fakeTranscriber{}, &fakeMediaSource{}, 30*time.Second)

	parts.engine.Handle(context.Background(), Message{
		ID: "msg-1", From: "family-1", Type: "text", Text: "I need to schedule an appointment",
	})
	assert.Equal(t, "Which child is the appointment for?", parts.sender.last())
	assert.Zero(t, parts.schedule.calls)

	parts.engine.Handle(context.Background(), Message{
		ID: "msg-2", From: "family-1", Type: "text", Text: "Emma",
	})
	require.Equal(t, 1, parts.schedule.calls)
	assert.Equal(t, []string{"msg-1:schedule_appointment"}, parts.schedule.keys)
	assert.Contains(t, parts.sender.last(), "Emma")

	conv, err := parts.store.Load(context.Background(), "family-1")
	require.NoError(t, err)
	assert.Nil(t, conv.Pending)
	assert.Equal(t, "Emma", conv.ContextValue("active_child"))
	assert.Len(t, conv.History, 4)
}

func TestHandle_VoiceMessageIsTranscribed(t *testing.T) {
	t.Parallel()
	parts := newTestEngine(t,
		&fakeTranscriber{text: "hello there"},
		&fakeMediaSource{payload: []byte("opus-bytes")},
		30*time.Second)

	parts.engine.Handle(context.Background(), Message{
		ID: "msg-1", From: "family-1", Type: "audio", MediaID: "media-9", Mime: "audio/ogg",
	})

	assert.Contains(t, parts.sender.last(), "schedule appointments")
	inbound := parts.recorder.byDirection(audit.DirectionInbound)
	require.Len(t, inbound, 1)
	assert.Equal(t, "greeting", inbound[0].Intent)
}

func TestHandle_TranscriptionFailureApologizes(t *testing.T) {
	t.Parallel()
	parts := newTestEngine(t,
		&fakeTranscriber{err: fmt.Errorf("%w: garbled", transcribe.ErrTranscriptionFailed)},
		&fakeMediaSource{payload: []byte("noise")},
		30*time.Second)

	parts.engine.Handle(context.Background(), Message{
		ID: "msg-1", From: "family-1", Type: "audio", MediaID: "media-9",
	})

	assert.Contains(t, parts.sender.last(), "voice message")
	inbound := parts.recorder.byDirection(audit.DirectionInbound)
	require.Len(t, inbound, 1)
	assert.Equal(t, "transcription_failed", inbound[0].Outcome)
	outbound := parts.recorder.byDirection(audit.DirectionOutbound)
	require.Len(t, outbound, 1)
	assert.Equal(t, "transcription_failed", outbound[0].Outcome)
}

func TestHandle_StoreOutageAbortsWithoutReply(t *testing.T) {
	t.Parallel()
	parts := newTestEngineWith(t, unavailablePersistence{},
		&fakeTranscriber{}, &fakeMediaSource{}, 30*time.Second)

	err := parts.engine.Handle(context.Background(), Message{
		ID: "msg-1", From: "family-1", Type: "text", Text: "hello",
	})

	// The turn aborts and surfaces the error so the gateway can release the
	// message for redelivery; the user gets no reply at all.
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrStoreUnavailable)
	assert.Zero(t, parts.sender.count())

	inbound := parts.recorder.byDirection(audit.DirectionInbound)
	require.Len(t, inbound, 1)
	assert.Equal(t, "store_unavailable", inbound[0].Outcome)
	assert.Empty(t, parts.recorder.byDirection(audit.DirectionOutbound))
}

func TestHandle_MediaFailureApologizes(t *testing.T) {
	t.Parallel()
	parts := newTestEngine(t,
		&fakeTranscriber{},
		&fakeMediaSource{err: fmt.Errorf("gone")},
		30*time.Second)

	parts.engine.Handle(context.Background(), Message{
		ID: "msg-1", From: "family-1", Type: "audio", MediaID: "media-9",
	})

	assert.Contains(t, parts.sender.last(), "download")
}

func TestHandle_TurnBudgetExceededStillReplies(t *testing.T) {
	t.Parallel()
	parts := newTestEngine(t, &fakeTranscriber{}, &fakeMediaSource{}, time.Nanosecond)

	parts.engine.Handle(context.Background(), Message{
		ID: "msg-1", From: "family-1", Type: "text", Text: "hello",
	})

	assert.Contains(t, strings.ToLower(parts.sender.last()), "still working")
	inbound := parts.recorder.byDirection(audit.DirectionInbound)
	require.Len(t, inbound, 1)
	assert.Equal(t, "timed_out", inbound[0].Outcome)
	outbound := parts.recorder.byDirection(audit.DirectionOutbound)
	require.Len(t, outbound, 1)
	assert.Equal(t, "still_working", outbound[0].Outcome)
}

func TestHandle_SameIdentitySerialized(t *testing.T) {
	t.Parallel()
	parts := newTestEngine(t, &fakeTranscriber{}, &fakeMediaSource{}, 30*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			parts.engine.Handle(context.Background(), Message{
				ID: fmt.Sprintf("msg-%d", n), From: "family-1", Type: "text", Text: "hello",
			})
		}(i)
	}
	wg.Wait()

	conv, err := parts.store.Load(context.Background(), "family-1")
	require.NoError(t, err)
	// 10 turns of 2 entries each, bounded by the history limit.
	assert.Len(t, conv.History, 10)
}
