package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrimary struct {
	result Result
	err    error
	delay  time.Duration
	calls  int
}

func (s *stubPrimary) Classify(ctx context.Context, text string, convCtx Context) (Result, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return s.result, s.err
}

func TestClassify_AcceptsConfidentPrimary(t *testing.T) {
	t.Parallel()
	primary := &stubPrimary{result: Result{
		Intent:     IntentScheduleAppointment,
		Confidence: 0.92,
		Params:     map[string]string{"child_name": "Emma"},
		Tier:       TierPrimary,
	}}
	classifier := NewClassifier(nil, primary, time.Second)

	result := classifier.Classify(context.Background(), "schedule for Emma", Context{})

	assert.Equal(t, TierPrimary, result.Tier)
	assert.Equal(t, IntentScheduleAppointment, result.Intent)
	assert.Equal(t, 0.92, result.Confidence)
}

func TestClassify_FallsBackOnPrimaryError(t *testing.T) {
	t.Parallel()
	primary := &stubPrimary{err: errors.New("provider down")}
	classifier := NewClassifier(nil, primary, time.Second)

	result := classifier.Classify(context.Background(), "book an appointment", Context{})

	require.Equal(t, 1, primary.calls)
	assert.Equal(t, TierFallback, result.Tier)
	assert.Equal(t, IntentScheduleAppointment, result.Intent)
	assert.Equal(t, FallbackConfidence, result.Confidence)
}

func TestClassify_FallsBackOnTimeout(t *testing.T) {
	t.Parallel()
	primary := &stubPrimary{delay: time.Second, result: Result{Intent: IntentGreeting, Confidence: 0.99}}
	classifier := NewClassifier(nil, primary, 10*time.Millisecond)

	result := classifier.Classify(context.Background(), "hello", Context{})

	assert.Equal(t, TierFallback, result.Tier)
	assert.Equal(t, IntentGreeting, result.Intent)
}

func TestClassify_FallsBackBelowAcceptanceFloor(t *testing.T) {
	t.Parallel()
	primary := &stubPrimary{result: Result{
		Intent:     IntentGenerateReport,
		Confidence: 0.30,
		Tier:       TierPrimary,
	}}
	classifier := NewClassifier(nil, primary, time.Second)

	result := classifier.Classify(context.Background(), "send me a report", Context{})

	assert.Equal(t, TierFallback, result.Tier)
	assert.Equal(t, IntentGenerateReport, result.Intent)
}

func TestClassify_NilPrimaryUsesFallback(t *testing.T) {
	t.Parallel()
	classifier := NewClassifier(nil, nil, time.Second)

	result := classifier.Classify(context.Background(), "hello", Context{})
	assert.Equal(t, TierFallback, result.Tier)
	assert.Equal(t, IntentGreeting, result.Intent)
}

func TestParse_ClosedSet(t *testing.T) {
	t.Parallel()
	assert.Equal(t, IntentCrisisSupport, Parse("crisis_support"))
	assert.Equal(t, IntentUnknown, Parse("made_up_intent"))
	assert.Equal(t, IntentUnknown, Parse(""))
}
