package intent

import (
	"context"
	"log/slog"
	"time"
)

// Classifier combines the primary language-understanding tier with the
// deterministic fallback. Classify never returns an error: when both tiers
// find nothing, the result is IntentUnknown at minimal confidence.
type Classifier struct {
	primary  PrimaryClassifier
	fallback *Fallback
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClassifier creates the two-tier classifier. timeout bounds the primary
// call; the fallback is instantaneous.
func NewClassifier(log *slog.Logger, primary PrimaryClassifier, timeout time.Duration) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{
		primary:  primary,
		fallback: NewFallback(),
		timeout:  timeout,
		logger:   log.With(slog.String("service", "classifier")),
	}
}

// Classify runs the primary tier and falls back to deterministic patterns on
// timeout, error, or a primary confidence below the acceptance floor. The
// floor equals FallbackConfidence, preserving the invariant that fallback
// confidence is strictly lower than any accepted primary result.
func (c *Classifier) Classify(ctx context.Context, text string, convCtx Context) Result {
	if c.primary != nil {
		primaryCtx, cancel := context.WithTimeout(ctx, c.timeout)
		result, err := c.primary.Classify(primaryCtx, text, convCtx)
		cancel()
		if err == nil && result.Confidence > FallbackConfidence {
			return result
		}
		if err != nil {
			c.logger.Warn("primary classifier degraded, using fallback", slog.Any("error", err))
		} else {
			c.logger.Debug("primary result below acceptance floor, using fallback",
				slog.String("intent", result.Intent.String()),
				slog.Float64("confidence", result.Confidence))
		}
	}
	return c.fallback.Classify(text, convCtx)
}
