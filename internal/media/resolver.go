// Package media fetches inbound media referenced by transport messages.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/carelinehq/careline/internal/transport"
)

const (
	// stepTimeout bounds each of the two fetch steps independently.
	stepTimeout = 10 * time.Second
	retryDelay  = 500 * time.Millisecond
)

// Resolver performs the provider's two-step media fetch with timeouts, a
// single retry per step, and a size ceiling. It has no side effects beyond
// the fetch itself.
type Resolver struct {
	source   transport.MediaSource
	maxBytes int64
	logger   *slog.Logger
}

// NewResolver creates a Resolver. maxBytes bounds the downloaded payload to
// keep memory use predictable.
func NewResolver(log *slog.Logger, source transport.MediaSource, maxBytes int64) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		source:   source,
		maxBytes: maxBytes,
		logger:   log.With(slog.String("service", "media")),
	}
}

// Resolve fetches the content for a transport media reference. Exhausted
// retries and oversized payloads both surface as ErrMediaUnavailable.
func (r *Resolver) Resolve(ctx context.Context, mediaRef string) ([]byte, error) {
	url, err := withRetry(ctx, func(stepCtx context.Context) (string, error) {
		return r.source.ResolveMediaURL(stepCtx, mediaRef)
	})
	if err != nil {
		r.logger.Warn("media url resolve failed", slog.String("media_ref", mediaRef), slog.Any("error", err))
		return nil, fmt.Errorf("%w: resolve url: %w", ErrMediaUnavailable, err)
	}

	data, err := withRetry(ctx, func(stepCtx context.Context) ([]byte, error) {
		body, err := r.source.DownloadMedia(stepCtx, url)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = body.Close()
		}()
		return readAllWithLimit(body, r.maxBytes)
	})
	if err != nil {
		r.logger.Warn("media download failed", slog.String("media_ref", mediaRef), slog.Any("error", err))
		return nil, fmt.Errorf("%w: download: %w", ErrMediaUnavailable, err)
	}
	r.logger.Debug("media resolved", slog.String("media_ref", mediaRef), slog.Int("bytes", len(data)))
	return data, nil
}

// withRetry runs fn with a per-step timeout and retries once on failure,
// unless the parent context is already done.
func withRetry[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		value, err := fn(stepCtx)
		cancel()
		if err == nil {
			return value, nil
		}
		if attempt >= 1 || ctx.Err() != nil {
			return zero, err
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

func readAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be greater than 0")
	}
	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxBytes)
	}
	return data, nil
}
