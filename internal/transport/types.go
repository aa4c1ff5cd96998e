// Package transport wraps the messaging transport provider's send and media
// APIs. The concrete vendor is swappable; only this client knows its wire
// format.
package transport

import (
	"context"
	"io"
)

// Sender delivers outbound messages to an identity on the messaging channel.
// Sends are fire-and-forget from the pipeline's perspective; failures are
// logged, never propagated into the turn result.
type Sender interface {
	// SendText delivers a plain text message.
	SendText(ctx context.Context, to, text string) error
	// SendTemplate delivers a pre-registered template with named parameters.
	// Priority is an urgency hint to the provider, not pipeline logic.
	SendTemplate(ctx context.Context, to, name string, params map[string]string, priority string) error
}

// MediaSource exposes the provider's two-step media fetch: first resolve a
// short-lived URL for a media id, then download the content.
type MediaSource interface {
	ResolveMediaURL(ctx context.Context, mediaID string) (string, error)
	DownloadMedia(ctx context.Context, url string) (io.ReadCloser, error)
}
