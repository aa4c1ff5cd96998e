// Package transcribe wraps the speech-to-text collaborator behind a single
// failure type.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/carelinehq/careline/internal/config"
)

// ErrTranscriptionFailed is the only error the adapter surfaces; every
// provider-specific failure is normalized into it. Voice input has no
// deterministic fallback, so the pipeline answers with a fixed apology.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Hints carries optional context the provider can use to improve accuracy.
type Hints struct {
	Language string `json:"language,omitempty"`
	Mime     string `json:"mime,omitempty"`
}

// Transcriber converts raw audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, hints Hints) (string, error)
}

// Client is the HTTP implementation of Transcriber.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a transcriber client from config.
func NewClient(log *slog.Logger, cfg config.TranscribeConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		logger:     log.With(slog.String("service", "transcribe")),
	}
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe sends the audio payload to the provider and returns the text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, hints Hints) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: empty audio payload", ErrTranscriptionFailed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcriptions", bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", ErrTranscriptionFailed, err)
	}
	contentType := strings.TrimSpace(hints.Mime)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	if hints.Language != "" {
		req.Header.Set("Accept-Language", hints.Language)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("provider call failed", slog.Any("error", err))
		return "", fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("provider rejected audio",
			slog.Int("status", resp.StatusCode),
			slog.String("detail", strings.TrimSpace(string(detail))))
		return "", fmt.Errorf("%w: status %d", ErrTranscriptionFailed, resp.StatusCode)
	}
	var decoded transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrTranscriptionFailed, err)
	}
	text := strings.TrimSpace(decoded.Text)
	if text == "" {
		return "", fmt.Errorf("%w: provider returned empty text", ErrTranscriptionFailed)
	}
	return text, nil
}

var _ Transcriber = (*Client)(nil)
