// Package gateway terminates the messaging channel's webhook: subscription
// verification, signature checking, dedup, and fan-out into the pipeline.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carelinehq/careline/internal/config"
	"github.com/carelinehq/careline/internal/pipeline"
)

// maxBodyBytes caps webhook POST bodies. The channel batches a handful of
// messages per delivery; 1 MiB is generous.
const maxBodyBytes = 1 << 20

const signatureHeader = "X-Hub-Signature-256"

// Processor consumes normalized messages. The pipeline engine implements it.
// A non-nil error means the turn aborted before replying; the message id must
// be released for redelivery.
type Processor interface {
	Handle(ctx context.Context, msg pipeline.Message) error
}

// Handler is the webhook endpoint pair.
type Handler struct {
	verifyToken string
	appSecret   []byte
	dedup       Dedup
	processor   Processor
	logger      *slog.Logger
	// spawn lets tests run turns synchronously.
	spawn func(func())
}

// NewHandler creates the webhook handler.
func NewHandler(log *slog.Logger, cfg config.WebhookConfig, dedup Dedup, processor Processor) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		verifyToken: cfg.VerifyToken,
		appSecret:   []byte(cfg.AppSecret),
		dedup:       dedup,
		processor:   processor,
		logger:      log.With(slog.String("handler", "webhook")),
		spawn:       func(fn func()) { go fn() },
	}
}

// Register mounts the webhook routes.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/webhook", h.Verify)
	e.POST("/webhook", h.Receive)
}

// Verify answers the channel's subscription challenge: echo the challenge
// back only when mode and token match.
func (h *Handler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")
	if mode != "subscribe" || token == "" || !hmac.Equal([]byte(token), []byte(h.verifyToken)) {
		h.logger.Warn("webhook verification rejected", slog.String("mode", mode))
		return c.NoContent(http.StatusForbidden)
	}
	return c.String(http.StatusOK, challenge)
}

// Receive accepts a signed webhook delivery. The signature is checked against
// the raw body before any parsing; unsigned or tampered requests never reach
// the store. Accepted deliveries are answered 200 immediately and processed
// on their own goroutines.
func (h *Handler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	if len(body) > maxBodyBytes {
		return c.NoContent(http.StatusRequestEntityTooLarge)
	}
	if !h.signatureValid(c.Request().Header.Get(signatureHeader), body) {
		h.logger.Warn("webhook signature rejected",
			slog.String("remote", c.RealIP()))
		return c.NoContent(http.StatusUnauthorized)
	}

	var delivery webhookDelivery
	if err := json.Unmarshal(body, &delivery); err != nil {
		h.logger.Warn("webhook payload undecodable", slog.Any("error", err))
		// Signed but malformed: acknowledge so the channel stops retrying.
		return c.NoContent(http.StatusOK)
	}

	for _, raw := range delivery.Messages {
		msg, ok := normalize(raw)
		if !ok {
			continue
		}
		fresh, err := h.dedup.Begin(c.Request().Context(), msg.ID, msg.From)
		if err != nil {
			// Dedup store trouble must not drop messages; the handler-level
			// idempotency keys absorb the occasional duplicate.
			h.logger.Warn("dedup check failed, processing anyway",
				slog.String("message_id", msg.ID),
				slog.Any("error", err))
		} else if !fresh {
			h.logger.Debug("duplicate delivery skipped", slog.String("message_id", msg.ID))
			continue
		}
		message := msg
		h.spawn(func() {
			if err := h.processor.Handle(context.Background(), message); err != nil {
				// The turn aborted without a reply. Un-mark the id so the
				// transport's redelivery gets processed, not short-circuited.
				h.logger.Warn("turn aborted, releasing message for redelivery",
					slog.String("message_id", message.ID),
					slog.Any("error", err))
				if rerr := h.dedup.Release(context.Background(), message.ID); rerr != nil {
					h.logger.Error("dedup release failed",
						slog.String("message_id", message.ID),
						slog.Any("error", rerr))
				}
			}
		})
	}
	return c.NoContent(http.StatusOK)
}

// signatureValid checks the sha256= HMAC header against the raw body in
// constant time.
func (h *Handler) signatureValid(header string, body []byte) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.appSecret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

type webhookDelivery struct {
	Messages []webhookMessage `json:"messages"`
}

type webhookMessage struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Text      *textPayload   `json:"text,omitempty"`
	Audio     *mediaPayload  `json:"audio,omitempty"`
	Image     *mediaPayload  `json:"image,omitempty"`
	Document  *mediaPayload  `json:"document,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

type textPayload struct {
	Body string `json:"body"`
}

type mediaPayload struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
	Language string `json:"language,omitempty"`
}

// normalize maps a raw webhook message onto the pipeline's message shape.
// Messages with no id or sender are unroutable and dropped.
func normalize(raw webhookMessage) (pipeline.Message, bool) {
	if raw.ID == "" || raw.From == "" {
		return pipeline.Message{}, false
	}
	msg := pipeline.Message{
		ID:        raw.ID,
		From:      raw.From,
		Type:      raw.Type,
		Timestamp: time.Unix(raw.Timestamp, 0).UTC(),
	}
	switch raw.Type {
	case "text":
		if raw.Text == nil || strings.TrimSpace(raw.Text.Body) == "" {
			return pipeline.Message{}, false
		}
		msg.Text = raw.Text.Body
	case "audio":
		if raw.Audio == nil || raw.Audio.ID == "" {
			return pipeline.Message{}, false
		}
		msg.MediaID = raw.Audio.ID
		msg.Mime = raw.Audio.MimeType
		msg.Language = raw.Audio.Language
	case "image":
		if raw.Image == nil {
			return pipeline.Message{}, false
		}
		msg.MediaID = raw.Image.ID
		msg.Mime = raw.Image.MimeType
		msg.Text = raw.Image.Caption
	case "document":
		if raw.Document == nil {
			return pipeline.Message{}, false
		}
		msg.MediaID = raw.Document.ID
		msg.Mime = raw.Document.MimeType
		msg.Text = raw.Document.Caption
	default:
		return pipeline.Message{}, false
	}
	return msg, true
}
