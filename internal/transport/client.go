package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/carelinehq/careline/internal/config"
)

// Client is the HTTP implementation of Sender and MediaSource against the
// transport provider's REST API.
type Client struct {
	baseURL     string
	accessToken string
	senderID    string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a transport client from config.
func NewClient(log *slog.Logger, cfg config.TransportConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		accessToken: cfg.AccessToken,
		senderID:    cfg.SenderID,
		httpClient:  &http.Client{Timeout: cfg.Timeout()},
		logger:      log.With(slog.String("service", "transport")),
	}
}

type sendTextRequest struct {
	From string          `json:"from,omitempty"`
	To   string          `json:"to"`
	Type string          `json:"type"`
	Text sendTextPayload `json:"text,omitempty"`
}

type sendTextPayload struct {
	Body string `json:"body"`
}

type sendTemplateRequest struct {
	From     string            `json:"from,omitempty"`
	To       string            `json:"to"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Params   map[string]string `json:"params,omitempty"`
	Priority string            `json:"priority,omitempty"`
}

// SendText delivers a plain text message to the identity.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	body := sendTextRequest{From: c.senderID, To: to, Type: "text", Text: sendTextPayload{Body: text}}
	if err := c.post(ctx, "/messages", body); err != nil {
		c.logger.Error("send text failed", slog.String("to", to), slog.Any("error", err))
		return fmt.Errorf("send text: %w", err)
	}
	c.logger.Debug("text sent", slog.String("to", to), slog.Int("length", len(text)))
	return nil
}

// SendTemplate delivers a registered template message with named parameters.
func (c *Client) SendTemplate(ctx context.Context, to, name string, params map[string]string, priority string) error {
	body := sendTemplateRequest{From: c.senderID, To: to, Type: "template", Name: name, Params: params, Priority: priority}
	if err := c.post(ctx, "/messages", body); err != nil {
		c.logger.Error("send template failed",
			slog.String("to", to),
			slog.String("template", name),
			slog.Any("error", err))
		return fmt.Errorf("send template: %w", err)
	}
	return nil
}

type mediaURLResponse struct {
	URL string `json:"url"`
}

// ResolveMediaURL exchanges a media id for a short-lived download URL.
func (c *Client) ResolveMediaURL(ctx context.Context, mediaID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/media/"+mediaID, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve media url: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolve media url status: %d", resp.StatusCode)
	}
	var decoded mediaURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode media url: %w", err)
	}
	if strings.TrimSpace(decoded.URL) == "" {
		return "", fmt.Errorf("empty media url for id %s", mediaID)
	}
	return decoded.URL, nil
}

// DownloadMedia fetches the content behind a resolved media URL. The caller
// owns the returned reader and is responsible for bounding the read.
func (c *Client) DownloadMedia(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download media status: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
}

var (
	_ Sender      = (*Client)(nil)
	_ MediaSource = (*Client)(nil)
)
