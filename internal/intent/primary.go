package intent

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

// Client calls the language-understanding collaborator over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates the primary-tier classifier client from config.
func NewClient(log *slog.Logger, cfg config.ClassifyConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		logger:     log.With(slog.String("service", "classify")),
	}
}

type classifyRequest struct {
	Text    string  `json:"text"`
	Context Context `json:"context"`
}

type classifyResponse struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Params     map[string]string `json:"params,omitempty"`
}

// Classify sends text plus bounded conversation context to the provider.
// Provider intent names outside the closed set map to IntentUnknown.
func (c *Client) Classify(ctx context.Context, text string, convCtx Context) (Result, error) {
	encoded, err := json.Marshal(classifyRequest{Text: text, Context: convCtx})
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(encoded))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("classify call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("classify status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	var decoded classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Confidence < 0 || decoded.Confidence > 1 {
		return Result{}, fmt.Errorf("confidence out of range: %f", decoded.Confidence)
	}
	return Result{
		Intent:     Parse(decoded.Intent),
		Confidence: decoded.Confidence,
		Params:     decoded.Params,
		Tier:       TierPrimary,
	}, nil
}

var _ PrimaryClassifier = (*Client)(nil)
