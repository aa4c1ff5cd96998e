package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/carelinehq/careline/internal/config"
	"github.com/carelinehq/careline/internal/dispatch"
)

// Client talks to the domain-services backend over its REST API. It
// implements every collaborator interface the handlers depend on.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a domain-services client from config.
func NewClient(log *slog.Logger, cfg config.CareConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		logger:     log.With(slog.String("service", "care")),
	}
}

// Schedule books an assessment appointment. The backend dedupes on the
// Idempotency-Key header, so webhook redeliveries cannot double-book.
func (c *Client) Schedule(ctx context.Context, req ScheduleRequest) (Appointment, error) {
	var appointment Appointment
	if err := c.postJSON(ctx, "/appointments", req.RequestKey, req, &appointment); err != nil {
		return Appointment{}, fmt.Errorf("schedule appointment: %w", err)
	}
	return appointment, nil
}

// Upcoming lists appointments starting within the window, for reminders.
func (c *Client) Upcoming(ctx context.Context, within time.Duration) ([]Appointment, error) {
	query := url.Values{"within_hours": {strconv.Itoa(int(within.Hours()))}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/appointments/upcoming?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.authorize(httpReq, "")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("list upcoming: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list upcoming status: %d", resp.StatusCode)
	}
	var appointments []Appointment
	if err := json.NewDecoder(resp.Body).Decode(&appointments); err != nil {
		return nil, fmt.Errorf("decode upcoming: %w", err)
	}
	return appointments, nil
}

// Generate produces a report document and returns its link.
func (c *Client) Generate(ctx context.Context, req ReportRequest) (Report, error) {
	var report Report
	if err := c.postJSON(ctx, "/reports", req.RequestKey, req, &report); err != nil {
		return Report{}, fmt.Errorf("generate report: %w", err)
	}
	return report, nil
}

// Submit files an authority request and returns the case reference.
func (c *Client) Submit(ctx context.Context, req AuthorityRequest) (AuthorityReceipt, error) {
	var receipt AuthorityReceipt
	if err := c.postJSON(ctx, "/authority-requests", req.RequestKey, req, &receipt); err != nil {
		return AuthorityReceipt{}, fmt.Errorf("submit authority request: %w", err)
	}
	return receipt, nil
}

// Update changes one profile field.
func (c *Client) Update(ctx context.Context, update ProfileUpdate) error {
	if err := c.postJSON(ctx, "/profiles/"+url.PathEscape(update.Identity)+"/update", update.RequestKey, update, nil); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

// Summary renders the family's account overview as plain text.
func (c *Client) Summary(ctx context.Context, identity string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/profiles/"+url.PathEscape(identity)+"/summary", nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	c.authorize(httpReq, "")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("profile summary: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("profile summary status: %d", resp.StatusCode)
	}
	var decoded summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode summary: %w", err)
	}
	return decoded.Summary, nil
}

// Escalate pages the on-call coordinator about an urgent message.
func (c *Client) Escalate(ctx context.Context, alert CrisisAlert) error {
	if err := c.postJSON(ctx, "/alerts", alert.RequestKey, alert, nil); err != nil {
		return fmt.Errorf("escalate alert: %w", err)
	}
	return nil
}

// postJSON posts payload and optionally decodes the response into out.
// Client-fault statuses become ValidationErrors so the dispatcher can phrase
// a corrective reply from the backend's detail message.
func (c *Client) postJSON(ctx context.Context, path, requestKey string, payload, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req, requestKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusNotFound ||
		resp.StatusCode == http.StatusUnprocessableEntity {
		return &dispatch.ValidationError{Message: errorDetail(resp.Body)}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("status %d: %s", resp.StatusCode, errorDetail(resp.Body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type errorResponse struct {
	Message string `json:"message"`
}

func errorDetail(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 512))
	var decoded errorResponse
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Message != "" {
		return decoded.Message
	}
	return strings.TrimSpace(string(raw))
}

func (c *Client) authorize(req *http.Request, requestKey string) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if requestKey != "" {
		req.Header.Set("Idempotency-Key", requestKey)
	}
}

var (
	_ Scheduler = (*Client)(nil)
	_ Reports   = (*Client)(nil)
	_ Authority = (*Client)(nil)
	_ Profiles  = (*Client)(nil)
	_ Alerts    = (*Client)(nil)
)
