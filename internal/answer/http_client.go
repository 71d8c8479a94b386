package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultPath is the chat endpoint of the answering service.
	DefaultPath = "/pdfs/chat/"

	maxResponseBody = 1 << 20
)

// HTTPConfig holds configuration for the HTTP answering client.
type HTTPConfig struct {
	BaseURL string
	Path    string
	// Timeout bounds a single call. Zero disables the client-side timeout.
	Timeout time.Duration
}

// HTTPClient calls the answering service over JSON/HTTP.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

var _ Answerer = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the answering service at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("answering service base URL is required")
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}

	return &HTTPClient{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.Path, "/"),
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		},
		logger: logger,
	}, nil
}

// Endpoint returns the full URL questions are posted to.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

// chatPayload is the union of the success and error response bodies.
// Error is kept raw since services do not agree on its type.
type chatPayload struct {
	Answer string          `json:"answer"`
	Error  json.RawMessage `json:"error"`
}

// errorText renders a raw "error" value as a message. JSON strings are
// unquoted, null is empty, and anything else is returned as written.
func errorText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

// Ask posts q and returns the answer.
func (c *HTTPClient) Ask(ctx context.Context, q Question) (string, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("marshal question: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("Answering service request failed", "error", err, "figure_id", q.CharacterID)
		return "", unreachable(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close answering service response", "error", closeErr)
		}
	}()

	var payload chatPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&payload); err != nil {
		c.logger.Warn("Answering service returned undecodable body",
			"error", err,
			"status", resp.StatusCode,
		)
		return "", unreachable(fmt.Errorf("decode response: %w", err))
	}

	c.logger.Debug("Answering service responded",
		"status", resp.StatusCode,
		"figure_id", q.CharacterID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ServiceError{StatusCode: resp.StatusCode, Message: errorText(payload.Error)}
	}
	return payload.Answer, nil
}
