// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// CLOUD: Secure logging and error classification

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultUserAgent is sent when Options.UserAgent is empty.
	DefaultUserAgent = "innerguide"

	// MaxErrorBodySize bounds how much of an error response is read.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxErrorBodySize = 64 * 1024
)

// sharedStreamingClient is used for streaming requests (no timeout, context-controlled).
// PERFORMANCE: Connection pooling for streaming requests.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the endpoint URL is not set.
	ErrNotConfigured = errors.New("inference endpoint not configured")

	// ErrRateLimited indicates the endpoint answered 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrQuotaExhausted indicates the endpoint answered 402.
	ErrQuotaExhausted = errors.New("quota exhausted")

	// ErrNoBody indicates a success status without a readable body.
	ErrNoBody = errors.New("response has no body")
)

// StatusError is a non-success HTTP response from the inference endpoint.
// Message is the provider's error text, empty when the body carried none.
type StatusError struct {
	Status  int
	Message string

	kind error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("inference error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("inference error (HTTP %d)", e.Status)
}

// Unwrap exposes ErrRateLimited or ErrQuotaExhausted for errors.Is.
func (e *StatusError) Unwrap() error {
	return e.kind
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatMessage is one entry of the request envelope.
type ChatMessage struct {
	Role    string `json:"role"`    // "user" or "assistant"
	Content string `json:"content"` // The message content
}

// ChatRequest is the body posted to the chat endpoint.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	Model    string        `json:"model,omitempty"`
	Stream   bool          `json:"stream"`
}

// apiErrorResponse accepts both {"error": "text"} and
// {"error": {"message": "text"}} bodies.
type apiErrorResponse struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Options configures a Client.
type Options struct {
	// URL is the full URL of the chat function.
	URL string
	// Token is the caller's bearer credential.
	Token string
	// Model is sent with each request when set.
	Model string
	// RequestsPerMinute throttles outgoing requests; zero disables throttling.
	RequestsPerMinute int
	// HTTPClient overrides the shared streaming client.
	HTTPClient *http.Client
	UserAgent  string
	Logger     zerolog.Logger
}

// Client posts request envelopes to the inference endpoint and hands back
// the raw event-stream body.
type Client struct {
	url        string
	token      string
	model      string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewClient creates a client from opts.
func NewClient(opts Options) *Client {
	c := &Client{
		url:        strings.TrimSpace(opts.URL),
		token:      strings.TrimSpace(opts.Token),
		model:      opts.Model,
		userAgent:  opts.UserAgent,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.With().Str("component", "cloud").Logger(),
	}
	if c.httpClient == nil {
		c.httpClient = sharedStreamingClient
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60), 1)
	}
	return c
}

// IsConfigured reports whether an endpoint URL is set.
func (c *Client) IsConfigured() bool {
	return c.url != ""
}

// KeyFingerprint returns a short SHA-256 fingerprint of the credential for
// logging. SECURITY: never log the token itself.
func (c *Client) KeyFingerprint() string {
	return Fingerprint(c.token)
}

// Fingerprint returns the first 8 hex characters of the SHA-256 of secret,
// or "none" when secret is empty.
func Fingerprint(secret string) string {
	if secret == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:4])
}

// Stream posts messages and returns the event-stream body on success. token
// is the caller's session credential; when empty the configured token is
// used. The caller must close the body. Non-2xx responses are returned as
// *StatusError.
func (c *Client) Stream(ctx context.Context, token string, messages []ChatMessage) (io.ReadCloser, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for request slot: %w", err)
		}
	}

	payload, err := json.Marshal(ChatRequest{
		Messages: messages,
		Model:    c.model,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token == "" {
		token = c.token
	}
	c.setHeaders(req, token)

	c.logRequest(req, len(messages), token)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logResponse(resp, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, c.handleErrorResponse(resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrNoBody
	}
	return resp.Body, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", c.userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
}

// handleErrorResponse converts a non-success response to a *StatusError.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))

	se := &StatusError{
		Status:  resp.StatusCode,
		Message: parseErrorMessage(body),
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		se.kind = ErrRateLimited
	case http.StatusPaymentRequired:
		se.kind = ErrQuotaExhausted
	}

	c.logger.Warn().
		Int("status", se.Status).
		Str("error", se.Message).
		Msg("inference request rejected")
	return se
}

// parseErrorMessage extracts the provider's error text from a JSON body.
func parseErrorMessage(body []byte) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return ""
	}

	var text string
	if err := json.Unmarshal(apiErr.Error, &text); err == nil && text != "" {
		return text
	}

	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(apiErr.Error, &nested); err == nil && nested.Message != "" {
		return nested.Message
	}
	return apiErr.Message
}

// logRequest logs an API request without exposing sensitive data.
func (c *Client) logRequest(req *http.Request, n int, token string) {
	c.logger.Debug().
		Str("method", req.Method).
		Str("host", hostOf(req.URL)).
		Str("path", req.URL.Path).
		Int("messages", n).
		Str("key", Fingerprint(token)).
		Msg("inference request")
}

func (c *Client) logResponse(resp *http.Response, duration time.Duration) {
	c.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("inference response")
}

func hostOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Host
}
