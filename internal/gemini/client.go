// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gemini is a streaming client for the Gemini generateContent REST API.
//
// Prompts are sent to models/{model}:streamGenerateContent with alt=sse and
// the reply is read as Server-Sent Events. Small images travel inline as
// base64; PDFs and large images are uploaded through the Files API first and
// referenced by URI.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/minigem/internal/genai"
	"github.com/jeranaias/minigem/internal/logging"
)

// Configuration constants for the Gemini API.
const (
	// DefaultBaseURL is the REST endpoint including the API version.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultTimeout bounds a whole generation including uploads.
	DefaultTimeout = 5 * time.Minute

	// DefaultInlineLimit is the largest image sent inline.
	DefaultInlineLimit = 10 * 1024 * 1024

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize limits non-streaming response bodies.
	MaxResponseSize = 10 * 1024 * 1024
)

// Error sentinels mapped from HTTP status codes.
var (
	ErrAuthFailed    = errors.New("authentication failed: check your API key")
	ErrRateLimited   = errors.New("rate limit exceeded: please wait before retrying")
	ErrModelNotFound = errors.New("model not found")
	ErrBlocked       = errors.New("response blocked by safety filters")
	ErrFileFailed    = errors.New("file processing failed")
)

// APIError is the error body returned by the Gemini API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("Gemini API error %d (%s): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("Gemini API error %d: %s", e.Code, e.Message)
}

type apiErrorResponse struct {
	Error APIError `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the Gemini REST API. The API key travels with each request,
// so one client serves any number of keys.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	maxRetries  int
	inlineLimit int64
	logger      *slog.Logger

	pdfPollInterval   time.Duration
	imagePollInterval time.Duration
	imagePollAttempts int
}

var _ genai.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the API base URL (used by tests and proxies).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithTimeout bounds each generation. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxRetries sets how many times a request that failed before streaming
// started is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithInlineLimit sets the largest image, in bytes, sent inline.
func WithInlineLimit(n int64) Option {
	return func(c *Client) { c.inlineLimit = n }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithPollIntervals sets how often uploaded files are polled while processing.
func WithPollIntervals(pdf, image time.Duration) Option {
	return func(c *Client) {
		c.pdfPollInterval = pdf
		c.imagePollInterval = image
	}
}

// New creates a client with defaults.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			// No overall timeout: streams are bounded by the request context.
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 2 * time.Minute,
				ForceAttemptHTTP2:     true,
			},
		},
		timeout:           DefaultTimeout,
		inlineLimit:       DefaultInlineLimit,
		logger:            logging.Discard(),
		pdfPollInterval:   2 * time.Second,
		imagePollInterval: time.Second,
		imagePollAttempts: 10,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

// do sends the request built by newReq, retrying transient failures that occur
// before a response arrives or with a retryable status. newReq is called per
// attempt so the body can be replayed.
func (c *Client) do(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			c.logger.Debug("retrying request", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		c.logger.Debug("gemini response", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "duration", time.Since(start))

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		body, _ := readResponse(resp)
		resp.Body.Close()
		err = handleErrorResponse(resp.StatusCode, body)
		if !isRetryable(resp.StatusCode) {
			return nil, &genai.GenerationError{Op: "request", Status: resp.StatusCode, Err: err}
		}
		lastErr = &genai.GenerationError{Op: "request", Status: resp.StatusCode, Err: err}
	}

	var ge *genai.GenerationError
	if errors.As(lastErr, &ge) {
		return nil, lastErr
	}
	return nil, &genai.GenerationError{Op: "request", Err: lastErr}
}

func (c *Client) newJSONRequest(ctx context.Context, method, url, apiKey string, body any) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		var r io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			r = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, r)
		if err != nil {
			return nil, err
		}
		setHeaders(req, apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}
}

func setHeaders(req *http.Request, apiKey string) {
	// SECURITY: the key goes in a header, never the URL, so it stays out of logs.
	req.Header.Set("x-goog-api-key", apiKey)
	req.Header.Set("User-Agent", "minigem")
}

// readResponse reads a body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts an error body into a Go error.
func handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		e := apiErr.Error
		switch statusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrAuthFailed, e.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrModelNotFound, e.Message)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, e.Message)
		default:
			return &e
		}
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &APIError{Code: statusCode, Message: strings.TrimSpace(string(body))}
	}
}

// isRetryable reports whether a status is worth retrying.
func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// calculateBackoff returns the delay before the given attempt.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	// 1s, 2s, 4s ... capped
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
