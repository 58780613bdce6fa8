// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openaicompat generates replies through an OpenAI-compatible chat
// completions endpoint. Gemini exposes one, so the same API key works with
// either backend.
package openaicompat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jeranaias/minigem/internal/genai"
	"github.com/jeranaias/minigem/internal/logging"
)

// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// Client implements genai.Client on top of openai-go.
type Client struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	logger     *slog.Logger
}

var _ genai.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the endpoint, including the trailing version path.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithTimeout bounds each generation. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxRetries sets the SDK retry count.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		timeout: 5 * time.Minute,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateStream implements genai.Client.
func (c *Client) GenerateStream(ctx context.Context, req genai.Request) (<-chan genai.Chunk, error) {
	if err := req.Validate(); err != nil {
		return nil, &genai.GenerationError{Op: "validate", Err: err}
	}

	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	client := openai.NewClient(c.requestOptions(req)...)
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    buildMessages(req, c.logger),
		Temperature: openai.Float(req.Temperature),
	}

	c.logger.Debug("starting generation", "backend", "openai", "model", req.Model,
		"history", len(req.History), "reasoning", req.Reasoning.String())

	stream := client.Chat.Completions.NewStreaming(ctx, params)
	return genai.Stream(ctx, func(emit genai.Emit) error {
		defer cancel()
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if err := emit(chunk.Choices[0].Delta.Content); err != nil {
				return &genai.GenerationError{Op: "stream", Err: err}
			}
		}
		return wrapError(stream.Err())
	}), nil
}

func (c *Client) requestOptions(req genai.Request) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(req.APIKey),
		option.WithBaseURL(c.baseURL),
		option.WithMaxRetries(c.maxRetries),
		option.WithHeader("User-Agent", "minigem"),
		// Gemini reads the reasoning budget from its vendor extension.
		option.WithJSONSet("extra_body", map[string]any{
			"google": map[string]any{
				"thinking_config": map[string]any{"thinking_budget": req.Reasoning.Value()},
			},
		}),
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	return opts
}

// buildMessages maps history and the prompt onto chat messages. Images and
// PDFs travel as data URIs; other attachment types are dropped.
func buildMessages(req genai.Request, logger *slog.Logger) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	for _, t := range req.History {
		if t.Role == genai.RoleModel {
			msgs = append(msgs, openai.AssistantMessage(t.Text))
		} else {
			msgs = append(msgs, openai.UserMessage(t.Text))
		}
	}

	if len(req.Attachments) == 0 {
		return append(msgs, openai.UserMessage(req.Prompt))
	}

	var parts []openai.ChatCompletionContentPartUnionParam
	if req.Prompt != "" {
		parts = append(parts, openai.TextContentPart(req.Prompt))
	}
	for _, a := range req.Attachments {
		uri := dataURI(a)
		switch {
		case isImage(a.MIMEType):
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: uri}))
		case a.MIMEType == "application/pdf":
			parts = append(parts, openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
				FileData: openai.String(uri),
				Filename: openai.String(a.Name),
			}))
		default:
			logger.Warn("skipping unsupported attachment", "name", a.Name, "type", a.MIMEType)
		}
	}
	return append(msgs, openai.UserMessage(parts))
}

func dataURI(a genai.Attachment) string {
	return fmt.Sprintf("data:%s;base64,%s", a.MIMEType, base64.StdEncoding.EncodeToString(a.Data))
}

func isImage(mimeType string) bool {
	switch mimeType {
	case "image/png", "image/jpeg", "image/jpg", "image/webp", "image/heic", "image/heif":
		return true
	}
	return false
}

// wrapError keeps the HTTP status of SDK errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &genai.GenerationError{Op: "request", Status: apiErr.StatusCode, Err: err}
	}
	return &genai.GenerationError{Op: "stream", Err: err}
}
