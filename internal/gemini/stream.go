// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jeranaias/minigem/internal/genai"
)

// MaxEventSize bounds a single SSE event.
const MaxEventSize = 1024 * 1024

// =============================================================================
// WIRE TYPES
// =============================================================================

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	Thought    bool        `json:"thought,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
	FileData   *fileData   `json:"fileData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type fileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type thinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type generationConfig struct {
	Temperature    float64        `json:"temperature"`
	ThinkingConfig thinkingConfig `json:"thinkingConfig"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

// text returns the visible text of the first candidate, skipping thought parts.
func (r *generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		if !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxEventSize)
	return &SSEReader{scanner: sc}
}

// ReadEvent returns the event type and the joined data lines of the next
// event, or io.EOF at the end of the stream.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")

		// Empty line ends an event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := bytes.TrimPrefix(line[5:], []byte(" "))
			dataLines = append(dataLines, bytes.Clone(data))
		}
		// id:, retry: and comments are ignored
	}
	if err := s.scanner.Err(); err != nil {
		return "", nil, err
	}
	if len(dataLines) > 0 {
		return eventType, bytes.Join(dataLines, []byte("\n")), nil
	}
	return "", nil, io.EOF
}

// =============================================================================
// STREAMING GENERATION
// =============================================================================

// GenerateStream implements genai.Client. Attachments are prepared (and
// uploaded if needed) before the returned channel produces any text.
func (c *Client) GenerateStream(ctx context.Context, req genai.Request) (<-chan genai.Chunk, error) {
	if err := req.Validate(); err != nil {
		return nil, &genai.GenerationError{Op: "validate", Err: err}
	}

	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	body, err := c.buildRequest(ctx, req)
	if err != nil {
		cancel()
		return nil, genai.Wrap("upload", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, url.PathEscape(req.Model))
	c.logger.Debug("starting generation", "model", req.Model, "history", len(req.History),
		"attachments", len(req.Attachments), "reasoning", req.Reasoning.String(), "temperature", req.Temperature)

	newReq := c.newJSONRequest(ctx, http.MethodPost, endpoint, req.APIKey, body)
	resp, err := c.do(ctx, func() (*http.Request, error) {
		r, err := newReq()
		if err == nil {
			r.Header.Set("Accept", "text/event-stream")
		}
		return r, err
	})
	if err != nil {
		cancel()
		return nil, genai.Wrap("request", err)
	}

	return genai.Stream(ctx, func(emit genai.Emit) error {
		defer cancel()
		defer resp.Body.Close()
		return c.processStream(resp.Body, emit)
	}), nil
}

// processStream reads SSE events and emits the text of each one.
func (c *Client) processStream(body io.Reader, emit genai.Emit) error {
	reader := NewSSEReader(body)
	for {
		_, data, err := reader.ReadEvent()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &genai.GenerationError{Op: "stream", Err: err}
		}
		if bytes.Equal(data, []byte("[DONE]")) {
			return nil
		}

		var chunk generateResponse
		if err := json.Unmarshal(data, &chunk); err != nil {
			c.logger.Debug("skipping malformed stream event", "error", err)
			continue
		}
		if chunk.Error != nil {
			return &genai.GenerationError{Op: "stream", Status: chunk.Error.Code, Err: chunk.Error}
		}
		if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
			return &genai.GenerationError{Op: "stream", Err: fmt.Errorf("%w: %s", ErrBlocked, chunk.PromptFeedback.BlockReason)}
		}
		if err := emit(chunk.text()); err != nil {
			return &genai.GenerationError{Op: "stream", Err: err}
		}
	}
}

// buildRequest assembles the history, the prompt and its attachments.
func (c *Client) buildRequest(ctx context.Context, req genai.Request) (*generateRequest, error) {
	contents := make([]content, 0, len(req.History)+1)
	for _, t := range req.History {
		contents = append(contents, content{Role: string(t.Role), Parts: []part{{Text: t.Text}}})
	}

	var parts []part
	if req.Prompt != "" {
		parts = append(parts, part{Text: req.Prompt})
	}
	for _, a := range req.Attachments {
		p, ok, err := c.attachmentPart(ctx, req.APIKey, a)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.logger.Warn("skipping unsupported attachment", "name", a.Name, "type", a.MIMEType)
			continue
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return nil, genai.ErrEmptyPrompt
	}
	contents = append(contents, content{Role: string(genai.RoleUser), Parts: parts})

	return &generateRequest{
		Contents: contents,
		GenerationConfig: generationConfig{
			Temperature:    req.Temperature,
			ThinkingConfig: thinkingConfig{ThinkingBudget: req.Reasoning.Value()},
		},
	}, nil
}

// attachmentPart turns an attachment into a request part. PDFs and images
// above the inline limit are uploaded; other types are not supported.
func (c *Client) attachmentPart(ctx context.Context, apiKey string, a genai.Attachment) (part, bool, error) {
	switch {
	case IsPDF(a.MIMEType):
		f, err := c.uploadAndWait(ctx, apiKey, a, c.pdfPollInterval, 0)
		if err != nil {
			return part{}, false, err
		}
		return part{FileData: &fileData{MIMEType: a.MIMEType, FileURI: f.URI}}, true, nil

	case IsSupportedImage(a.MIMEType):
		if int64(len(a.Data)) > c.inlineLimit {
			f, err := c.uploadAndWait(ctx, apiKey, a, c.imagePollInterval, c.imagePollAttempts)
			if err != nil {
				return part{}, false, err
			}
			return part{FileData: &fileData{MIMEType: a.MIMEType, FileURI: f.URI}}, true, nil
		}
		return part{InlineData: &inlineData{
			MIMEType: a.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(a.Data),
		}}, true, nil

	default:
		return part{}, false, nil
	}
}

// IsPDF reports whether the MIME type is a PDF.
func IsPDF(mimeType string) bool {
	return strings.EqualFold(mimeType, "application/pdf")
}

var supportedImages = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// IsSupportedImage reports whether the MIME type is an image the API accepts.
func IsSupportedImage(mimeType string) bool {
	return supportedImages[strings.ToLower(mimeType)]
}

// IsSupported reports whether an attachment of this type is sent at all.
func IsSupported(mimeType string) bool {
	return IsPDF(mimeType) || IsSupportedImage(mimeType)
}
