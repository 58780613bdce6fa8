// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/minigem/internal/genai"
	"github.com/jeranaias/minigem/internal/model"
)

// =============================================================================
// HELPERS
// =============================================================================

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{
		WithBaseURL(srv.URL + "/v1beta"),
		WithPollIntervals(time.Millisecond, time.Millisecond),
	}, opts...)
	return New(opts...)
}

func baseRequest() genai.Request {
	return genai.Request{
		APIKey:      "test-key",
		Prompt:      "hi",
		Model:       "gemini-2.5-flash",
		Reasoning:   model.ReasoningEffort{Tokens: 1024},
		Temperature: 0.5,
	}
}

func writeSSE(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, e := range events {
		fmt.Fprintf(w, "data: %s\n\n", e)
	}
}

func textEvent(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]}}]}`, text)
}

// captured holds the last request body seen by a test server.
type captured struct {
	mu  sync.Mutex
	req generateRequest
}

func (c *captured) set(r generateRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.req = r
}

func (c *captured) get() generateRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req
}

func decodeRequest(t *testing.T, r *http.Request) generateRequest {
	t.Helper()
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("decode request: %v", err)
	}
	return body
}

// =============================================================================
// STREAMING
// =============================================================================

func TestGenerateStream_StreamsText(t *testing.T) {
	var seen captured
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.5-flash:streamGenerateContent" || r.URL.Query().Get("alt") != "sse" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		seen.set(decodeRequest(t, r))
		writeSSE(w,
			`{"candidates":[{"content":{"parts":[{"text":"pondering","thought":true}]}}]}`,
			textEvent("Hello"),
			textEvent(" world"),
		)
	}))

	req := baseRequest()
	req.History = []genai.Turn{
		{Role: genai.RoleUser, Text: "earlier"},
		{Role: genai.RoleModel, Text: "reply"},
	}
	ch, err := client.GenerateStream(context.Background(), req)
	require.NoError(t, err)

	text, err := genai.Collect(ch)
	require.NoError(t, err)
	require.Equal(t, "Hello world", text)

	got := seen.get()
	require.Len(t, got.Contents, 3)
	require.Equal(t, "user", got.Contents[0].Role)
	require.Equal(t, "model", got.Contents[1].Role)
	require.Equal(t, "hi", got.Contents[2].Parts[0].Text)
	require.Equal(t, 1024, got.GenerationConfig.ThinkingConfig.ThinkingBudget)
	require.InDelta(t, 0.5, got.GenerationConfig.Temperature, 1e-9)
}

func TestGenerateStream_AutoReasoningSendsMinusOne(t *testing.T) {
	var budget atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeRequest(t, r)
		budget.Store(int64(body.GenerationConfig.ThinkingConfig.ThinkingBudget))
		writeSSE(w, textEvent("ok"))
	}))

	req := baseRequest()
	req.Reasoning = model.ReasoningEffort{Auto: true}
	ch, err := client.GenerateStream(context.Background(), req)
	require.NoError(t, err)
	_, err = genai.Collect(ch)
	require.NoError(t, err)
	require.Equal(t, int64(-1), budget.Load())
}

func TestGenerateStream_InvalidRequest(t *testing.T) {
	client := New()
	req := baseRequest()
	req.APIKey = ""

	_, err := client.GenerateStream(context.Background(), req)
	var ge *genai.GenerationError
	require.ErrorAs(t, err, &ge)
	require.Equal(t, "validate", ge.Op)
	require.ErrorIs(t, err, genai.ErrMissingAPIKey)
}

func TestGenerateStream_AuthFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	}))

	_, err := client.GenerateStream(context.Background(), baseRequest())
	require.ErrorIs(t, err, ErrAuthFailed)
	var ge *genai.GenerationError
	require.ErrorAs(t, err, &ge)
	require.Equal(t, http.StatusForbidden, ge.Status)
	require.Contains(t, err.Error(), "API key not valid")
}

func TestGenerateStream_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeSSE(w, textEvent("recovered"))
	}), WithMaxRetries(1))

	ch, err := client.GenerateStream(context.Background(), baseRequest())
	require.NoError(t, err)
	text, err := genai.Collect(ch)
	require.NoError(t, err)
	require.Equal(t, "recovered", text)
	require.Equal(t, int32(2), calls.Load())
}

func TestGenerateStream_NoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.GenerateStream(context.Background(), baseRequest())
	var ge *genai.GenerationError
	require.ErrorAs(t, err, &ge)
	require.Equal(t, http.StatusInternalServerError, ge.Status)
	require.Equal(t, int32(1), calls.Load())
}

func TestGenerateStream_BlockedPrompt(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, textEvent("partial"), `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))

	ch, err := client.GenerateStream(context.Background(), baseRequest())
	require.NoError(t, err)
	text, err := genai.Collect(ch)
	require.Equal(t, "partial", text)
	require.ErrorIs(t, err, ErrBlocked)
	require.Contains(t, err.Error(), "SAFETY")
}

func TestGenerateStream_ErrorEventEndsStream(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`)
	}))

	ch, err := client.GenerateStream(context.Background(), baseRequest())
	require.NoError(t, err)
	_, err = genai.Collect(ch)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "INTERNAL", apiErr.Status)
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

func TestGenerateStream_SmallImageInline(t *testing.T) {
	var seen captured
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.set(decodeRequest(t, r))
		writeSSE(w, textEvent("a cat"))
	}))

	req := baseRequest()
	req.Prompt = ""
	req.Attachments = []genai.Attachment{
		{Name: "cat.png", MIMEType: "image/png", Data: []byte("png-bytes")},
		{Name: "notes.txt", MIMEType: "text/plain", Data: []byte("skipped")},
	}
	ch, err := client.GenerateStream(context.Background(), req)
	require.NoError(t, err)
	_, err = genai.Collect(ch)
	require.NoError(t, err)

	got := seen.get()
	parts := got.Contents[len(got.Contents)-1].Parts
	require.Len(t, parts, 1, "empty text and unsupported types are omitted")
	require.NotNil(t, parts[0].InlineData)
	require.Equal(t, "image/png", parts[0].InlineData.MIMEType)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), parts[0].InlineData.Data)
}

// filesServer fakes the upload, polling and generation endpoints.
type filesServer struct {
	t         *testing.T
	polls     atomic.Int32
	uploaded  atomic.Value // []byte
	finalize  string       // state reported once processing ends
	processed int32        // polls before processing ends
	request   captured
}

func (f *filesServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/upload/v1beta/files":
		if r.Header.Get("X-Goog-Upload-Command") != "start" || r.Header.Get("X-Goog-Upload-Protocol") != "resumable" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("X-Goog-Upload-URL", "http://"+r.Host+"/upload/session/1")
		w.WriteHeader(http.StatusOK)

	case r.URL.Path == "/upload/session/1":
		if r.Header.Get("X-Goog-Upload-Command") != "upload, finalize" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(r.Body)
		f.uploaded.Store(data)
		w.Write([]byte(`{"file":{"name":"files/abc","uri":"https://files.example/abc","mimeType":"application/pdf","state":"PROCESSING"}}`))

	case r.URL.Path == "/v1beta/files/abc":
		state := FileStateProcessing
		if f.polls.Add(1) >= f.processed {
			state = f.finalize
		}
		fmt.Fprintf(w, `{"name":"files/abc","uri":"https://files.example/abc","mimeType":"application/pdf","state":%q}`, state)

	case strings.HasSuffix(r.URL.Path, ":streamGenerateContent"):
		f.request.set(decodeRequest(f.t, r))
		writeSSE(w, textEvent("summary"))

	default:
		http.NotFound(w, r)
	}
}

func TestGenerateStream_UploadsPDF(t *testing.T) {
	fs := &filesServer{t: t, finalize: FileStateActive, processed: 2}
	client := newTestClient(t, fs)

	req := baseRequest()
	req.Attachments = []genai.Attachment{{Name: "doc.pdf", MIMEType: "application/pdf", Data: []byte("%PDF-1.7")}}
	ch, err := client.GenerateStream(context.Background(), req)
	require.NoError(t, err)
	text, err := genai.Collect(ch)
	require.NoError(t, err)
	require.Equal(t, "summary", text)

	require.Equal(t, []byte("%PDF-1.7"), fs.uploaded.Load())
	require.Equal(t, int32(2), fs.polls.Load())
	parts := fs.request.get().Contents[0].Parts
	require.Len(t, parts, 2)
	require.Equal(t, "hi", parts[0].Text)
	require.NotNil(t, parts[1].FileData)
	require.Equal(t, "https://files.example/abc", parts[1].FileData.FileURI)
}

func TestGenerateStream_LargeImageUploadsAndGivesUp(t *testing.T) {
	fs := &filesServer{t: t, finalize: FileStateProcessing, processed: 1}
	client := newTestClient(t, fs, WithInlineLimit(4))

	req := baseRequest()
	req.Attachments = []genai.Attachment{{Name: "big.jpg", MIMEType: "image/jpeg", Data: []byte("larger than four")}}
	ch, err := client.GenerateStream(context.Background(), req)
	require.NoError(t, err)
	_, err = genai.Collect(ch)
	require.NoError(t, err)

	require.Equal(t, int32(10), fs.polls.Load(), "image polling is bounded")
	require.NotNil(t, fs.request.get().Contents[0].Parts[1].FileData)
}

func TestGenerateStream_FailedFile(t *testing.T) {
	fs := &filesServer{t: t, finalize: FileStateFailed, processed: 1}
	client := newTestClient(t, fs)

	req := baseRequest()
	req.Attachments = []genai.Attachment{{Name: "doc.pdf", MIMEType: "application/pdf", Data: []byte("x")}}
	_, err := client.GenerateStream(context.Background(), req)
	require.ErrorIs(t, err, ErrFileFailed)
	var ge *genai.GenerationError
	require.ErrorAs(t, err, &ge)
	require.Equal(t, "upload", ge.Op)
}

func TestUploadURL(t *testing.T) {
	c := New(WithBaseURL("https://generativelanguage.googleapis.com/v1beta/"))
	u, err := c.uploadURL()
	require.NoError(t, err)
	require.Equal(t, "https://generativelanguage.googleapis.com/upload/v1beta/files", u)
}

func TestSupportedTypes(t *testing.T) {
	require.True(t, IsPDF("application/PDF"))
	require.True(t, IsSupportedImage("image/heic"))
	require.False(t, IsSupportedImage("image/gif"))
	require.False(t, IsSupported("text/plain"))
}

// =============================================================================
// SSE READER
// =============================================================================

func TestSSEReader(t *testing.T) {
	input := ": comment\r\nevent: message\r\ndata: line1\r\ndata: line2\r\n\r\n\ndata: last"
	r := NewSSEReader(strings.NewReader(input))

	ev, data, err := r.ReadEvent()
	require.NoError(t, err)
	require.Equal(t, "message", ev)
	require.Equal(t, "line1\nline2", string(data))

	_, data, err = r.ReadEvent()
	require.NoError(t, err)
	require.Equal(t, "last", string(data))

	_, _, err = r.ReadEvent()
	require.True(t, errors.Is(err, io.EOF))
}
