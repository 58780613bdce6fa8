// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/minigem/internal/genai"
)

// File processing states reported by the Files API.
const (
	FileStateProcessing = "PROCESSING"
	FileStateActive     = "ACTIVE"
	FileStateFailed     = "FAILED"
)

// File is an uploaded file as described by the Files API.
type File struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	State    string `json:"state"`
}

type fileEnvelope struct {
	File File `json:"file"`
}

// uploadURL derives the resumable upload endpoint from the REST base URL.
// https://host/v1beta becomes https://host/upload/v1beta/files.
func (c *Client) uploadURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = "/upload" + u.Path + "/files"
	u.RawQuery = ""
	return u.String(), nil
}

// Upload sends an attachment through the two-step resumable protocol and
// returns the file as first reported, usually still PROCESSING.
func (c *Client) Upload(ctx context.Context, apiKey string, a genai.Attachment) (*File, error) {
	startURL, err := c.uploadURL()
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"file": map[string]string{"display_name": a.Name}}
	newStart := c.newJSONRequest(ctx, http.MethodPost, startURL, apiKey, meta)
	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := newStart()
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Goog-Upload-Protocol", "resumable")
		req.Header.Set("X-Goog-Upload-Command", "start")
		req.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.Itoa(len(a.Data)))
		req.Header.Set("X-Goog-Upload-Header-Content-Type", a.MIMEType)
		return req, nil
	})
	if err != nil {
		return nil, genai.Wrap("upload", err)
	}
	sessionURL := resp.Header.Get("X-Goog-Upload-URL")
	resp.Body.Close()
	if sessionURL == "" {
		return nil, &genai.GenerationError{Op: "upload", Err: fmt.Errorf("no upload URL returned for %s", a.Name)}
	}

	resp, err = c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sessionURL, bytes.NewReader(a.Data))
		if err != nil {
			return nil, err
		}
		setHeaders(req, apiKey)
		req.ContentLength = int64(len(a.Data))
		req.Header.Set("X-Goog-Upload-Offset", "0")
		req.Header.Set("X-Goog-Upload-Command", "upload, finalize")
		return req, nil
	})
	if err != nil {
		return nil, genai.Wrap("upload", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, &genai.GenerationError{Op: "upload", Err: err}
	}
	var env fileEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &genai.GenerationError{Op: "upload", Err: fmt.Errorf("failed to parse upload response: %w", err)}
	}
	if env.File.URI == "" {
		return nil, &genai.GenerationError{Op: "upload", Err: fmt.Errorf("upload of %s returned no file URI", a.Name)}
	}
	c.logger.Debug("uploaded file", "name", env.File.Name, "display_name", a.Name, "state", env.File.State)
	return &env.File, nil
}

// GetFile fetches the current metadata of an uploaded file.
func (c *Client) GetFile(ctx context.Context, apiKey, name string) (*File, error) {
	resp, err := c.do(ctx, c.newJSONRequest(ctx, http.MethodGet, c.baseURL+"/"+name, apiKey, nil))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("failed to parse file metadata: %w", err)
	}
	return &f, nil
}

// uploadAndWait uploads a and polls until the file leaves PROCESSING. With
// maxAttempts > 0 the file is used as-is once the attempts run out; with 0
// polling continues until ctx is done.
func (c *Client) uploadAndWait(ctx context.Context, apiKey string, a genai.Attachment, interval time.Duration, maxAttempts int) (*File, error) {
	f, err := c.Upload(ctx, apiKey, a)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	// The first poll waits a full interval.
	limiter.Reserve()

	for attempt := 0; f.State == FileStateProcessing; attempt++ {
		if maxAttempts > 0 && attempt >= maxAttempts {
			c.logger.Warn("file still processing, using it anyway", "name", f.Name, "attempts", attempt)
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil, &genai.GenerationError{Op: "upload", Err: err}
		}
		next, err := c.GetFile(ctx, apiKey, f.Name)
		if err != nil {
			return nil, genai.Wrap("upload", err)
		}
		// Keep the URI from the upload response if polling omits it.
		if next.URI == "" {
			next.URI = f.URI
		}
		f = next
	}

	if f.State == FileStateFailed {
		return nil, &genai.GenerationError{Op: "upload", Err: fmt.Errorf("%w: %s", ErrFileFailed, a.Name)}
	}
	return f, nil
}
