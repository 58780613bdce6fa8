// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package genai defines the boundary between the conversation store and the
// remote text-generation service.
//
// Requests and stream chunks are explicit types validated once here, so the
// store and the HTTP clients never exchange loosely shaped payloads.
package genai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jeranaias/minigem/internal/model"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Role tags a history turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one prior message in the request history.
type Turn struct {
	Role Role
	Text string
}

// Attachment is a resolved blob sent with the prompt.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Request is everything needed for one streamed generation.
type Request struct {
	APIKey      string
	Prompt      string
	History     []Turn
	Attachments []Attachment
	Model       string
	Reasoning   model.ReasoningEffort
	Temperature float64
}

// Validation errors.
var (
	ErrMissingAPIKey = errors.New("API key is not set")
	ErrEmptyPrompt   = errors.New("prompt and attachments are both empty")
	ErrMissingModel  = errors.New("model is not set")
)

// Validate checks the request once at the boundary.
func (r Request) Validate() error {
	if strings.TrimSpace(r.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if r.Model == "" {
		return ErrMissingModel
	}
	if strings.TrimSpace(r.Prompt) == "" && len(r.Attachments) == 0 {
		return ErrEmptyPrompt
	}
	if math.IsNaN(r.Temperature) || r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", r.Temperature)
	}
	if !r.Reasoning.Auto && r.Reasoning.Tokens < 0 {
		return fmt.Errorf("negative reasoning budget %d", r.Reasoning.Tokens)
	}
	for i, t := range r.History {
		if t.Role != RoleUser && t.Role != RoleModel {
			return fmt.Errorf("history turn %d: unknown role %q", i, t.Role)
		}
	}
	for _, a := range r.Attachments {
		if a.MIMEType == "" {
			return fmt.Errorf("attachment %s: missing MIME type", a.Name)
		}
	}
	return nil
}

// TurnRole maps a message role onto the history role the API expects.
func TurnRole(r model.Role) Role {
	if r == model.RoleAssistant {
		return RoleModel
	}
	return RoleUser
}

// =============================================================================
// STREAMING
// =============================================================================

// Chunk is one piece of streamed output. A chunk with Err set is the last one.
type Chunk struct {
	Text string
	Err  error
}

// Client produces a stream of text chunks for a request. Chunks are delivered
// in order by a single producer and the channel is closed when the stream
// ends. A returned error means the stream never started.
type Client interface {
	GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (<-chan Chunk, error)

// GenerateStream implements Client.
func (f ClientFunc) GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	return f(ctx, req)
}

// Emit delivers one text fragment. It fails once ctx is done.
type Emit func(text string) error

// Stream runs produce in a goroutine and adapts it to a chunk channel. Any
// error returned by produce is delivered as the final chunk.
func Stream(ctx context.Context, produce func(emit Emit) error) <-chan Chunk {
	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		emit := func(text string) error {
			if text == "" {
				return nil
			}
			select {
			case ch <- Chunk{Text: text}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := produce(emit); err != nil {
			// Prefer delivery over ctx: a cancelled consumer that is still
			// draining should see why the stream stopped.
			select {
			case ch <- Chunk{Err: err}:
				return
			default:
			}
			select {
			case ch <- Chunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch
}

// Collect drains a stream and returns the concatenated text.
func Collect(ch <-chan Chunk) (string, error) {
	var b strings.Builder
	for c := range ch {
		if c.Err != nil {
			return b.String(), c.Err
		}
		b.WriteString(c.Text)
	}
	return b.String(), nil
}

// =============================================================================
// ERRORS
// =============================================================================

// GenerationError reports a failed generation: a network or API failure, a
// rejected request, or an attachment that could not be processed.
type GenerationError struct {
	Op     string // "validate", "upload", "request", "stream"
	Status int    // HTTP status when known
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("generation %s failed (HTTP %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("generation %s failed: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Wrap returns err as a *GenerationError, keeping an existing one intact.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return err
	}
	return &GenerationError{Op: op, Err: err}
}
