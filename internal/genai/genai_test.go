// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/minigem/internal/model"
)

func validRequest() Request {
	return Request{
		APIKey:      "key",
		Prompt:      "hello",
		Model:       "gemini-2.5-flash",
		Temperature: 0.7,
		History:     []Turn{{RoleUser, "hi"}, {RoleModel, "hello!"}},
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{"valid", func(*Request) {}, nil},
		{"missing key", func(r *Request) { r.APIKey = " " }, ErrMissingAPIKey},
		{"missing model", func(r *Request) { r.Model = "" }, ErrMissingModel},
		{"empty prompt", func(r *Request) { r.Prompt = "" }, ErrEmptyPrompt},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := validRequest()
			tc.mutate(&r)
			err := r.Validate()
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRequest_ValidateShape(t *testing.T) {
	r := validRequest()
	r.Prompt = ""
	r.Attachments = []Attachment{{Name: "a.png", MIMEType: "image/png", Data: []byte{1}}}
	require.NoError(t, r.Validate(), "attachments alone are a valid prompt")

	r.Attachments[0].MIMEType = ""
	require.Error(t, r.Validate())

	r = validRequest()
	r.History = append(r.History, Turn{Role: "assistant", Text: "x"})
	require.Error(t, r.Validate())

	r = validRequest()
	r.Temperature = 2.5
	require.Error(t, r.Validate())

	r = validRequest()
	r.Reasoning = model.ReasoningEffort{Tokens: -5}
	require.Error(t, r.Validate())
}

func TestTurnRole(t *testing.T) {
	require.Equal(t, RoleUser, TurnRole(model.RoleUser))
	require.Equal(t, RoleModel, TurnRole(model.RoleAssistant))
}

func TestStream_DeliversInOrderThenError(t *testing.T) {
	boom := errors.New("boom")
	ch := Stream(context.Background(), func(emit Emit) error {
		for _, s := range []string{"a", "", "b", "c"} {
			if err := emit(s); err != nil {
				return err
			}
		}
		return boom
	})

	text, err := Collect(ch)
	require.Equal(t, "abc", text)
	require.ErrorIs(t, err, boom)
}

func TestStream_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	ch := Stream(ctx, func(emit Emit) error {
		for {
			if err := emit("x"); err != nil {
				done <- err
				return err
			}
		}
	})
	<-ch
	cancel()
	for range ch {
	}
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestGenerationError(t *testing.T) {
	base := errors.New("quota exceeded")
	err := Wrap("request", base)

	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	require.Equal(t, "request", ge.Op)
	require.ErrorIs(t, err, base)
	require.Same(t, err, Wrap("stream", err))
	require.NoError(t, Wrap("x", nil))

	withStatus := &GenerationError{Op: "request", Status: 429, Err: base}
	require.Contains(t, withStatus.Error(), "HTTP 429")
}
