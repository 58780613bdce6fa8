// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"slices"
	"strings"

	"github.com/jeranaias/minigem/internal/genai"
	"github.com/jeranaias/minigem/internal/model"
)

// job is one generation started by SendMessage or EditAndRetry.
type job struct {
	chatID      string
	assistantID string
	apiKey      string
	prompt      string
	refs        []model.AttachmentRef
	history     []model.Message
	params      model.GenerationParams
	reasoning   model.ReasoningEffort

	// restore holds the edited pair and the messages discarded after it as
	// they were before the edit. On failure they replace the new pair; nil
	// for a plain send.
	restore []model.Message
	userID  string
	// orphans are blobs to delete once the generation succeeds.
	orphans []model.AttachmentRef
}

// =============================================================================
// ACTIONS
// =============================================================================

// SendMessage appends a user message and an empty assistant reply to the
// active chat and starts streaming into the reply. It returns once the
// generation has started; use Wait to block until it ends. Generation
// failures are reported through State.Err, not the returned error.
func (s *Store) SendMessage(ctx context.Context, text string, refs []model.AttachmentRef) error {
	if strings.TrimSpace(text) == "" && len(refs) == 0 {
		return ErrEmptyMessage
	}
	if err := s.lockOpen(); err != nil {
		return err
	}
	if s.state.Busy {
		s.mu.Unlock()
		return ErrBusy
	}
	c, i, ok := s.state.activeChat()
	if !ok {
		s.mu.Unlock()
		return ErrNoActiveChat
	}

	params := s.state.Settings.Params()
	reasoning, err := model.ReasoningValue(params.Tier, params.Model)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	now := s.now()
	user := model.NewUserMessage(text, refs, params.Model, now)
	reply := model.NewPlaceholder(params, now)
	if c.IsEmpty() {
		c.Title = model.DeriveTitle(text)
	}
	history := c.Messages
	c = withMessages(c, c.Messages, []model.Message{user, reply})
	c.UpdatedAt = now

	next := s.state
	next.Chats = replaceChat(next.Chats, i, c)
	next.Busy = true
	next.StreamingID = reply.ID
	next.Err = ""
	if err := s.saveChats(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.saveActive(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}

	j := job{
		chatID:      c.ID,
		assistantID: reply.ID,
		apiKey:      s.state.Settings.APIKey,
		prompt:      text,
		refs:        slices.Clone(refs),
		history:     history,
		params:      params,
		reasoning:   reasoning,
	}
	s.start(ctx, j)
	s.commitAndUnlock(next)
	return nil
}

// EditAndRetry rewrites the user message userMsgID, discards everything after
// its pair and regenerates the reply with params. On failure the chat's
// previous messages are restored.
func (s *Store) EditAndRetry(ctx context.Context, userMsgID, text string, refs []model.AttachmentRef, params model.GenerationParams) error {
	if strings.TrimSpace(text) == "" && len(refs) == 0 {
		return ErrEmptyMessage
	}
	if err := validateParams(params); err != nil {
		return err
	}
	reasoning, err := model.ReasoningValue(params.Tier, params.Model)
	if err != nil {
		return err
	}

	if err := s.lockOpen(); err != nil {
		return err
	}
	if s.state.Busy {
		s.mu.Unlock()
		return ErrBusy
	}
	c, ci, ok := s.state.activeChat()
	if !ok {
		s.mu.Unlock()
		return ErrNoActiveChat
	}
	idx := c.IndexOf(userMsgID)
	if idx < 0 || c.Messages[idx].Role != model.RoleUser {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	end := c.PairEnd(idx)
	now := s.now()

	old := c.Messages[idx]
	user := old.Clone()
	user.Content = text
	user.Attachments = slices.Clone(refs)
	user.Timestamp = now
	user.Model = params.Model

	var reply model.Message
	if end == idx+2 {
		reply = c.Messages[idx+1].Clone()
		reply.Content = ""
		reply.Timestamp = now
		reply.Model = params.Model
		p := params
		reply.Params = &p
		reply.LatencyMs = nil
	} else {
		reply = model.NewPlaceholder(params, now)
	}

	// Blobs of discarded messages and attachments dropped by the edit.
	kept := make(map[string]bool, len(refs))
	for _, r := range refs {
		kept[r.ID] = true
	}
	var orphans []model.AttachmentRef
	for _, r := range refsOf(c.Messages[idx:]) {
		if !kept[r.ID] {
			orphans = append(orphans, r)
		}
	}

	history := c.Messages[:idx]
	restore := c.Messages[idx:]
	c = withMessages(c, history, []model.Message{user, reply})
	c.UpdatedAt = now

	next := s.state
	next.Chats = replaceChat(next.Chats, ci, c)
	next.Busy = true
	next.StreamingID = reply.ID
	next.Err = ""

	s.logger.Debug("edit and retry", "chat", c.ID, "message", userMsgID,
		"discarded", len(restore)-(end-idx), "orphans", len(orphans), "model", params.Model)

	j := job{
		chatID:      c.ID,
		assistantID: reply.ID,
		apiKey:      s.state.Settings.APIKey,
		prompt:      text,
		refs:        slices.Clone(refs),
		history:     history,
		params:      params,
		reasoning:   reasoning,
		restore:     restore,
		userID:      userMsgID,
		orphans:     orphans,
	}
	s.start(ctx, j)
	s.commitAndUnlock(next)
	return nil
}

// Retry regenerates the reply to userMsgID with params, keeping its text and
// attachments.
func (s *Store) Retry(ctx context.Context, userMsgID string, params model.GenerationParams) error {
	st := s.Snapshot()
	c, ok := st.ActiveChat()
	if !ok {
		return ErrNoActiveChat
	}
	m, ok := c.Message(userMsgID)
	if !ok || m.Role != model.RoleUser {
		return ErrMessageNotFound
	}
	return s.EditAndRetry(ctx, userMsgID, m.Content, m.Attachments, params)
}

// =============================================================================
// STREAMING
// =============================================================================

// start launches the generation goroutine. The caller must hold mu.
func (s *Store) start(ctx context.Context, j job) {
	done := make(chan struct{})
	s.genDone = done

	// The generation outlives the call but stops with ctx or the store.
	genCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)

	go func() {
		defer close(done)
		defer stop()
		defer cancel()
		s.generate(genCtx, j)
	}()
}

func (s *Store) generate(ctx context.Context, j job) {
	started := s.now()
	req := genai.Request{
		APIKey:      j.apiKey,
		Prompt:      j.prompt,
		History:     buildHistory(j.history),
		Attachments: s.resolve(ctx, j.refs),
		Model:       j.params.Model,
		Reasoning:   j.reasoning,
		Temperature: j.params.Temperature,
	}

	err := s.stream(ctx, req, j.chatID, j.assistantID)

	// Final persistence must happen even when ctx was cancelled.
	saveCtx := context.WithoutCancel(ctx)
	if err != nil {
		s.logger.Warn("generation failed", "chat", j.chatID, "model", j.params.Model, "error", err)
		s.fail(saveCtx, j, err)
		return
	}
	latency := s.now().Sub(started).Milliseconds()
	s.logger.Debug("generation complete", "chat", j.chatID, "model", j.params.Model, "latency_ms", latency)
	s.finish(saveCtx, j, latency)
}

// stream drives the client and appends every chunk in delivery order.
func (s *Store) stream(ctx context.Context, req genai.Request, chatID, msgID string) error {
	ch, err := s.client.GenerateStream(ctx, req)
	if err != nil {
		return genai.Wrap("request", err)
	}
	for chunk := range ch {
		if chunk.Err != nil {
			return genai.Wrap("stream", chunk.Err)
		}
		s.appendChunk(chatID, msgID, chunk.Text)
	}
	// A producer stopped by ctx may close without an error chunk.
	if err := ctx.Err(); err != nil {
		return &genai.GenerationError{Op: "stream", Err: err}
	}
	return nil
}

// appendChunk appends text to the message's current content.
func (s *Store) appendChunk(chatID, msgID, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	c, ci, ok := s.state.Chat(chatID)
	mi := c.IndexOf(msgID)
	if !ok || mi < 0 {
		s.mu.Unlock()
		return
	}
	m := c.Messages[mi]
	m.Content += text
	c = withMessages(c, c.Messages[:mi], []model.Message{m}, c.Messages[mi+1:])

	next := s.state
	next.Chats = replaceChat(next.Chats, ci, c)
	s.commitAndUnlock(next)
}

func (s *Store) finish(ctx context.Context, j job, latency int64) {
	s.mu.Lock()
	next := s.state
	next.Busy = false
	next.StreamingID = ""
	if c, ci, ok := next.Chat(j.chatID); ok {
		if mi := c.IndexOf(j.assistantID); mi >= 0 {
			m := c.Messages[mi]
			m.LatencyMs = &latency
			c = withMessages(c, c.Messages[:mi], []model.Message{m}, c.Messages[mi+1:])
			c.UpdatedAt = s.now()
			next.Chats = replaceChat(next.Chats, ci, c)
		}
	}
	// Storage errors are logged by saveChats; the reply stays in memory.
	_ = s.saveChats(ctx, next)
	s.commitAndUnlock(next)

	s.deleteBlobs(ctx, j.orphans)
}

func (s *Store) fail(ctx context.Context, j job, err error) {
	s.mu.Lock()
	next := s.state
	next.Busy = false
	next.StreamingID = ""
	next.Err = errorMessage(err)
	if j.restore != nil {
		if c, ci, ok := next.Chat(j.chatID); ok {
			next.Chats = replaceChat(next.Chats, ci, restoreEdit(c, j))
		}
	}
	_ = s.saveChats(ctx, next)
	s.commitAndUnlock(next)
}

// restoreEdit puts back what a failed edit replaced. Only the edited pair is
// swapped, so changes made to the rest of the chat during the generation
// (a deleted earlier pair, for instance) are kept.
func restoreEdit(c model.Chat, j job) model.Chat {
	i := c.IndexOf(j.userID)
	if i < 0 {
		return c
	}
	return withMessages(c, c.Messages[:i], j.restore, c.Messages[c.PairEnd(i):])
}

// buildHistory maps prior messages onto request turns. Messages without text
// (such as a reply that failed before any chunk arrived) are skipped.
func buildHistory(msgs []model.Message) []genai.Turn {
	turns := make([]genai.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		turns = append(turns, genai.Turn{Role: genai.TurnRole(m.Role), Text: m.Content})
	}
	return turns
}

// resolve loads attachment bytes. Refs that cannot be read are dropped.
func (s *Store) resolve(ctx context.Context, refs []model.AttachmentRef) []genai.Attachment {
	var out []genai.Attachment
	for _, r := range refs {
		b, err := s.blobs.Get(ctx, r.ID)
		if err != nil || b == nil {
			s.logger.Warn("dropping unreadable attachment", "id", r.ID, "name", r.Name, "error", err)
			continue
		}
		out = append(out, genai.Attachment{Name: b.Name, MIMEType: b.Type, Data: b.Data})
	}
	return out
}
