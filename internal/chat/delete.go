// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/minigem/internal/model"
)

// maxParallelDeletes bounds concurrent blob deletions.
const maxParallelDeletes = 4

// DeleteMessage removes the user message userMsgID and its reply. Their
// attachment blobs are deleted first; a failed blob delete is logged and does
// not stop the removal.
func (s *Store) DeleteMessage(ctx context.Context, chatID, userMsgID string) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	c, _, ok := s.state.Chat(chatID)
	if !ok {
		s.mu.Unlock()
		return ErrChatNotFound
	}
	idx := c.IndexOf(userMsgID)
	if idx < 0 || c.Messages[idx].Role != model.RoleUser {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	pair := c.Messages[idx:c.PairEnd(idx)]
	if containsMessage(pair, s.state.StreamingID) {
		s.mu.Unlock()
		return ErrBusy
	}
	refs := refsOf(pair)
	s.mu.Unlock()

	s.deleteBlobs(ctx, refs)

	if err := s.lockOpen(); err != nil {
		return err
	}
	// Re-read: the chat may have changed while blobs were deleted.
	c, ci, ok := s.state.Chat(chatID)
	idx = c.IndexOf(userMsgID)
	if !ok || idx < 0 {
		s.mu.Unlock()
		return nil
	}
	end := c.PairEnd(idx)
	if containsMessage(c.Messages[idx:end], s.state.StreamingID) {
		s.mu.Unlock()
		return ErrBusy
	}
	c = withMessages(c, c.Messages[:idx], c.Messages[end:])
	c.UpdatedAt = s.now()

	next := s.state
	next.Chats = replaceChat(next.Chats, ci, c)
	if err := s.saveChats(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.commitAndUnlock(next)
	return nil
}

// DeleteChat removes a chat and every blob its messages reference. When it
// was active, the first remaining chat becomes active.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	c, _, ok := s.state.Chat(chatID)
	if !ok {
		s.mu.Unlock()
		return ErrChatNotFound
	}
	if containsMessage(c.Messages, s.state.StreamingID) {
		s.mu.Unlock()
		return ErrBusy
	}
	refs := c.AttachmentRefs()
	s.mu.Unlock()

	s.deleteBlobs(ctx, refs)

	if err := s.lockOpen(); err != nil {
		return err
	}
	c, ci, ok := s.state.Chat(chatID)
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if containsMessage(c.Messages, s.state.StreamingID) {
		s.mu.Unlock()
		return ErrBusy
	}

	next := s.state
	next.Chats = removeChat(next.Chats, ci)
	if next.ActiveID == chatID {
		next.ActiveID = ""
		if len(next.Chats) > 0 {
			next.ActiveID = next.Chats[0].ID
		}
	}
	if err := s.saveChats(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.saveActive(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.logger.Debug("chat deleted", "chat", chatID, "attachments", len(refs), "active", next.ActiveID)
	s.commitAndUnlock(next)
	return nil
}

// BranchChat copies the active chat up to and including msgID into a new
// chat with fresh message IDs, puts it first and makes it active. Attachment
// blobs are copied too, so either chat can be deleted without touching the
// other's files.
func (s *Store) BranchChat(ctx context.Context, msgID string) (string, error) {
	if err := s.lockOpen(); err != nil {
		return "", err
	}
	src, _, ok := s.state.activeChat()
	if !ok {
		s.mu.Unlock()
		return "", ErrNoActiveChat
	}
	idx := src.IndexOf(msgID)
	if idx < 0 {
		s.mu.Unlock()
		return "", ErrMessageNotFound
	}
	if containsMessage(src.Messages[:idx+1], s.state.StreamingID) {
		s.mu.Unlock()
		return "", ErrBusy
	}

	now := s.now()
	branch := model.NewChat(now)
	branch.Title = model.DeriveTitle(src.Messages[0].Content)
	branch.Messages = make([]model.Message, idx+1)
	for i, m := range src.Messages[:idx+1] {
		m = m.Clone()
		m.ID = model.NewID()
		branch.Messages[i] = m
	}
	s.mu.Unlock()

	copies, err := s.copyBlobs(ctx, branch.Messages)
	if err != nil {
		return "", err
	}

	if err := s.lockOpen(); err != nil {
		s.deleteBlobs(ctx, copies)
		return "", err
	}
	next := s.state
	next.Chats = prependChat(next.Chats, branch)
	next.ActiveID = branch.ID
	if err := s.saveChats(ctx, next); err != nil {
		s.mu.Unlock()
		s.deleteBlobs(ctx, copies)
		return "", err
	}
	if err := s.saveActive(ctx, next); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.logger.Debug("chat branched", "from", src.ID, "to", branch.ID,
		"messages", len(branch.Messages), "attachments", len(copies))
	s.commitAndUnlock(next)
	return branch.ID, nil
}

// copyBlobs stores a copy of every blob msgs reference and points the refs at
// the copies. A blob that is already gone is dropped from its message. On
// error the copies made so far are deleted.
func (s *Store) copyBlobs(ctx context.Context, msgs []model.Message) ([]model.AttachmentRef, error) {
	var copies []model.AttachmentRef
	for i := range msgs {
		if !msgs[i].HasAttachments() {
			continue
		}
		refs := make([]model.AttachmentRef, 0, len(msgs[i].Attachments))
		for _, r := range msgs[i].Attachments {
			b, err := s.blobs.Get(ctx, r.ID)
			if err != nil {
				s.deleteBlobs(ctx, copies)
				return nil, fmt.Errorf("copy attachment %s: %w", r.Name, err)
			}
			if b == nil {
				s.logger.Warn("attachment missing, not copied", "id", r.ID, "name", r.Name)
				continue
			}
			cp := *b
			cp.ID = ""
			ref, err := s.blobs.Put(ctx, cp)
			if err != nil {
				s.deleteBlobs(ctx, copies)
				return nil, fmt.Errorf("copy attachment %s: %w", r.Name, err)
			}
			copies = append(copies, ref)
			refs = append(refs, ref)
		}
		msgs[i].Attachments = refs
	}
	return copies, nil
}

// deleteBlobs deletes refs in parallel. Failures are logged and dropped.
func (s *Store) deleteBlobs(ctx context.Context, refs []model.AttachmentRef) {
	if len(refs) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(maxParallelDeletes)
	for _, r := range refs {
		g.Go(func() error {
			if err := s.blobs.Delete(ctx, r.ID); err != nil {
				s.logger.Warn("failed to delete attachment", "id", r.ID, "name", r.Name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
