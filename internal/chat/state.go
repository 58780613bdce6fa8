// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"slices"

	"github.com/jeranaias/minigem/internal/model"
)

// State is an immutable snapshot of the store. Slices and maps inside it are
// shared with later snapshots and must not be modified.
type State struct {
	Chats       []model.Chat
	ActiveID    string // empty when no chat is active
	Settings    model.Settings
	Busy        bool
	Err         string // last generation error, empty when none
	StreamingID string // assistant message receiving chunks, empty when idle
	Version     uint64
}

// ActiveChat returns the active chat.
func (s State) ActiveChat() (model.Chat, bool) {
	c, _, ok := s.Chat(s.ActiveID)
	return c, ok
}

func (s State) activeChat() (model.Chat, int, bool) {
	return s.Chat(s.ActiveID)
}

// Chat returns the chat with the given ID and its index.
func (s State) Chat(id string) (model.Chat, int, bool) {
	if id == "" {
		return model.Chat{}, -1, false
	}
	for i, c := range s.Chats {
		if c.ID == id {
			return c, i, true
		}
	}
	return model.Chat{}, -1, false
}

// Streaming reports whether msgID is receiving chunks.
func (s State) Streaming(msgID string) bool {
	return s.StreamingID != "" && s.StreamingID == msgID
}

// =============================================================================
// COPY-ON-WRITE HELPERS
// =============================================================================

// replaceChat returns a new slice with chats[i] replaced.
func replaceChat(chats []model.Chat, i int, c model.Chat) []model.Chat {
	out := slices.Clone(chats)
	out[i] = c
	return out
}

// removeChat returns a new slice without chats[i].
func removeChat(chats []model.Chat, i int) []model.Chat {
	out := make([]model.Chat, 0, len(chats)-1)
	out = append(out, chats[:i]...)
	return append(out, chats[i+1:]...)
}

// prependChat returns a new slice with c first.
func prependChat(chats []model.Chat, c model.Chat) []model.Chat {
	out := make([]model.Chat, 0, len(chats)+1)
	out = append(out, c)
	return append(out, chats...)
}

// withMessages returns c with a fresh message slice built from parts.
func withMessages(c model.Chat, parts ...[]model.Message) model.Chat {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	msgs := make([]model.Message, 0, n)
	for _, p := range parts {
		msgs = append(msgs, p...)
	}
	c.Messages = msgs
	return c
}

// persistable drops chats that have no messages yet.
func persistable(chats []model.Chat) []model.Chat {
	out := make([]model.Chat, 0, len(chats))
	for _, c := range chats {
		if !c.IsEmpty() {
			out = append(out, c)
		}
	}
	return out
}

// containsMessage reports whether any message in msgs has the given ID.
func containsMessage(msgs []model.Message, id string) bool {
	if id == "" {
		return false
	}
	return slices.ContainsFunc(msgs, func(m model.Message) bool { return m.ID == id })
}

// refsOf collects the attachment references of msgs.
func refsOf(msgs []model.Message) []model.AttachmentRef {
	var refs []model.AttachmentRef
	for _, m := range msgs {
		refs = append(refs, m.Attachments...)
	}
	return refs
}
