// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// TitleMaxLen is the number of characters taken from a message for a chat title.
const TitleMaxLen = 50

// DefaultTitle is used for chats that have no content yet.
const DefaultTitle = "New Chat"

// =============================================================================
// CHAT TYPE
// =============================================================================

// Chat holds a conversation with its messages. Chats are treated as values:
// the store replaces a chat rather than mutating one that was published.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewChat creates an empty chat with a generated ID.
func NewChat(now time.Time) Chat {
	return Chat{
		ID:        NewID(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsEmpty reports whether the chat has no messages.
func (c Chat) IsEmpty() bool {
	return len(c.Messages) == 0
}

// IndexOf returns the index of the message with the given ID, or -1.
func (c Chat) IndexOf(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Message returns the message with the given ID.
func (c Chat) Message(id string) (Message, bool) {
	if i := c.IndexOf(id); i >= 0 {
		return c.Messages[i], true
	}
	return Message{}, false
}

// AttachmentRefs collects the references held by every message, in order.
func (c Chat) AttachmentRefs() []AttachmentRef {
	var refs []AttachmentRef
	for _, m := range c.Messages {
		refs = append(refs, m.Attachments...)
	}
	return refs
}

// Clone returns a deep copy of the chat.
func (c Chat) Clone() Chat {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// PairEnd returns the exclusive end index of the pair starting at the user
// message at index i. The paired reply is included only if it exists and has
// the assistant role.
func (c Chat) PairEnd(i int) int {
	if i+1 < len(c.Messages) && c.Messages[i+1].Role == RoleAssistant {
		return i + 2
	}
	return i + 1
}

// Meta returns a lightweight summary used by listings.
func (c Chat) Meta() ChatMeta {
	preview := ""
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			preview = m.Preview(100)
			break
		}
	}
	return ChatMeta{
		ID:           c.ID,
		Title:        c.Title,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
		Preview:      preview,
	}
}

// ChatMeta is the summary of a chat shown in lists.
type ChatMeta struct {
	ID           string
	Title        string
	UpdatedAt    time.Time
	MessageCount int
	Preview      string
}

// =============================================================================
// TITLES
// =============================================================================

// DeriveTitle builds a chat title from the first TitleMaxLen characters of
// content. Content is NFC-normalized first so combining sequences count once.
func DeriveTitle(content string) string {
	s := strings.TrimSpace(norm.NFC.String(content))
	if s == "" {
		return DefaultTitle
	}
	return truncateRunes(collapseSpace(s), TitleMaxLen, "")
}

// collapseSpace replaces runs of whitespace (including newlines) with one space.
func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

func truncateRunes(s string, maxLen int, ellipsis string) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + ellipsis
}
