// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"slices"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message. Only two roles exist.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Gemini"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// AttachmentRef points at a blob in the blob store. It never carries bytes.
type AttachmentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// GenerationParams records the settings actually used to produce a reply.
type GenerationParams struct {
	Model       string  `json:"model"`
	Tier        Tier    `json:"thinkingBudget"`
	Temperature float64 `json:"temperature"`
}

// Message is a single turn in a chat.
type Message struct {
	ID          string            `json:"id"`
	Role        Role              `json:"role"`
	Content     string            `json:"content"`
	Timestamp   time.Time         `json:"timestamp"`
	Attachments []AttachmentRef   `json:"attachments,omitempty"`
	Model       string            `json:"model,omitempty"`
	Params      *GenerationParams `json:"params,omitempty"`

	// LatencyMs is set on assistant messages once streaming completes.
	LatencyMs *int64 `json:"responseTime,omitempty"`
}

// NewUserMessage creates a user message stamped with now.
func NewUserMessage(content string, refs []AttachmentRef, modelID string, now time.Time) Message {
	return Message{
		ID:          NewID(),
		Role:        RoleUser,
		Content:     content,
		Timestamp:   now,
		Attachments: slices.Clone(refs),
		Model:       modelID,
	}
}

// NewPlaceholder creates the empty assistant message that receives a stream.
func NewPlaceholder(params GenerationParams, now time.Time) Message {
	p := params
	return Message{
		ID:        NewID(),
		Role:      RoleAssistant,
		Timestamp: now,
		Model:     params.Model,
		Params:    &p,
	}
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	c := m
	c.Attachments = slices.Clone(m.Attachments)
	if m.Params != nil {
		p := *m.Params
		c.Params = &p
	}
	if m.LatencyMs != nil {
		l := *m.LatencyMs
		c.LatencyMs = &l
	}
	return c
}

// Preview returns a truncated preview of the message content.
func (m Message) Preview(maxLen int) string {
	return truncateRunes(collapseSpace(m.Content), maxLen, "...")
}

// HasAttachments reports whether the message references any blobs.
func (m Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// Latency returns the recorded response latency, or zero.
func (m Message) Latency() time.Duration {
	if m.LatencyMs == nil {
		return 0
	}
	return time.Duration(*m.LatencyMs) * time.Millisecond
}
