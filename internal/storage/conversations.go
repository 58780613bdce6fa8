// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/minigem/internal/logging"
	"github.com/jeranaias/minigem/internal/model"
)

// Storage keys.
const (
	KeyChats    = "gemini-chats"
	KeySettings = "gemini-settings"
	KeyActiveID = "current-chat-id"

	// KeyChatsBackup receives the raw chat list when it cannot be parsed at
	// all, before anything overwrites it.
	KeyChatsBackup = "gemini-chats-unreadable"
)

// =============================================================================
// STORED TYPES
// =============================================================================

// StoredChat is the serialized form of a chat.
type StoredChat struct {
	ID        string          `json:"id" yaml:"id"`
	Title     string          `json:"title" yaml:"title"`
	Messages  []StoredMessage `json:"messages" yaml:"messages"`
	CreatedAt string          `json:"createdAt" yaml:"createdAt"`
	UpdatedAt string          `json:"updatedAt" yaml:"updatedAt"`
}

// StoredMessage is the serialized form of a message.
type StoredMessage struct {
	ID           string                  `json:"id" yaml:"id"`
	Role         string                  `json:"role" yaml:"role"`
	Content      string                  `json:"content" yaml:"content"`
	Timestamp    string                  `json:"timestamp" yaml:"timestamp"`
	Attachments  []model.AttachmentRef   `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	Model        string                  `json:"model,omitempty" yaml:"model,omitempty"`
	Params       *model.GenerationParams `json:"params,omitempty" yaml:"params,omitempty"`
	ResponseTime *int64                  `json:"responseTime,omitempty" yaml:"responseTime,omitempty"`
}

const timeLayout = time.RFC3339Nano

// readLayouts are accepted on load. Besides our own format they cover the
// strings a browser's Date produces.
var readLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	time.RFC1123,
	"Mon Jan 02 2006",
	"2006-01-02",
}

// parseTime reads a stored timestamp. Epoch milliseconds are accepted too.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	// Date.toString appends the zone name in parentheses.
	if i := strings.Index(s, " ("); i > 0 {
		s = s[:i]
	}
	for _, layout := range readLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

func encodeChat(c model.Chat) StoredChat {
	sc := StoredChat{
		ID:        c.ID,
		Title:     c.Title,
		Messages:  make([]StoredMessage, len(c.Messages)),
		CreatedAt: c.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt: c.UpdatedAt.UTC().Format(timeLayout),
	}
	for i, m := range c.Messages {
		sc.Messages[i] = StoredMessage{
			ID:           m.ID,
			Role:         string(m.Role),
			Content:      m.Content,
			Timestamp:    m.Timestamp.UTC().Format(timeLayout),
			Attachments:  m.Attachments,
			Model:        m.Model,
			Params:       m.Params,
			ResponseTime: m.LatencyMs,
		}
	}
	return sc
}

// decodeChat converts a stored chat. Unreadable timestamps decode as the zero
// time and are reported in bad; only an unknown role rejects the chat.
func decodeChat(sc StoredChat) (c model.Chat, bad []string, err error) {
	parse := func(field, v string) time.Time {
		t, ok := parseTime(v)
		if !ok {
			bad = append(bad, field+"="+strconv.Quote(v))
		}
		return t
	}

	c = model.Chat{
		ID:        sc.ID,
		Title:     sc.Title,
		Messages:  make([]model.Message, 0, len(sc.Messages)),
		CreatedAt: parse("createdAt", sc.CreatedAt),
		UpdatedAt: parse("updatedAt", sc.UpdatedAt),
	}
	for _, sm := range sc.Messages {
		role := model.Role(sm.Role)
		if !role.Valid() {
			return model.Chat{}, nil, fmt.Errorf("message %s: unknown role %q", sm.ID, sm.Role)
		}
		c.Messages = append(c.Messages, model.Message{
			ID:          sm.ID,
			Role:        role,
			Content:     sm.Content,
			Timestamp:   parse("message "+sm.ID+" timestamp", sm.Timestamp),
			Attachments: sm.Attachments,
			Model:       sm.Model,
			Params:      sm.Params,
			LatencyMs:   sm.ResponseTime,
		})
	}
	return c, bad, nil
}

// =============================================================================
// ADAPTER
// =============================================================================

// Adapter reads and writes chats, the active chat pointer and settings.
// It is safe for concurrent use when the underlying KV is.
//
// Chats that cannot be decoded are skipped on load but kept verbatim and
// written back after the readable chats on every save.
type Adapter struct {
	kv     KV
	logger *slog.Logger

	mu         sync.Mutex
	unreadable []json.RawMessage
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger sets the logger used to report skipped chats.
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdapter wraps a KV backend.
func NewAdapter(kv KV, opts ...AdapterOption) *Adapter {
	a := &Adapter{kv: kv, logger: logging.Discard()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Close closes the backend.
func (a *Adapter) Close() error {
	return a.kv.Close()
}

func (a *Adapter) read(ctx context.Context, key string, v any) (bool, error) {
	data, ok, err := a.kv.Get(ctx, key)
	if err != nil {
		return false, &StorageError{Op: "read", Key: key, Err: err}
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &StorageError{Op: "decode", Key: key, Err: err}
	}
	return true, nil
}

func (a *Adapter) write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &StorageError{Op: "encode", Key: key, Err: err}
	}
	if err := a.kv.Set(ctx, key, data); err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// LoadConversations returns the stored chats, or an empty list. A chat list
// that is not a JSON array is copied to KeyChatsBackup and reported as a
// decode error; individual chats that cannot be decoded are skipped.
func (a *Adapter) LoadConversations(ctx context.Context) ([]model.Chat, error) {
	data, ok, err := a.kv.Get(ctx, KeyChats)
	if err != nil {
		return nil, &StorageError{Op: "read", Key: KeyChats, Err: err}
	}
	if !ok {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		if berr := a.kv.Set(ctx, KeyChatsBackup, data); berr != nil {
			a.logger.Error("failed to back up unreadable chat list", "error", berr)
		} else {
			a.logger.Error("chat list is unreadable, saved a copy", "key", KeyChatsBackup, "error", err)
		}
		return nil, &StorageError{Op: "decode", Key: KeyChats, Err: err}
	}

	chats := make([]model.Chat, 0, len(raw))
	var unreadable []json.RawMessage
	for i, item := range raw {
		var sc StoredChat
		if err := json.Unmarshal(item, &sc); err != nil {
			a.logger.Warn("skipping unreadable chat", "index", i, "error", err)
			unreadable = append(unreadable, item)
			continue
		}
		c, bad, err := decodeChat(sc)
		if err != nil {
			a.logger.Warn("skipping unreadable chat", "chat", sc.ID, "error", err)
			unreadable = append(unreadable, item)
			continue
		}
		if len(bad) > 0 {
			a.logger.Warn("chat has unreadable timestamps", "chat", sc.ID, "fields", bad)
		}
		chats = append(chats, c)
	}

	a.mu.Lock()
	a.unreadable = unreadable
	a.mu.Unlock()
	return chats, nil
}

// SaveConversations replaces the stored chat list. Chats skipped on load
// are appended unchanged.
func (a *Adapter) SaveConversations(ctx context.Context, chats []model.Chat) error {
	a.mu.Lock()
	kept := a.unreadable
	a.mu.Unlock()

	stored := make([]any, 0, len(chats)+len(kept))
	for _, c := range chats {
		stored = append(stored, encodeChat(c))
	}
	for _, raw := range kept {
		stored = append(stored, raw)
	}
	return a.write(ctx, KeyChats, stored)
}

// LoadActiveID returns the active chat ID, or "" when none is stored.
func (a *Adapter) LoadActiveID(ctx context.Context) (string, error) {
	data, ok, err := a.kv.Get(ctx, KeyActiveID)
	if err != nil {
		return "", &StorageError{Op: "read", Key: KeyActiveID, Err: err}
	}
	if !ok {
		return "", nil
	}
	return string(data), nil
}

// SaveActiveID stores the active chat ID. An empty id clears it.
func (a *Adapter) SaveActiveID(ctx context.Context, id string) error {
	if id == "" {
		if err := a.kv.Delete(ctx, KeyActiveID); err != nil {
			return &StorageError{Op: "delete", Key: KeyActiveID, Err: err}
		}
		return nil
	}
	if err := a.kv.Set(ctx, KeyActiveID, []byte(id)); err != nil {
		return &StorageError{Op: "write", Key: KeyActiveID, Err: err}
	}
	return nil
}

// LoadSettings returns stored settings with missing fields and per-model
// tiers back-filled, or the defaults when nothing is stored.
func (a *Adapter) LoadSettings(ctx context.Context) (model.Settings, error) {
	// Decoding over the defaults keeps any field or model the stored
	// document lacks.
	s := model.DefaultSettings()
	if _, err := a.read(ctx, KeySettings, &s); err != nil {
		return model.DefaultSettings(), err
	}
	s.FillDefaults()
	return s, nil
}

// SaveSettings writes the whole settings object.
func (a *Adapter) SaveSettings(ctx context.Context, s model.Settings) error {
	return a.write(ctx, KeySettings, s)
}

// Clear removes every stored key, including preserved unreadable chats.
func (a *Adapter) Clear(ctx context.Context) error {
	for _, key := range []string{KeyChats, KeySettings, KeyActiveID, KeyChatsBackup} {
		if err := a.kv.Delete(ctx, key); err != nil {
			return &StorageError{Op: "delete", Key: key, Err: err}
		}
	}
	a.mu.Lock()
	a.unreadable = nil
	a.mu.Unlock()
	return nil
}
