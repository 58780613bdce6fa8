// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chats, the active chat pointer and settings.
//
// Values are JSON documents stored under three fixed keys in a KV backend:
// either one atomically written file per key (FileKV) or a SQLite table
// (SQLiteKV). Timestamps are stored as RFC 3339 strings and decoded back into
// time.Time on load.
//
// # Usage
//
//	kv, err := storage.NewFileKV(dataDir)
//	adapter := storage.NewAdapter(kv)
//	chats, err := adapter.LoadConversations(ctx)
package storage
