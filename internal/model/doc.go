// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats, messages and settings.
//
// This package defines the domain types shared by the conversation store,
// the persistence adapter and the generation clients.
//
// # Key Types
//
//   - Chat: titled, ordered sequence of messages
//   - Message: single user or assistant turn with optional attachments
//   - AttachmentRef: metadata pointer to a blob held outside chat state
//   - Settings: API key, selected model, per-model thinking tiers, temperature
//   - ModelInfo: reasoning-token ceiling and defaults for a Gemini model
//
// # Usage
//
// Resolve the numeric reasoning budget for a request:
//
//	effort, err := model.ReasoningValue(model.TierMedium, "gemini-2.5-flash")
//	// effort.Tokens == 21845
//
// Match raw settings to a response style:
//
//	style, ok := model.MatchPreset(model.TierHigh, 0.1) // "analytical", true
package model
