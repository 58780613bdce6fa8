// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across minigem.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth, PadRight: terminal column aware formatting
//   - FormatBytes: human readable byte counts
//
// # Usage
//
//	// Persist state without ever leaving a half-written file
//	err := util.AtomicWriteFile(path, data, 0600)
//
//	// Fit a chat title into a 30 column table cell
//	cell := util.PadRight(util.TruncateWidth(title, 30), 30)
package util
