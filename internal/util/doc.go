// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across innerguide.
//
// # Key Functions
//
//   - AtomicWriteFile: Crash-safe file writing with fsync
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//   - TruncateWidth, Preview: Display-width aware truncation for the terminal
//
// # Usage
//
//	// Write files atomically to prevent data loss
//	err := util.AtomicWriteFile(path, data, 0600)
//
//	// One-line preview of a long answer
//	line := util.Preview(turn.Content, 60)
package util
