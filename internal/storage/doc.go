// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversation turns per user.
//
// Every backend implements Gateway: insert one turn, list a user's turns
// (most recent N, ascending or descending), delete all of a user's turns.
// Turns are ordered by creation time with insertion order breaking ties.
//
// # Key Types
//
//   - Gateway: persistence interface used by the chat orchestrator
//   - SQLGateway: sqlite, postgres and mysql (chat_messages table)
//   - BoltGateway: single-file bbolt store
//   - FileGateway: one JSON file per user
//   - MemoryGateway: ephemeral, for tests and --ephemeral sessions
//   - DayGroup: turns bucketed by calendar day for history listings
//
// # Usage
//
// Open the configured backend and load the last 50 turns:
//
//	gw, err := storage.Open(cfg.Storage)
//	turns, err := gw.ListTurns(ctx, storage.Query{UserID: id, Limit: 50})
//
// # Storage Location
//
// File-backed drivers default to ~/.innerguide/ (chat.db, chat.bolt, turns/).
package storage
