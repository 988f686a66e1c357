// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the innerguide command-line interface.
//
// Commands are built with cobra. Every command shares one app value that
// holds the loaded configuration, the logger and the standard streams, so
// tests can drive the whole tree with in-memory readers and writers.
//
// # Key Types
//
//   - app: Shared state for a single invocation (config, logger, streams)
//   - session: An orchestrator bound to its persistence gateway
//   - streamPrinter: Transcript subscriber that prints deltas as they arrive
//   - renderer: Optional glamour markdown renderer for finished answers
//
// # Usage
//
//	os.Exit(cli.Execute())
//
// # Commands Overview
//
//   - chat: Interactive chat session (default)
//   - ask: Single question, answer streamed to stdout
//   - history: Stored conversation grouped by day
//   - clear: Delete the stored conversation
//   - export: Write the conversation to Markdown or JSON
//   - config: Show, get, set and initialise configuration
//   - version: Build information
package cli
