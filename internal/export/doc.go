// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes transcripts to Markdown or JSON files.
//
// # Key Types
//
//   - Document: title plus turns in conversation order
//   - Exporter: format implementation (MarkdownExporter, JSONExporter)
//   - Options: output directory, metadata and timestamp toggles
//
// # Usage
//
//	doc := export.NewDocument("", userID, turns)
//	exp, err := export.ForFormat("md", nil)
//	path, err := export.ExportToFile(doc, exp, opts)
//
// Files are written atomically with 0600 permissions.
package export
