// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging sets up the zerolog logger shared by all components.
//
// Components receive a zerolog.Logger at construction and never log
// credentials; the cloud package logs key fingerprints instead.
package logging
