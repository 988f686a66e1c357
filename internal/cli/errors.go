// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Structured error types and exit codes for the innerguide CLI.

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/innerguide/internal/chat"
	"github.com/jeranaias/innerguide/internal/cloud"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitOK             = 0
	ExitError          = 1
	ExitUsage          = 2
	ExitRateLimited    = 3
	ExitQuotaExhausted = 4
	ExitRequestFailed  = 5
	ExitStreamFailed   = 6
	ExitNotConfigured  = 7
)

// exitCode maps err to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ue *UsageError
	if errors.As(err, &ue) {
		return ExitUsage
	}
	if errors.Is(err, cloud.ErrNotConfigured) {
		return ExitNotConfigured
	}
	switch chat.KindOf(err) {
	case chat.KindRateLimited:
		return ExitRateLimited
	case chat.KindQuotaExhausted:
		return ExitQuotaExhausted
	case chat.KindRequestFailed:
		return ExitRequestFailed
	case chat.KindStreamIncomplete, chat.KindTransportError:
		return ExitStreamFailed
	}
	return ExitError
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents an error during command execution.
type CommandError struct {
	Command string
	Action  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: failed to %s: %v", e.Command, e.Action, e.Err)
	}
	return fmt.Sprintf("%s: failed to %s", e.Command, e.Action)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError reports invalid flags or arguments.
type UsageError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	msg := fmt.Sprintf("invalid %s", e.Field)
	if e.Value != "" {
		msg += fmt.Sprintf(" '%s'", e.Value)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Example != "" {
		msg += fmt.Sprintf(" (example: %s)", e.Example)
	}
	return msg
}

func newCommandError(command, action string, err error) error {
	return &CommandError{Command: command, Action: action, Err: err}
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// displayError prints err in the CLI's error format. Chat failures were
// already shown by the notifier and are skipped.
func displayError(w io.Writer, s *styles, err error) {
	if err == nil {
		return
	}
	var ce *chat.Error
	if errors.As(err, &ce) {
		return
	}
	fmt.Fprintf(w, "%s %v\n", s.Error.Render("[Error]"), err)
}
