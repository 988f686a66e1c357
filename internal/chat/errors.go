// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind classifies a failed exchange.
type Kind string

const (
	// KindRateLimited is an HTTP 429 from the inference endpoint.
	KindRateLimited Kind = "RateLimited"

	// KindQuotaExhausted is an HTTP 402 from the inference endpoint.
	KindQuotaExhausted Kind = "QuotaExhausted"

	// KindRequestFailed is any other non-2xx answer.
	KindRequestFailed Kind = "RequestFailed"

	// KindStreamIncomplete is a successful stream that produced no content.
	KindStreamIncomplete Kind = "StreamIncomplete"

	// KindTransportError is a network or decode failure before any content arrived.
	KindTransportError Kind = "TransportError"
)

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// User-facing notification text per kind.
const (
	MsgRateLimited    = "Rate limit exceeded. Please wait a moment."
	MsgQuotaExhausted = "Credits depleted. Please add funds to continue."
	MsgRequestFailed  = "Failed to get response"
	MsgGeneric        = "Something went wrong. Please try again."
)

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is a classified send failure. Message is safe to show to the user.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so the sentinels below work
// with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrRateLimited      = &Error{Kind: KindRateLimited, Message: MsgRateLimited}
	ErrQuotaExhausted   = &Error{Kind: KindQuotaExhausted, Message: MsgQuotaExhausted}
	ErrRequestFailed    = &Error{Kind: KindRequestFailed, Message: MsgRequestFailed}
	ErrStreamIncomplete = &Error{Kind: KindStreamIncomplete, Message: MsgGeneric}
	ErrTransport        = &Error{Kind: KindTransportError, Message: MsgGeneric}
)

// Precondition failures. These are returned before anything is sent and are
// never surfaced as notifications.
var (
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrBusy is returned when a send or clear arrives while a send is in flight.
	ErrBusy = errors.New("a message is already being sent")
)

// KindOf returns the kind of err, or "" when err is not a classified failure.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
