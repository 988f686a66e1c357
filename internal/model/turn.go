// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Guide"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ParseRole converts a stored role value back into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// =============================================================================
// TURN TYPE
// =============================================================================

// Turn is one entry in a conversation.
//
// A turn's ID never changes. Content only changes while the turn is the
// in-flight assistant turn of a Transcript, and then only by appending.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn creates a turn with a client-generated ID.
func NewTurn(role Role, content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserTurn creates a user turn.
func NewUserTurn(content string) Turn {
	return NewTurn(RoleUser, content)
}

// NewAssistantTurn creates an empty assistant turn, ready to receive deltas.
func NewAssistantTurn() Turn {
	return NewTurn(RoleAssistant, "")
}

// IsPlaceholder reports whether the turn is an assistant turn with no content
// yet. The UI shows a typing indicator for it.
func (t Turn) IsPlaceholder() bool {
	return t.Role == RoleAssistant && t.Content == ""
}

// Message is the role/content pair sent to the inference endpoint.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Message returns the wire form of the turn.
func (t Turn) Message() Message {
	return Message{Role: t.Role, Content: t.Content}
}
