// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sort"
	"strings"

	"github.com/jeranaias/innerguide/internal/model"
)

// =============================================================================
// GATEWAY INTERFACE
// =============================================================================

// Gateway persists turns per user. Implementations are safe for concurrent
// use and never modify a turn's ID, role, content or timestamp.
type Gateway interface {
	// InsertTurn stores one finished turn for userID.
	InsertTurn(ctx context.Context, userID string, turn model.Turn) error

	// ListTurns returns the user's turns selected by q.
	ListTurns(ctx context.Context, q Query) ([]model.Turn, error)

	// DeleteAllTurns removes every turn of userID.
	DeleteAllTurns(ctx context.Context, userID string) error

	// Close releases the underlying resources.
	Close() error
}

// Order is the output order of ListTurns, by creation time.
type Order int

const (
	// Ascending returns oldest first (conversation order).
	Ascending Order = iota
	// Descending returns newest first (history listing order).
	Descending
)

// Query selects turns for ListTurns.
type Query struct {
	UserID string
	// Limit selects the most recent N turns; 0 means all.
	Limit int
	Order Order
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrMissingUser is returned when an operation has no user ID.
	ErrMissingUser = &GatewayError{Message: "user id is required"}

	// ErrInvalidTurn is returned for turns without an ID or with an unknown role.
	ErrInvalidTurn = &GatewayError{Message: "invalid turn"}

	// ErrDuplicateTurn is returned when a turn ID is already stored.
	ErrDuplicateTurn = &GatewayError{Message: "turn already stored"}

	// ErrClosed is returned after Close.
	ErrClosed = &GatewayError{Message: "gateway closed"}
)

// GatewayError represents a persistence error.
// It implements the error interface and can be compared using errors.Is.
type GatewayError struct {
	Message string
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing gateway errors.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUser
	}
	return nil
}

func validateTurn(userID string, turn model.Turn) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if turn.ID == "" || !turn.Role.Valid() {
		return ErrInvalidTurn
	}
	return nil
}

// sortTurns orders turns oldest first. The sort is stable so turns with the
// same timestamp keep their insertion order.
func sortTurns(turns []model.Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].CreatedAt.Before(turns[j].CreatedAt)
	})
}

// selectTurns applies q's limit and order to turns sorted oldest first.
// The result is always a fresh slice.
func selectTurns(asc []model.Turn, q Query) []model.Turn {
	start := 0
	if q.Limit > 0 && len(asc) > q.Limit {
		start = len(asc) - q.Limit
	}
	out := append([]model.Turn(nil), asc[start:]...)
	if q.Order == Descending {
		reverse(out)
	}
	if out == nil {
		out = []model.Turn{}
	}
	return out
}

func reverse(turns []model.Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
