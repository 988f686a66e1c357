// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sync"

	"github.com/jeranaias/innerguide/internal/model"
)

// MemoryGateway keeps turns in process memory. Used for ephemeral sessions
// and tests.
type MemoryGateway struct {
	mu     sync.RWMutex
	turns  map[string][]model.Turn
	ids    map[string]map[string]bool
	closed bool
}

var _ Gateway = (*MemoryGateway)(nil)

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		turns: make(map[string][]model.Turn),
		ids:   make(map[string]map[string]bool),
	}
}

// InsertTurn stores turn for userID.
func (m *MemoryGateway) InsertTurn(ctx context.Context, userID string, turn model.Turn) error {
	if err := validateTurn(userID, turn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.ids[userID][turn.ID] {
		return ErrDuplicateTurn
	}
	if m.ids[userID] == nil {
		m.ids[userID] = make(map[string]bool)
	}
	m.ids[userID][turn.ID] = true
	m.turns[userID] = append(m.turns[userID], turn)
	sortTurns(m.turns[userID])
	return nil
}

// ListTurns returns the user's turns selected by q.
func (m *MemoryGateway) ListTurns(ctx context.Context, q Query) ([]model.Turn, error) {
	if err := validateUser(q.UserID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return selectTurns(m.turns[q.UserID], q), nil
}

// DeleteAllTurns removes every turn of userID.
func (m *MemoryGateway) DeleteAllTurns(ctx context.Context, userID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.turns, userID)
	delete(m.ids, userID)
	return nil
}

// Close marks the gateway closed.
func (m *MemoryGateway) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
