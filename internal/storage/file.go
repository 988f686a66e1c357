// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/jeranaias/innerguide/internal/model"
	"github.com/jeranaias/innerguide/internal/util"
)

// =============================================================================
// FILE GATEWAY
// =============================================================================

// storedTranscript is the on-disk form of one user's turns.
type storedTranscript struct {
	UserID string       `json:"user_id"`
	Turns  []model.Turn `json:"turns"`
}

// FileGateway stores each user's turns as one JSON file under BaseDir.
type FileGateway struct {
	// BaseDir is the directory holding one file per user
	BaseDir string

	mu     sync.Mutex
	closed bool
}

var _ Gateway = (*FileGateway)(nil)

// NewFileGateway creates a file gateway rooted at baseDir.
func NewFileGateway(baseDir string) (*FileGateway, error) {
	// SECURITY: transcripts are private; owner-only directory
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, errors.Wrap(err, "create storage directory")
	}
	return &FileGateway{BaseDir: baseDir}, nil
}

// InsertTurn appends turn to the user's file.
func (s *FileGateway) InsertTurn(ctx context.Context, userID string, turn model.Turn) error {
	if err := validateTurn(userID, turn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	stored, err := s.load(userID)
	if err != nil {
		return err
	}
	for _, t := range stored.Turns {
		if t.ID == turn.ID {
			return ErrDuplicateTurn
		}
	}
	stored.Turns = append(stored.Turns, turn)
	sortTurns(stored.Turns)
	return s.save(stored)
}

// ListTurns returns the user's turns selected by q.
func (s *FileGateway) ListTurns(ctx context.Context, q Query) ([]model.Turn, error) {
	if err := validateUser(q.UserID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	stored, err := s.load(q.UserID)
	if err != nil {
		return nil, err
	}
	sortTurns(stored.Turns)
	return selectTurns(stored.Turns, q), nil
}

// DeleteAllTurns removes the user's file.
func (s *FileGateway) DeleteAllTurns(ctx context.Context, userID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if err := os.Remove(s.filePath(userID)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "delete turns")
	}
	return nil
}

// Close marks the gateway closed.
func (s *FileGateway) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *FileGateway) load(userID string) (*storedTranscript, error) {
	data, err := os.ReadFile(s.filePath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return &storedTranscript{UserID: userID}, nil
		}
		return nil, errors.Wrap(err, "read turns")
	}

	var stored storedTranscript
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, errors.Wrapf(err, "decode %s", filepath.Base(s.filePath(userID)))
	}
	stored.UserID = userID
	return &stored, nil
}

func (s *FileGateway) save(stored *storedTranscript) error {
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode turns")
	}
	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFileWithDir(s.filePath(stored.UserID), data, 0600, 0700); err != nil {
		return errors.Wrap(err, "write turns")
	}
	return nil
}

// filePath returns the file for userID.
// SECURITY: the user ID is hashed so it can never escape BaseDir.
func (s *FileGateway) filePath(userID string) string {
	h := sha256.Sum256([]byte(userID))
	return filepath.Join(s.BaseDir, hex.EncodeToString(h[:16])+".json")
}
