// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"strings"
	"sync"
)

// Transcript errors.
var (
	// ErrAlreadyStreaming is returned when a second in-flight turn is started.
	ErrAlreadyStreaming = errors.New("an assistant turn is already streaming")

	// ErrNotStreaming is returned when a delta targets a turn that is not in flight.
	ErrNotStreaming = errors.New("turn is not streaming")
)

// =============================================================================
// TRANSCRIPT TYPE
// =============================================================================

// Transcript is the ordered, in-memory log of turns for one session. It is
// the ground truth the UI renders.
//
// Every mutation publishes a fresh snapshot to subscribers.
type Transcript struct {
	mu sync.Mutex

	turns []Turn

	// streamingID is the ID of the in-flight assistant turn, "" when idle.
	streamingID string
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	stream strings.Builder

	nextSub     int
	subscribers map[int]func([]Turn)
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{
		subscribers: make(map[int]func([]Turn)),
	}
}

// Subscribe registers fn to receive a snapshot after every mutation. The
// returned function removes the subscription.
//
// fn runs synchronously on the mutating goroutine and must not call back into
// the transcript.
func (t *Transcript) Subscribe(fn func([]Turn)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subscribers[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subscribers, id)
		t.mu.Unlock()
	}
}

// Append adds a finished turn to the end of the transcript.
func (t *Transcript) Append(turn Turn) {
	t.mu.Lock()
	t.turns = append(t.turns, turn)
	t.publishLocked()
}

// BeginStreaming appends turn and marks it as the in-flight assistant turn.
func (t *Transcript) BeginStreaming(turn Turn) error {
	t.mu.Lock()
	if t.streamingID != "" {
		t.mu.Unlock()
		return ErrAlreadyStreaming
	}
	t.streamingID = turn.ID
	t.stream.Reset()
	t.stream.WriteString(turn.Content)
	t.turns = append(t.turns, turn)
	t.publishLocked()
	return nil
}

// AppendDelta concatenates delta to the in-flight turn identified by id.
func (t *Transcript) AppendDelta(id, delta string) error {
	t.mu.Lock()
	if id == "" || id != t.streamingID {
		t.mu.Unlock()
		return ErrNotStreaming
	}
	if delta == "" {
		t.mu.Unlock()
		return nil
	}
	t.stream.WriteString(delta)
	if i := t.indexLocked(id); i >= 0 {
		t.turns[i].Content = t.stream.String()
	}
	t.publishLocked()
	return nil
}

// EndStreaming freezes the in-flight turn and returns its final state. The
// turn stays in the transcript.
func (t *Transcript) EndStreaming(id string) (Turn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id == "" || id != t.streamingID {
		return Turn{}, ErrNotStreaming
	}
	t.streamingID = ""
	t.stream.Reset()

	if i := t.indexLocked(id); i >= 0 {
		return t.turns[i], nil
	}
	return Turn{}, ErrNotStreaming
}

// Streaming reports whether an assistant turn is in flight.
func (t *Transcript) Streaming() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streamingID != ""
}

// Remove deletes the turn with the given ID. It reports whether a turn was
// removed. Removing the in-flight turn also ends streaming.
func (t *Transcript) Remove(id string) bool {
	t.mu.Lock()
	i := t.indexLocked(id)
	if i < 0 {
		t.mu.Unlock()
		return false
	}
	t.turns = append(t.turns[:i], t.turns[i+1:]...)
	if id == t.streamingID {
		t.streamingID = ""
		t.stream.Reset()
	}
	t.publishLocked()
	return true
}

// Replace swaps the whole transcript for turns. Used for history hydration.
func (t *Transcript) Replace(turns []Turn) {
	t.mu.Lock()
	t.turns = append([]Turn(nil), turns...)
	t.streamingID = ""
	t.stream.Reset()
	t.publishLocked()
}

// Reset empties the transcript.
func (t *Transcript) Reset() {
	t.Replace(nil)
}

// Snapshot returns a copy of the turns in conversation order.
func (t *Transcript) Snapshot() []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns)
}

// Last returns the most recent turn.
func (t *Transcript) Last() (Turn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.turns) == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

// Get returns the turn with the given ID.
func (t *Transcript) Get(id string) (Turn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexLocked(id); i >= 0 {
		return t.turns[i], true
	}
	return Turn{}, false
}

// Messages returns the role/content pairs of every turn, oldest first.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, 0, len(t.turns))
	for _, turn := range t.turns {
		out = append(out, turn.Message())
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func (t *Transcript) indexLocked(id string) int {
	// Search from the end: the in-flight turn is almost always last.
	for i := len(t.turns) - 1; i >= 0; i-- {
		if t.turns[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Transcript) snapshotLocked() []Turn {
	return append([]Turn(nil), t.turns...)
}

// publishLocked releases the lock and notifies subscribers with a snapshot
// taken while still holding it.
func (t *Transcript) publishLocked() {
	snap := t.snapshotLocked()
	subs := make([]func([]Turn), 0, len(t.subscribers))
	for _, fn := range t.subscribers {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
