// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ROLE TESTS
// =============================================================================

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"user", RoleUser, false},
		{"assistant", RoleAssistant, false},
		{" Assistant ", RoleAssistant, false},
		{"system", "", true},
		{"", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseRole(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewTurn_UniqueIDs(t *testing.T) {
	a := NewUserTurn("hello")
	b := NewUserTurn("hello")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.CreatedAt.IsZero())
	assert.True(t, NewAssistantTurn().IsPlaceholder())
	assert.False(t, a.IsPlaceholder())
}

// =============================================================================
// TRANSCRIPT TESTS
// =============================================================================

func TestTranscript_AppendPreservesOrder(t *testing.T) {
	tr := NewTranscript()
	first := NewUserTurn("one")
	second := NewUserTurn("two")

	tr.Append(first)
	tr.Append(second)

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, first.ID, snap[0].ID)
	assert.Equal(t, second.ID, snap[1].ID)

	msgs := tr.Messages()
	assert.Equal(t, []Message{{RoleUser, "one"}, {RoleUser, "two"}}, msgs)
}

func TestTranscript_StreamingLifecycle(t *testing.T) {
	tr := NewTranscript()
	tr.Append(NewUserTurn("hi"))

	a := NewAssistantTurn()
	require.NoError(t, tr.BeginStreaming(a))
	assert.True(t, tr.Streaming())

	require.NoError(t, tr.AppendDelta(a.ID, "Hi"))
	require.NoError(t, tr.AppendDelta(a.ID, " there"))

	last, ok := tr.Last()
	require.True(t, ok)
	assert.Equal(t, "Hi there", last.Content)

	final, err := tr.EndStreaming(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", final.Content)
	assert.False(t, tr.Streaming())

	// Content is immutable once streaming ended.
	assert.ErrorIs(t, tr.AppendDelta(a.ID, "!"), ErrNotStreaming)
	got, _ := tr.Get(a.ID)
	assert.Equal(t, "Hi there", got.Content)
}

func TestTranscript_SingleInFlightTurn(t *testing.T) {
	tr := NewTranscript()
	require.NoError(t, tr.BeginStreaming(NewAssistantTurn()))
	assert.ErrorIs(t, tr.BeginStreaming(NewAssistantTurn()), ErrAlreadyStreaming)
	assert.Equal(t, 1, tr.Len())
}

func TestTranscript_DeltaToUnknownTurn(t *testing.T) {
	tr := NewTranscript()
	user := NewUserTurn("hello")
	tr.Append(user)

	assert.ErrorIs(t, tr.AppendDelta(user.ID, "x"), ErrNotStreaming)
	assert.ErrorIs(t, tr.AppendDelta("", "x"), ErrNotStreaming)
}

func TestTranscript_RemoveInFlight(t *testing.T) {
	tr := NewTranscript()
	tr.Append(NewUserTurn("hello"))
	a := NewAssistantTurn()
	require.NoError(t, tr.BeginStreaming(a))

	assert.True(t, tr.Remove(a.ID))
	assert.False(t, tr.Remove(a.ID))
	assert.False(t, tr.Streaming())
	assert.Equal(t, 1, tr.Len())
}

func TestTranscript_ReplaceAndReset(t *testing.T) {
	tr := NewTranscript()
	turns := []Turn{NewUserTurn("a"), NewTurn(RoleAssistant, "b")}
	tr.Replace(turns)

	// The transcript owns its copy.
	turns[0].Content = "mutated"
	snap := tr.Snapshot()
	assert.Equal(t, "a", snap[0].Content)

	tr.Reset()
	assert.Equal(t, 0, tr.Len())
	_, ok := tr.Last()
	assert.False(t, ok)
}

func TestTranscript_SubscribersSeeEveryMutation(t *testing.T) {
	tr := NewTranscript()

	var mu sync.Mutex
	var lens []int
	var lastContent []string
	unsubscribe := tr.Subscribe(func(turns []Turn) {
		mu.Lock()
		defer mu.Unlock()
		lens = append(lens, len(turns))
		if len(turns) > 0 {
			lastContent = append(lastContent, turns[len(turns)-1].Content)
		}
	})

	tr.Append(NewUserTurn("q"))
	a := NewAssistantTurn()
	require.NoError(t, tr.BeginStreaming(a))
	require.NoError(t, tr.AppendDelta(a.ID, "x"))
	require.NoError(t, tr.AppendDelta(a.ID, "y"))

	unsubscribe()
	tr.Reset()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 2, 2}, lens)
	assert.Equal(t, []string{"q", "", "x", "xy"}, lastContent)
}

func TestTranscript_ConcurrentReaders(t *testing.T) {
	tr := NewTranscript()
	a := NewAssistantTurn()
	require.NoError(t, tr.BeginStreaming(a))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Snapshot()
			_ = tr.Messages()
		}()
	}
	for i := 0; i < 100; i++ {
		require.NoError(t, tr.AppendDelta(a.ID, "."))
	}
	wg.Wait()

	got, _ := tr.Get(a.ID)
	assert.Len(t, got.Content, 100)
}
