// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/innerguide/internal/cloud"
	"github.com/jeranaias/innerguide/internal/model"
	"github.com/jeranaias/innerguide/internal/storage"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// fakeClient returns whatever open produces and records each request.
type fakeClient struct {
	mu       sync.Mutex
	tokens   []string
	requests [][]cloud.ChatMessage
	open     func(ctx context.Context) (io.ReadCloser, error)
}

func (f *fakeClient) Stream(ctx context.Context, token string, messages []cloud.ChatMessage) (io.ReadCloser, error) {
	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	f.requests = append(f.requests, messages)
	f.mu.Unlock()
	return f.open(ctx)
}

func bodyOf(r io.Reader) func(context.Context) (io.ReadCloser, error) {
	return func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(r), nil
	}
}

// recorder collects notifications.
type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

// failingGateway fails every write but still serves reads.
type failingGateway struct {
	*storage.MemoryGateway
	listErr error
}

func (g *failingGateway) InsertTurn(context.Context, string, model.Turn) error {
	return errors.New("disk full")
}

func (g *failingGateway) DeleteAllTurns(context.Context, string) error {
	return errors.New("connection refused")
}

func (g *failingGateway) ListTurns(ctx context.Context, q storage.Query) ([]model.Turn, error) {
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.MemoryGateway.ListTurns(ctx, q)
}

// harness wires an orchestrator against a client with a memory gateway.
type harness struct {
	orch        *Orchestrator
	gw          storage.Gateway
	notes       *recorder
	mu          sync.Mutex
	transitions []string
}

func newHarness(t *testing.T, client StreamClient, gw storage.Gateway) *harness {
	t.Helper()
	if gw == nil {
		gw = storage.NewMemoryGateway()
	}
	h := &harness{gw: gw, notes: &recorder{}}
	orch, err := New(Options{
		Client:   client,
		Gateway:  gw,
		Notifier: h.notes,
		Identity: Identity{UserID: "user-1", Token: "session-token"},
		Logger:   zerolog.Nop(),
		OnStateChange: func(from, to State) {
			h.mu.Lock()
			h.transitions = append(h.transitions, from.String()+"->"+to.String())
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { orch.Close() })
	h.orch = orch
	return h
}

func (h *harness) stored(t *testing.T) []model.Turn {
	t.Helper()
	h.orch.Wait()
	turns, err := h.gw.ListTurns(context.Background(), storage.Query{UserID: "user-1"})
	require.NoError(t, err)
	return turns
}

func (h *harness) states() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.transitions...)
}

// sseServer answers every request with status and body.
func sseServer(t *testing.T, status int, body string) *cloud.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return cloud.NewClient(cloud.Options{URL: server.URL, Logger: zerolog.Nop()})
}

func event(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

func roles(turns []model.Turn) []model.Role {
	out := make([]model.Role, len(turns))
	for i, t := range turns {
		out[i] = t.Role
	}
	return out
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSendMessage_Success(t *testing.T) {
	client := sseServer(t, http.StatusOK, ": ping\n\n"+event("Hi")+event(" there")+"data: [DONE]\n\n")
	h := newHarness(t, client, nil)

	res, err := h.orch.SendMessage(context.Background(), "  hello  ")
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.Equal(t, "hello", res.User.Content)
	assert.Equal(t, "Hi there", res.Assistant.Content)

	snap := h.orch.Transcript().Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "Hi there", snap[1].Content)
	assert.Equal(t, model.RoleAssistant, snap[1].Role)
	assert.Equal(t, StateIdle, h.orch.State())
	assert.Equal(t, []string{"Idle->Sending", "Sending->Streaming", "Streaming->Idle"}, h.states())
	assert.Empty(t, h.notes.all())

	stored := h.stored(t)
	assert.Equal(t, []model.Role{model.RoleUser, model.RoleAssistant}, roles(stored))
	assert.Equal(t, "Hi there", stored[1].Content)
}

func TestSendMessage_SendsFullTranscript(t *testing.T) {
	client := &fakeClient{open: func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(event("ok") + "data: [DONE]\n\n")), nil
	}}
	h := newHarness(t, client, nil)

	for _, text := range []string{"one", "two", "three"} {
		_, err := h.orch.SendMessage(context.Background(), text)
		require.NoError(t, err)
	}

	require.Len(t, client.requests, 3)
	last := client.requests[2]
	require.Len(t, last, 5)
	assert.Equal(t, cloud.ChatMessage{Role: "user", Content: "one"}, last[0])
	assert.Equal(t, cloud.ChatMessage{Role: "assistant", Content: "ok"}, last[1])
	assert.Equal(t, cloud.ChatMessage{Role: "user", Content: "three"}, last[4])
	assert.Equal(t, []string{"session-token", "session-token", "session-token"}, client.tokens)
}

func TestSendMessage_PublishesEveryDelta(t *testing.T) {
	client := &fakeClient{open: bodyOf(strings.NewReader(event("a") + event("b") + event("c") + "data: [DONE]\n\n"))}
	h := newHarness(t, client, nil)

	var mu sync.Mutex
	var seen []string
	unsubscribe := h.orch.Transcript().Subscribe(func(turns []model.Turn) {
		if last := turns[len(turns)-1]; last.Role == model.RoleAssistant {
			mu.Lock()
			seen = append(seen, last.Content)
			mu.Unlock()
		}
	})
	defer unsubscribe()

	_, err := h.orch.SendMessage(context.Background(), "go")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Subset(t, seen, []string{"", "a", "ab", "abc"})
}

func TestSendMessage_StatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		want     error
		wantMsg  string
		wantLvl  Level
		wantKind Kind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow"}`, ErrRateLimited, MsgRateLimited, LevelWarning, KindRateLimited},
		{"quota exhausted", http.StatusPaymentRequired, "", ErrQuotaExhausted, MsgQuotaExhausted, LevelWarning, KindQuotaExhausted},
		{"body message", http.StatusInternalServerError, `{"error":"model overloaded"}`, ErrRequestFailed, "model overloaded", LevelError, KindRequestFailed},
		{"generic message", http.StatusBadGateway, "<html>bad gateway</html>", ErrRequestFailed, MsgRequestFailed, LevelError, KindRequestFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, sseServer(t, tc.status, tc.body), nil)

			res, err := h.orch.SendMessage(context.Background(), "hello")
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.wantKind, KindOf(err))
			require.NotNil(t, res)

			// Exactly the user turn; no assistant turn was created.
			snap := h.orch.Transcript().Snapshot()
			require.Len(t, snap, 1)
			assert.Equal(t, "hello", snap[0].Content)

			notes := h.notes.all()
			require.Len(t, notes, 1)
			assert.Equal(t, tc.wantMsg, notes[0].Message)
			assert.Equal(t, tc.wantLvl, notes[0].Level)

			assert.Equal(t, StateIdle, h.orch.State())
			assert.Equal(t, []string{"Idle->Sending", "Sending->Failed", "Failed->Idle"}, h.states())

			// The user turn is still written behind.
			assert.Len(t, h.stored(t), 1)
		})
	}
}

func TestSendMessage_EmptyStream(t *testing.T) {
	h := newHarness(t, sseServer(t, http.StatusOK, ": keep-alive\n\ndata: [DONE]\n\n"), nil)

	_, err := h.orch.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrStreamIncomplete)

	snap := h.orch.Transcript().Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, model.RoleUser, snap[0].Role)
	assert.False(t, h.orch.Transcript().Streaming())

	notes := h.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, MsgGeneric, notes[0].Message)
	assert.Equal(t, []string{"Idle->Sending", "Sending->Streaming", "Streaming->Failed", "Failed->Idle"}, h.states())
	assert.Len(t, h.stored(t), 1)
}

func TestSendMessage_PartialAnswerKept(t *testing.T) {
	reset := errors.New("connection reset by peer")
	client := &fakeClient{open: bodyOf(io.MultiReader(
		strings.NewReader(event("Half an ")+event("answer")),
		iotest.ErrReader(reset),
	))}
	h := newHarness(t, client, nil)

	res, err := h.orch.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.ErrorIs(t, res.StreamErr, reset)
	assert.Equal(t, "Half an answer", res.Assistant.Content)
	assert.Empty(t, h.notes.all())

	stored := h.stored(t)
	require.Len(t, stored, 2)
	assert.Equal(t, "Half an answer", stored[1].Content)
	assert.Equal(t, StateIdle, h.orch.State())
}

func TestSendMessage_TransportErrorBeforeContent(t *testing.T) {
	client := &fakeClient{open: bodyOf(io.MultiReader(
		strings.NewReader(": ping\n\n"),
		iotest.ErrReader(io.ErrUnexpectedEOF),
	))}
	h := newHarness(t, client, nil)

	_, err := h.orch.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, 1, h.orch.Transcript().Len())
	require.Len(t, h.notes.all(), 1)
}

func TestSendMessage_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	h := newHarness(t, cloud.NewClient(cloud.Options{URL: url}), nil)
	_, err := h.orch.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, 1, h.orch.Transcript().Len())
}

func TestSendMessage_CanceledMidStream(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{open: func(ctx context.Context) (io.ReadCloser, error) {
		go func() {
			io.WriteString(pw, event("partial"))
			<-ctx.Done()
			pw.CloseWithError(ctx.Err())
		}()
		return pr, nil
	}}
	h := newHarness(t, client, nil)

	h.orch.Transcript().Subscribe(func(turns []model.Turn) {
		if last := turns[len(turns)-1]; last.Content == "partial" {
			cancel()
		}
	})

	res, err := h.orch.SendMessage(ctx, "hello")
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Equal(t, "partial", res.Assistant.Content)
}

func TestSendMessage_EmptyInput(t *testing.T) {
	h := newHarness(t, &fakeClient{}, nil)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := h.orch.SendMessage(context.Background(), text)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Equal(t, 0, h.orch.Transcript().Len())
	assert.Empty(t, h.states())
}

func TestSendMessage_BusyGuard(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	client := &fakeClient{open: func(context.Context) (io.ReadCloser, error) {
		close(started)
		<-release
		return io.NopCloser(strings.NewReader(event("done") + "data: [DONE]\n\n")), nil
	}}
	h := newHarness(t, client, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := h.orch.SendMessage(context.Background(), "first")
		errc <- err
	}()
	<-started

	assert.True(t, h.orch.Busy())
	_, err := h.orch.SendMessage(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, h.orch.ClearChat(), ErrBusy)

	close(release)
	require.NoError(t, <-errc)

	snap := h.orch.Transcript().Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "first", snap[0].Content)
	assert.Len(t, client.requests, 1)
}

func TestSendMessage_PersistenceFailureIgnored(t *testing.T) {
	client := &fakeClient{open: bodyOf(strings.NewReader(event("fine") + "data: [DONE]\n\n"))}
	h := newHarness(t, client, &failingGateway{MemoryGateway: storage.NewMemoryGateway()})

	res, err := h.orch.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "fine", res.Assistant.Content)
	h.orch.Wait()
	assert.Empty(t, h.notes.all())
}

func TestSendMessage_NoIdentitySkipsPersistence(t *testing.T) {
	gw := storage.NewMemoryGateway()
	orch, err := New(Options{
		Client:  &fakeClient{open: bodyOf(strings.NewReader(event("x") + "data: [DONE]\n\n"))},
		Gateway: gw,
	})
	require.NoError(t, err)

	_, err = orch.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	orch.Wait()

	assert.Equal(t, 0, orch.Hydrate(context.Background()))
	assert.Equal(t, 2, orch.Transcript().Len())
}

// =============================================================================
// CLEAR TESTS
// =============================================================================

func TestClearChat(t *testing.T) {
	client := &fakeClient{open: func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(event("reply") + "data: [DONE]\n\n")), nil
	}}
	h := newHarness(t, client, nil)

	_, err := h.orch.SendMessage(context.Background(), "before")
	require.NoError(t, err)
	require.NoError(t, h.orch.ClearChat())
	assert.Equal(t, 0, h.orch.Transcript().Len())

	// The delete runs before the next insert.
	_, err = h.orch.SendMessage(context.Background(), "after")
	require.NoError(t, err)

	stored := h.stored(t)
	require.Len(t, stored, 2)
	assert.Equal(t, "after", stored[0].Content)
}

func TestClearChat_DeleteFailureStillClears(t *testing.T) {
	client := &fakeClient{open: bodyOf(strings.NewReader(event("reply") + "data: [DONE]\n\n"))}
	h := newHarness(t, client, &failingGateway{MemoryGateway: storage.NewMemoryGateway()})

	_, err := h.orch.SendMessage(context.Background(), "hello")
	require.NoError(t, err)

	require.NoError(t, h.orch.ClearChat())
	h.orch.Wait()
	assert.Equal(t, 0, h.orch.Transcript().Len())
}

// =============================================================================
// HYDRATE TESTS
// =============================================================================

func seed(t *testing.T, gw storage.Gateway, n int) {
	t.Helper()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		turn := model.NewTurn(role, fmt.Sprintf("turn %02d", i))
		turn.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, gw.InsertTurn(context.Background(), "user-1", turn))
	}
}

func TestHydrate_MostRecentFifty(t *testing.T) {
	gw := storage.NewMemoryGateway()
	seed(t, gw, 60)
	h := newHarness(t, &fakeClient{}, gw)

	assert.Equal(t, 50, h.orch.Hydrate(context.Background()))

	snap := h.orch.Transcript().Snapshot()
	require.Len(t, snap, 50)
	assert.Equal(t, "turn 10", snap[0].Content)
	assert.Equal(t, "turn 59", snap[49].Content)
	for i := 1; i < len(snap); i++ {
		assert.True(t, snap[i-1].CreatedAt.Before(snap[i].CreatedAt))
	}

	// Once per session.
	assert.Equal(t, 0, h.orch.Hydrate(context.Background()))
	assert.Equal(t, 50, h.orch.Transcript().Len())
}

func TestHydrate_FailureLeavesTranscriptEmpty(t *testing.T) {
	gw := &failingGateway{MemoryGateway: storage.NewMemoryGateway(), listErr: errors.New("timeout")}
	h := newHarness(t, &fakeClient{}, gw)

	assert.Equal(t, 0, h.orch.Hydrate(context.Background()))
	assert.Equal(t, 0, h.orch.Transcript().Len())
	assert.Empty(t, h.notes.all())
}

func TestHydrate_CustomLimit(t *testing.T) {
	gw := storage.NewMemoryGateway()
	seed(t, gw, 10)
	orch, err := New(Options{
		Client:       &fakeClient{},
		Gateway:      gw,
		Identity:     Identity{UserID: "user-1"},
		HistoryLimit: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, orch.Hydrate(context.Background()))
	assert.Equal(t, "turn 06", orch.Transcript().Snapshot()[0].Content)
}

// =============================================================================
// STATE AND ERROR TESTS
// =============================================================================

func TestValidTransition(t *testing.T) {
	assert.True(t, validTransition(StateIdle, StateSending))
	assert.True(t, validTransition(StateSending, StateStreaming))
	assert.True(t, validTransition(StateStreaming, StateIdle))
	assert.True(t, validTransition(StateFailed, StateIdle))
	assert.False(t, validTransition(StateIdle, StateStreaming))
	assert.False(t, validTransition(StateFailed, StateSending))
	assert.False(t, validTransition(StateStreaming, StateSending))
}

func TestError_IsByKind(t *testing.T) {
	err := fmt.Errorf("send: %w", &Error{Kind: KindRequestFailed, Message: "custom"})
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, KindRequestFailed, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "custom")
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
