// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/innerguide/internal/cloud"
	"github.com/jeranaias/innerguide/internal/model"
	"github.com/jeranaias/innerguide/internal/storage"
)

// DefaultHistoryLimit is how many recent turns Hydrate loads.
const DefaultHistoryLimit = 50

// envelopeWarnTurns is the transcript length above which each request logs
// a warning. The full transcript is always sent; nothing is windowed.
const envelopeWarnTurns = 200

// =============================================================================
// STATE MACHINE
// =============================================================================

// State is the orchestrator's position in an exchange.
type State string

const (
	StateIdle      State = "Idle"
	StateSending   State = "Sending"
	StateStreaming State = "Streaming"
	StateFailed    State = "Failed"
)

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// validTransition reports whether from -> to is allowed.
// Idle -> Sending -> Streaming -> Idle, with Failed -> Idle on error.
func validTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateSending
	case StateSending:
		return to == StateStreaming || to == StateFailed
	case StateStreaming:
		return to == StateIdle || to == StateFailed
	case StateFailed:
		return to == StateIdle
	default:
		return false
	}
}

// =============================================================================
// TYPES
// =============================================================================

// Identity is the authenticated user a session acts for.
type Identity struct {
	// UserID keys persisted turns; empty disables persistence and hydration
	UserID string
	// Token is the bearer credential for the inference endpoint
	Token string
}

// StreamClient opens a streamed completion for a conversation.
// *cloud.Client implements it.
type StreamClient interface {
	Stream(ctx context.Context, token string, messages []cloud.ChatMessage) (io.ReadCloser, error)
}

// Options configures an Orchestrator.
type Options struct {
	// Transcript is the in-memory log; a new one is created when nil
	Transcript *model.Transcript
	Client     StreamClient
	// Gateway is optional; nil keeps the session in memory only
	Gateway  storage.Gateway
	Notifier Notifier
	Identity Identity

	// HistoryLimit caps Hydrate (default DefaultHistoryLimit)
	HistoryLimit int
	// PersistTimeout bounds each background write (default DefaultPersistTimeout)
	PersistTimeout time.Duration

	Logger zerolog.Logger

	// OnStateChange, when set, is called after every transition.
	OnStateChange func(from, to State)
}

// Result describes a completed send.
type Result struct {
	// User is the turn appended for the submitted text
	User model.Turn
	// Assistant is the final assistant turn; zero when the send failed
	Assistant model.Turn
	// Partial is true when the stream broke after content arrived.
	// The partial answer is kept and persisted.
	Partial bool
	// StreamErr is the swallowed mid-stream error when Partial is set
	StreamErr error
}

// Orchestrator drives one chat session: it appends turns to the transcript,
// streams the assistant answer and writes turns behind to the gateway.
type Orchestrator struct {
	transcript   *model.Transcript
	client       StreamClient
	gateway      storage.Gateway
	notifier     Notifier
	identity     Identity
	historyLimit int
	logger       zerolog.Logger
	onState      func(from, to State)
	writer       *writer

	// op admits one operation at a time; a second caller gets ErrBusy
	op sync.Mutex

	mu       sync.Mutex
	state    State
	hydrated bool
}

// New creates an orchestrator in the Idle state.
func New(opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, errors.New("chat: client is required")
	}
	if opts.Transcript == nil {
		opts.Transcript = model.NewTranscript()
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}

	logger := opts.Logger.With().Str("component", "chat").Logger()
	return &Orchestrator{
		transcript:   opts.Transcript,
		client:       opts.Client,
		gateway:      opts.Gateway,
		notifier:     opts.Notifier,
		identity:     opts.Identity,
		historyLimit: opts.HistoryLimit,
		logger:       logger,
		onState:      opts.OnStateChange,
		writer:       newWriter(opts.PersistTimeout, logger),
		state:        StateIdle,
	}, nil
}

// Transcript returns the session transcript.
func (o *Orchestrator) Transcript() *model.Transcript {
	return o.transcript
}

// Identity returns the identity the session acts for.
func (o *Orchestrator) Identity() Identity {
	return o.identity
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy reports whether a send is in flight.
func (o *Orchestrator) Busy() bool {
	return o.State() != StateIdle
}

// =============================================================================
// SEND
// =============================================================================

// SendMessage appends a user turn, streams the assistant answer into the
// transcript and returns once the stream ends.
//
// Classified failures are returned as *Error after being sent to the
// Notifier; the returned Result still carries the user turn. A stream that
// breaks after content arrived is not an error: the partial answer is kept
// and Result.Partial is set.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if !o.op.TryLock() {
		return nil, ErrBusy
	}
	defer o.op.Unlock()

	o.transition(StateSending)
	defer o.reset()

	user := model.NewUserTurn(text)
	o.transcript.Append(user)
	o.persistTurn(user)
	res := &Result{User: user}

	messages := o.envelope()
	o.logger.Info().Int("turns", len(messages)).Msg("sending message")

	start := time.Now()
	body, err := o.client.Stream(ctx, o.identity.Token, messages)
	if err != nil {
		return res, o.fail(classifyRequest(err))
	}
	defer body.Close()

	o.transition(StateStreaming)
	assistant := model.NewAssistantTurn()
	if err := o.transcript.BeginStreaming(assistant); err != nil {
		return res, o.fail(&Error{Kind: KindTransportError, Message: MsgGeneric, Err: err})
	}

	deltas := 0
	var streamErr error
	for delta, err := range cloud.Deltas(ctx, body) {
		if err != nil {
			streamErr = err
			break
		}
		if err := o.transcript.AppendDelta(assistant.ID, delta); err != nil {
			streamErr = err
			break
		}
		deltas++
	}

	final, err := o.transcript.EndStreaming(assistant.ID)
	if err != nil {
		// The turn is gone from the transcript; nothing to keep.
		final = assistant
		if streamErr == nil {
			streamErr = err
		}
	}

	if final.Content == "" {
		o.transcript.Remove(assistant.ID)
		if streamErr != nil {
			return res, o.fail(&Error{Kind: KindTransportError, Message: MsgGeneric, Err: streamErr})
		}
		return res, o.fail(&Error{Kind: KindStreamIncomplete, Message: MsgGeneric})
	}

	res.Assistant = final
	if streamErr != nil {
		res.Partial = true
		res.StreamErr = streamErr
		o.logger.Warn().Err(streamErr).Int("chars", len(final.Content)).Msg("stream broke, keeping partial answer")
	}
	o.persistTurn(final)

	o.logger.Debug().
		Int("deltas", deltas).
		Int("chars", len(final.Content)).
		Dur("took", time.Since(start)).
		Msg("stream complete")
	o.transition(StateIdle)
	return res, nil
}

// envelope converts the transcript into request messages, oldest first.
func (o *Orchestrator) envelope() []cloud.ChatMessage {
	msgs := o.transcript.Messages()
	if len(msgs) > envelopeWarnTurns {
		o.logger.Warn().Int("turns", len(msgs)).Msg("sending full transcript; request may exceed the model context")
	}
	out := make([]cloud.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = cloud.ChatMessage{Role: m.Role.String(), Content: m.Content}
	}
	return out
}

// classifyRequest maps a failed request to a failure kind.
func classifyRequest(err error) *Error {
	switch {
	case errors.Is(err, cloud.ErrRateLimited):
		return &Error{Kind: KindRateLimited, Message: MsgRateLimited, Err: err}
	case errors.Is(err, cloud.ErrQuotaExhausted):
		return &Error{Kind: KindQuotaExhausted, Message: MsgQuotaExhausted, Err: err}
	}

	var se *cloud.StatusError
	if errors.As(err, &se) {
		msg := se.Message
		if msg == "" {
			msg = MsgRequestFailed
		}
		return &Error{Kind: KindRequestFailed, Message: msg, Err: err}
	}
	return &Error{Kind: KindTransportError, Message: MsgGeneric, Err: err}
}

// fail moves to Failed and surfaces e.
func (o *Orchestrator) fail(e *Error) error {
	o.transition(StateFailed)
	o.logger.Warn().Err(e.Err).Str("kind", e.Kind.String()).Msg(e.Message)
	o.notifier.Notify(Notification{Level: levelFor(e.Kind), Kind: e.Kind, Message: e.Message})
	return e
}

// =============================================================================
// CLEAR AND HYDRATE
// =============================================================================

// ClearChat deletes the user's stored turns in the background and empties
// the transcript. The transcript is emptied even if the delete fails.
func (o *Orchestrator) ClearChat() error {
	if !o.op.TryLock() {
		return ErrBusy
	}
	defer o.op.Unlock()

	if o.persistent() {
		gw, uid := o.gateway, o.identity.UserID
		o.writer.submit("delete_all_turns", func(ctx context.Context) error {
			return gw.DeleteAllTurns(ctx, uid)
		})
	}
	o.transcript.Reset()
	o.logger.Info().Msg("chat cleared")
	return nil
}

// Hydrate loads the most recent turns into the transcript, oldest first.
// It runs once per session; later calls return 0. A failed read leaves the
// transcript untouched and is only logged.
func (o *Orchestrator) Hydrate(ctx context.Context) int {
	if !o.op.TryLock() {
		return 0
	}
	defer o.op.Unlock()

	o.mu.Lock()
	if o.hydrated {
		o.mu.Unlock()
		return 0
	}
	o.hydrated = true
	o.mu.Unlock()

	if !o.persistent() {
		return 0
	}

	turns, err := o.gateway.ListTurns(ctx, storage.Query{
		UserID: o.identity.UserID,
		Limit:  o.historyLimit,
		Order:  storage.Ascending,
	})
	if err != nil {
		o.logger.Warn().Err(err).Msg("history unavailable, starting a new session")
		return 0
	}
	if len(turns) == 0 {
		return 0
	}

	if existing := o.transcript.Snapshot(); len(existing) > 0 {
		turns = append(turns, existing...)
	}
	o.transcript.Replace(turns)
	o.logger.Debug().Int("turns", len(turns)).Msg("history loaded")
	return len(turns)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Wait blocks until all background writes submitted so far have finished.
func (o *Orchestrator) Wait() {
	o.writer.wait()
}

// Close waits for pending writes and rejects new ones. It does not close
// the gateway.
func (o *Orchestrator) Close() error {
	o.writer.stop()
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (o *Orchestrator) persistent() bool {
	return o.gateway != nil && strings.TrimSpace(o.identity.UserID) != ""
}

// persistTurn writes turn behind. The transcript never waits for it.
func (o *Orchestrator) persistTurn(turn model.Turn) {
	if !o.persistent() {
		return
	}
	gw, uid := o.gateway, o.identity.UserID
	o.writer.submit(fmt.Sprintf("insert_%s_turn", turn.Role), func(ctx context.Context) error {
		return gw.InsertTurn(ctx, uid, turn)
	})
}

// transition moves to state to. Invalid transitions are logged and ignored.
func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	if from == to {
		o.mu.Unlock()
		return
	}
	if !validTransition(from, to) {
		o.mu.Unlock()
		o.logger.Error().Str("from", from.String()).Str("to", to.String()).Msg("invalid state transition")
		return
	}
	o.state = to
	cb := o.onState
	o.mu.Unlock()

	o.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state")
	if cb != nil {
		cb(from, to)
	}
}

// reset returns to Idle from wherever the exchange ended.
func (o *Orchestrator) reset() {
	switch o.State() {
	case StateIdle:
	case StateSending:
		// Only reachable on a panic between states; force Idle.
		o.mu.Lock()
		o.state = StateIdle
		o.mu.Unlock()
	default:
		o.transition(StateIdle)
	}
}
