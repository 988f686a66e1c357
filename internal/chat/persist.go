// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPersistTimeout bounds one background write.
const DefaultPersistTimeout = 10 * time.Second

// =============================================================================
// WRITE-BEHIND PERSISTENCE
// =============================================================================

// writer runs persistence jobs in the background, one after another in
// submission order. Submit never blocks the caller and job failures are
// logged only.
//
// Ordering matters: a clear followed by a new user turn must reach the
// gateway in that order or the new turn would be deleted.
type writer struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	tail    chan struct{} // closed when the last submitted job finishes
	wg      sync.WaitGroup
	stopped atomic.Bool
}

func newWriter(timeout time.Duration, logger zerolog.Logger) *writer {
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	return &writer{timeout: timeout, logger: logger}
}

// submit queues job. op names the job in logs.
func (w *writer) submit(op string, job func(ctx context.Context) error) {
	if w.stopped.Load() {
		w.logger.Warn().Str("op", op).Msg("persistence stopped, write dropped")
		return
	}

	w.mu.Lock()
	prev := w.tail
	done := make(chan struct{})
	w.tail = done
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}

		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		start := time.Now()
		if err := job(ctx); err != nil {
			w.logger.Warn().Err(err).Str("op", op).Msg("persistence write failed")
			return
		}
		w.logger.Debug().Str("op", op).Dur("took", time.Since(start)).Msg("persisted")
	}()
}

// wait blocks until every submitted job has finished.
func (w *writer) wait() {
	w.wg.Wait()
}

// stop rejects further jobs and waits for the pending ones.
func (w *writer) stop() {
	w.stopped.Store(true)
	w.wg.Wait()
}
