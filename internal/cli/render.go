// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Markdown rendering and live delta printing.
//
// USABILITY: Markdown rendering for better CLI experience

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/innerguide/internal/config"
	"github.com/jeranaias/innerguide/internal/model"
)

// =============================================================================
// MARKDOWN RENDERER
// =============================================================================

// renderer renders finished answers as markdown. A nil renderer, or one
// without a term renderer, passes text through.
type renderer struct {
	tr *glamour.TermRenderer
}

// newRenderer builds a renderer for w. Markdown is only rendered when it is
// enabled in ui and w is a terminal.
func newRenderer(ui config.UIConfig, w io.Writer) *renderer {
	if !ui.Markdown || !isTerminal(w) {
		return &renderer{}
	}
	width := ui.Width
	if width <= 0 {
		width = terminalWidth(w) - 2
	}

	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	switch strings.ToLower(ui.Theme) {
	case "", "auto":
		opts = append(opts, glamour.WithAutoStyle())
	default:
		opts = append(opts, glamour.WithStandardStyle(strings.ToLower(ui.Theme)))
	}
	tr, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return &renderer{}
	}
	return &renderer{tr: tr}
}

// enabled reports whether Render changes its input.
func (r *renderer) enabled() bool {
	return r != nil && r.tr != nil
}

// Render returns text as styled terminal output, or text unchanged when
// rendering is disabled or fails.
func (r *renderer) Render(text string) string {
	if !r.enabled() {
		return text
	}
	out, err := r.tr.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter is a transcript subscriber that writes the in-flight
// assistant answer to w as deltas arrive.
//
// It only prints while armed, and never for the turn that was last in the
// transcript when it was armed, so hydration and clears stay silent.
type streamPrinter struct {
	w io.Writer

	mu      sync.Mutex
	armed   bool
	skipID  string
	id      string
	printed int
	raw     strings.Builder
}

func newStreamPrinter(w io.Writer) *streamPrinter {
	return &streamPrinter{w: w}
}

// arm starts printing assistant turns other than skipID.
func (p *streamPrinter) arm(skipID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armed = true
	p.skipID = skipID
	p.id = ""
	p.printed = 0
	p.raw.Reset()
}

// disarm stops printing and returns everything printed since arm.
func (p *streamPrinter) disarm() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armed = false
	out := p.raw.String()
	p.raw.Reset()
	return out
}

// onTranscript receives transcript snapshots.
func (p *streamPrinter) onTranscript(turns []model.Turn) {
	if len(turns) == 0 {
		return
	}
	last := turns[len(turns)-1]
	if last.Role != model.RoleAssistant {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.armed || last.ID == p.skipID {
		return
	}
	if last.ID != p.id {
		p.id = last.ID
		p.printed = 0
	}
	if len(last.Content) <= p.printed {
		return
	}
	delta := last.Content[p.printed:]
	p.printed = len(last.Content)
	p.raw.WriteString(delta)
	fmt.Fprint(p.w, delta)
}

// lastTurnID returns the ID of the newest turn in t, or "".
func lastTurnID(t *model.Transcript) string {
	if turn, ok := t.Last(); ok {
		return turn.ID
	}
	return ""
}
