// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// STREAMING: Chunk-boundary tolerant SSE decoding

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

const (
	// ReadChunkSize is the read size used by Deltas.
	ReadChunkSize = 4 * 1024

	// MaxBufferSize bounds text buffered while waiting for a line to complete.
	// SECURITY: prevents memory exhaustion from a stream that never sends '\n'.
	MaxBufferSize = 1024 * 1024

	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// ErrBufferOverflow is returned when more than MaxBufferSize bytes are
// buffered without producing a processable line.
var ErrBufferOverflow = errors.New("stream buffer exceeded maximum size")

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk is one event payload of an OpenAI-compatible streaming response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// lineKind classifies one line of the event stream.
type lineKind int

const (
	lineSkip lineKind = iota
	lineDelta
	lineDone
	lineIncomplete
)

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns the raw bytes of one streamed response into assistant text
// deltas. It buffers partial lines and partial UTF-8 sequences across chunk
// boundaries. A Decoder is single-use: create a new one per response.
type Decoder struct {
	text    transform.Transformer
	pending []byte // undecoded trailing bytes of an incomplete UTF-8 sequence
	buf     string // decoded text not yet consumed as lines
	done    bool
}

// NewDecoder creates a decoder for one response body.
func NewDecoder() *Decoder {
	return &Decoder{
		// UTF8BOM strips a leading byte order mark, like a browser TextDecoder.
		text: unicode.UTF8BOM.NewDecoder(),
	}
}

// Done reports whether the [DONE] sentinel has been seen. A finished decoder
// yields no further deltas.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed consumes the next chunk of the body and returns the deltas completed
// by it, in order.
func (d *Decoder) Feed(chunk []byte) ([]string, error) {
	if d.done {
		return nil, nil
	}
	text, err := d.decode(chunk, false)
	if err != nil {
		return nil, err
	}
	d.buf += text

	deltas := d.processLines(false)
	if len(d.buf) > MaxBufferSize {
		return deltas, ErrBufferOverflow
	}
	return deltas, nil
}

// Flush runs the end-of-input pass over whatever is still buffered. The last
// line of a stream may lack its trailing newline.
func (d *Decoder) Flush() ([]string, error) {
	if d.done {
		return nil, nil
	}
	text, err := d.decode(nil, true)
	if err != nil {
		return nil, err
	}
	d.buf += text
	return d.processLines(true), nil
}

// processLines extracts complete lines from the buffer and applies the line
// rules to each. In the final pass a trailing unterminated line is processed
// too, and lines that still fail to parse are dropped instead of retried.
func (d *Decoder) processLines(final bool) []string {
	var deltas []string

	for !d.done {
		var line string
		idx := strings.IndexByte(d.buf, '\n')
		switch {
		case idx >= 0:
			line = d.buf[:idx]
			d.buf = d.buf[idx+1:]
		case final && d.buf != "":
			line = d.buf
			d.buf = ""
		default:
			return deltas
		}

		delta, kind := parseLine(line)
		switch kind {
		case lineDelta:
			deltas = append(deltas, delta)
		case lineDone:
			d.done = true
			d.buf = ""
		case lineIncomplete:
			if final {
				continue
			}
			// The event was split across network chunks: put it back and
			// wait for more bytes.
			d.buf = line + "\n" + d.buf
			return deltas
		}
	}
	return deltas
}

// parseLine applies the event-stream line rules to a single line.
func parseLine(line string) (string, lineKind) {
	line = strings.TrimSuffix(line, "\r")
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") {
		return "", lineSkip
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return "", lineSkip
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneSentinel {
		return "", lineDone
	}

	raw := []byte(payload)
	if !json.Valid(raw) {
		return "", lineIncomplete
	}

	var chunk StreamChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		// Well-formed JSON of an unexpected shape carries no text.
		return "", lineSkip
	}
	if content := chunk.GetContent(); content != "" {
		return content, lineDelta
	}
	return "", lineSkip
}

// decode converts raw bytes to text, holding back an incomplete trailing
// UTF-8 sequence until the next call. Invalid bytes become U+FFFD.
func (d *Decoder) decode(p []byte, atEOF bool) (string, error) {
	src := append(d.pending, p...)
	d.pending = nil
	if len(src) == 0 {
		return "", nil
	}

	var out strings.Builder
	dst := make([]byte, len(src)+utf8.UTFMax)
	for {
		nDst, nSrc, err := d.text.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
			return out.String(), nil
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, 2*len(dst))
			}
		case errors.Is(err, transform.ErrShortSrc):
			d.pending = append([]byte(nil), src...)
			return out.String(), nil
		default:
			return out.String(), err
		}
	}
}

// =============================================================================
// LAZY DELTA SEQUENCE
// =============================================================================

// Deltas reads body chunk by chunk and yields each assistant text delta. The
// sequence ends after the [DONE] sentinel, at end of input (after the final
// flush), or with a single non-nil error.
func Deltas(ctx context.Context, body io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		dec := NewDecoder()
		buf := make([]byte, ReadChunkSize)

		emit := func(deltas []string) bool {
			for _, delta := range deltas {
				if !yield(delta, nil) {
					return false
				}
			}
			return true
		}

		for {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			n, readErr := body.Read(buf)
			if n > 0 {
				deltas, err := dec.Feed(buf[:n])
				if !emit(deltas) {
					return
				}
				if err != nil {
					yield("", err)
					return
				}
				if dec.Done() {
					return
				}
			}

			if errors.Is(readErr, io.EOF) {
				deltas, err := dec.Flush()
				if !emit(deltas) {
					return
				}
				if err != nil {
					yield("", err)
				}
				return
			}
			if readErr != nil {
				yield("", readErr)
				return
			}
		}
	}
}
