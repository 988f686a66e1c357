// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Single question command.
//
// The answer streams to stdout as it arrives. With markdown enabled on a
// terminal the raw stream is replaced by the rendered answer at the end.

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/innerguide/internal/model"
)

// maxStdinQuestion caps a question read from stdin.
const maxStdinQuestion = 1 << 20

type askOptions struct {
	fresh bool
	raw   bool
}

func newAskCommand(a *app) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask a single question",
		Long: `Ask a single question and print the answer.

The question continues the saved conversation unless --fresh is given.
With no arguments, or "-", the question is read from stdin.`,
		Example: `  innerguide ask "What helps with a racing mind at night?"
  echo "Summarise what we talked about" | innerguide ask
  innerguide ask --fresh --raw "Give me three journaling prompts"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := a.readQuestion(args)
			if err != nil {
				return err
			}
			return a.runAsk(cmd.Context(), question, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.fresh, "fresh", false, "do not send earlier messages as context")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print the answer without markdown rendering")
	return cmd
}

// readQuestion joins args, or reads stdin when there are none or the only
// argument is "-".
func (a *app) readQuestion(args []string) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		if isTerminal(a.stdin) {
			return "", &UsageError{Field: "question", Reason: "no question given", Example: `innerguide ask "How do I start?"`}
		}
		data, err := io.ReadAll(io.LimitReader(a.stdin, maxStdinQuestion))
		if err != nil {
			return "", newCommandError("ask", "read stdin", err)
		}
		args = []string{string(data)}
	}
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return "", &UsageError{Field: "question", Reason: "question is empty"}
	}
	return question, nil
}

// runAsk sends question and streams the answer to stdout.
func (a *app) runAsk(ctx context.Context, question string, opts askOptions) error {
	transcript := model.NewTranscript()
	sess, err := a.openSession(transcript)
	if err != nil {
		return err
	}
	defer sess.Close()

	if !opts.fresh {
		n := sess.orch.Hydrate(ctx)
		a.logger.Debug().Int("turns", n).Msg("context loaded")
	}

	printer := newStreamPrinter(a.stdout)
	unsubscribe := transcript.Subscribe(printer.onTranscript)
	defer unsubscribe()

	sendCtx, cancel := context.WithCancel(ctx)
	stop := onInterrupt(cancel)
	defer func() {
		stop()
		cancel()
	}()

	printer.arm(lastTurnID(transcript))
	res, err := sess.orch.SendMessage(sendCtx, question)
	raw := printer.disarm()

	if raw != "" {
		r := &renderer{}
		if !opts.raw {
			r = newRenderer(a.cfg.UI, a.stdout)
		}
		if r.enabled() && res != nil && res.Assistant.Content != "" {
			clearRows(a.stdout, rowsFor(raw, terminalWidth(a.stdout)))
			fmt.Fprint(a.stdout, r.Render(res.Assistant.Content))
		} else if !strings.HasSuffix(raw, "\n") {
			fmt.Fprintln(a.stdout)
		}
	}

	if err != nil {
		return err
	}
	if res.Partial {
		fmt.Fprintf(a.stderr, "%s %s\n", a.errOut.Warning.Render("[WARN]"), "The answer was cut off.")
	}

	// Wait for the turns to be written before the process exits.
	sess.orch.Wait()
	return nil
}
