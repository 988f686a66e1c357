// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat session.
//
// USABILITY: Markdown rendering and history for better CLI experience
//
// Commands:
//
//	/help, /h           Show available commands
//	/clear, /c          Clear the conversation (also deletes saved messages)
//	/history            Show the conversation so far
//	/quit, /q, /exit    Exit chat
//
// Ctrl+C cancels the answer being generated; Ctrl+D exits.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/innerguide/internal/chat"
	"github.com/jeranaias/innerguide/internal/config"
	"github.com/jeranaias/innerguide/internal/logging"
	"github.com/jeranaias/innerguide/internal/model"
	"github.com/jeranaias/innerguide/internal/util"
)

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of user input per call.
type lineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// ChatCLI provides input history and line editing for interactive chat.
// USABILITY: Supports arrow keys for history navigation and line editing.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI whose input history lives in dir.
func NewChatCLI(dir string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	if dir == "" {
		dir = os.TempDir()
	}
	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(dir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history with secure permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	// SECURITY: input history holds message text; owner read/write only
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// plainReader reads lines from a non-terminal stream. The prompt is written
// to w so transcripts of piped sessions stay readable.
type plainReader struct {
	scanner *bufio.Scanner
	w       io.Writer
}

func newPlainReader(r io.Reader, w io.Writer) *plainReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &plainReader{scanner: s, w: w}
}

func (p *plainReader) ReadInput(prompt string) (string, error) {
	fmt.Fprint(p.w, prompt)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return p.scanner.Text(), nil
}

func (p *plainReader) Close() {}

// newLineReader uses liner on a terminal and a plain scanner otherwise.
func (a *app) newLineReader() lineReader {
	if isTerminal(a.stdin) && isTerminal(a.stdout) {
		dir, err := config.ConfigDir()
		if err != nil {
			dir = ""
		}
		return NewChatCLI(dir)
	}
	return newPlainReader(a.stdin, a.stdout)
}

// =============================================================================
// COMMAND
// =============================================================================

type chatOptions struct {
	fresh   bool
	noWatch bool
}

func (o *chatOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.fresh, "fresh", false, "start without loading earlier messages")
	cmd.Flags().BoolVar(&o.noWatch, "no-watch", false, "do not reload the config file when it changes")
}

func newChatCommand(a *app) *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session.

The most recent messages are loaded first so you can pick up where you left
off. Type /help inside the session for commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runChat(cmd.Context(), opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

// =============================================================================
// SESSION LOOP
// =============================================================================

// chatSession is one running REPL.
type chatSession struct {
	app      *app
	sess     *session
	printer  *streamPrinter
	renderer atomic.Pointer[renderer]
	sent     int
}

// runChat runs the REPL and, unless disabled, a config watcher that applies
// log level and UI changes while the session is open.
func (a *app) runChat(ctx context.Context, opts chatOptions) error {
	transcript := model.NewTranscript()
	sess, err := a.openSession(transcript)
	if err != nil {
		return err
	}
	defer sess.Close()

	cs := &chatSession{app: a, sess: sess, printer: newStreamPrinter(a.stdout)}
	cs.renderer.Store(newRenderer(a.cfg.UI, a.stdout))
	unsubscribe := transcript.Subscribe(cs.printer.onTranscript)
	defer unsubscribe()

	loaded := 0
	if !opts.fresh && !a.ephemeral {
		loaded = sess.orch.Hydrate(ctx)
	}
	cs.printWelcome(loaded)

	g, gctx := errgroup.WithContext(ctx)
	replCtx, stopWatch := context.WithCancel(gctx)

	if !opts.noWatch && !a.ephemeral {
		g.Go(func() error {
			cs.watchConfig(replCtx)
			return nil
		})
	}
	g.Go(func() error {
		defer stopWatch()
		return cs.repl(replCtx)
	})
	return g.Wait()
}

// watchConfig reloads the config file on change. Failures to watch are
// logged; the chat keeps running with the config it started with.
func (cs *chatSession) watchConfig(ctx context.Context) {
	a := cs.app
	path, err := a.resolvedConfigPath()
	if err != nil {
		a.logger.Debug().Err(err).Msg("config watch disabled")
		return
	}
	err = config.Watch(ctx, path, config.DefaultWatchDebounce, func(cfg *config.Config, err error) {
		if err != nil {
			a.logger.Warn().Err(err).Msg("config reload failed, keeping current settings")
			return
		}
		level := cfg.Log.Level
		if a.logLevel != "" {
			level = a.logLevel
		}
		if err := logging.SetLevel(level); err != nil {
			a.logger.Warn().Err(err).Msg("invalid log level in reloaded config")
		}
		cs.renderer.Store(newRenderer(cfg.UI, a.stdout))
		a.logger.Info().Str("path", path).Msg("config reloaded")
	})
	if err != nil {
		a.logger.Debug().Err(err).Msg("config watch stopped")
	}
}

// repl reads input until the user quits, input ends or ctx is cancelled.
func (cs *chatSession) repl(ctx context.Context) error {
	a := cs.app
	in := a.newLineReader()
	defer in.Close()

	prompt := a.out.Prompt.Render("you> ")
	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := in.ReadInput(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				cs.printExitSummary()
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if !cs.handleSlashCommand(input) {
				cs.printExitSummary()
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			cs.printExitSummary()
			return nil
		}

		cs.send(ctx, input)
	}
}

// send streams one answer. Ctrl+C cancels only this answer.
func (cs *chatSession) send(ctx context.Context, input string) {
	a := cs.app
	sendCtx, cancel := context.WithCancel(ctx)
	stop := onInterrupt(cancel)
	defer func() {
		stop()
		cancel()
	}()

	fmt.Fprintln(a.stdout)
	cs.printer.arm(lastTurnID(cs.sess.orch.Transcript()))
	res, err := cs.sess.orch.SendMessage(sendCtx, input)
	raw := cs.printer.disarm()
	cs.finishAnswer(raw, res)

	switch {
	case err == nil:
		cs.sent++
		if res.Partial {
			fmt.Fprintf(a.stderr, "%s %s\n", a.errOut.Warning.Render("[WARN]"), "The answer was cut off.")
		}
	case errors.Is(err, chat.ErrBusy):
		fmt.Fprintf(a.stderr, "%s %s\n", a.errOut.Warning.Render("[WARN]"), "Still answering the previous message.")
	default:
		// Classified failures were shown by the notifier.
		var ce *chat.Error
		if !errors.As(err, &ce) {
			displayError(a.stderr, a.errOut, err)
		}
		if sendCtx.Err() != nil && ctx.Err() == nil {
			fmt.Fprintln(a.stderr, a.errOut.Warning.Render("[Cancelled]"))
		}
	}
}

// finishAnswer replaces the streamed raw text with its rendered form when
// markdown rendering is on.
func (cs *chatSession) finishAnswer(raw string, res *chat.Result) {
	a := cs.app
	if raw == "" {
		return
	}
	r := cs.renderer.Load()
	if !r.enabled() || res == nil || res.Assistant.Content == "" {
		fmt.Fprintln(a.stdout)
		fmt.Fprintln(a.stdout)
		return
	}
	clearRows(a.stdout, rowsFor(raw, terminalWidth(a.stdout)))
	fmt.Fprint(a.stdout, r.Render(res.Assistant.Content))
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand runs cmd and reports whether the session continues.
func (cs *chatSession) handleSlashCommand(cmd string) bool {
	a := cs.app
	name := strings.ToLower(strings.Fields(cmd)[0])

	switch name {
	case "/quit", "/q", "/exit":
		return false

	case "/help", "/h", "/?":
		cs.printHelp()

	case "/clear", "/c":
		if err := cs.sess.orch.ClearChat(); err != nil {
			displayError(a.stderr, a.errOut, err)
			break
		}
		cs.sent = 0
		fmt.Fprintln(a.stdout, a.out.Success.Render("Conversation cleared."))

	case "/history":
		cs.printHistory()

	default:
		fmt.Fprintf(a.stderr, "%s unknown command %s (try /help)\n", a.errOut.Warning.Render("[WARN]"), name)
	}
	return true
}

// =============================================================================
// OUTPUT
// =============================================================================

func (cs *chatSession) printWelcome(loaded int) {
	a := cs.app
	s := a.out
	fmt.Fprintln(a.stdout)
	fmt.Fprintln(a.stdout, s.Title.Render("innerguide"))
	fmt.Fprintln(a.stdout, s.separator(30))

	user := a.cfg.Session.UserID
	switch {
	case a.ephemeral:
		fmt.Fprintf(a.stdout, "%s%s\n", s.label("Session:"), s.Warning.Render("ephemeral (not saved)"))
	case user == "":
		fmt.Fprintf(a.stdout, "%s%s\n", s.label("Session:"), s.Warning.Render("anonymous (not saved)"))
	default:
		fmt.Fprintf(a.stdout, "%s%s\n", s.label("User:"), s.Value.Render(user))
		fmt.Fprintf(a.stdout, "%s%s\n", s.label("Storage:"), s.Value.Render(storagePath(a.cfg.Storage)))
	}
	if loaded > 0 {
		fmt.Fprintf(a.stdout, "%s%s\n", s.label("History:"), s.Value.Render(fmt.Sprintf("%d earlier messages loaded", loaded)))
	}

	fmt.Fprintln(a.stdout)
	fmt.Fprintln(a.stdout, s.Dim.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(a.stdout)
}

func (cs *chatSession) printHelp() {
	a := cs.app
	s := a.out
	fmt.Fprintln(a.stdout)
	fmt.Fprintln(a.stdout, s.Title.Render("Available Commands"))
	fmt.Fprintln(a.stdout, s.separator(20))

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/clear, /c", "Clear the conversation and saved messages"},
		{"/history", "Show the conversation so far"},
		{"/quit, /q", "Exit chat"},
	}
	for _, c := range commands {
		fmt.Fprintf(a.stdout, "  %s  %s\n", s.Prompt.Render(fmt.Sprintf("%-12s", c.cmd)), s.Dim.Render(c.desc))
	}
	fmt.Fprintln(a.stdout)
	fmt.Fprintln(a.stdout, s.Dim.Render("Tip: Ctrl+C cancels the current answer, Ctrl+D exits"))
	fmt.Fprintln(a.stdout)
}

// printHistory prints the in-memory transcript with one preview line per turn.
func (cs *chatSession) printHistory() {
	a := cs.app
	s := a.out
	turns := cs.sess.orch.Transcript().Snapshot()
	if len(turns) == 0 {
		fmt.Fprintln(a.stdout, s.Dim.Render("No messages yet."))
		return
	}

	width := terminalWidth(a.stdout) - 16
	fmt.Fprintln(a.stdout)
	for _, t := range turns {
		fmt.Fprintf(a.stdout, "%s %s %s\n",
			s.Dim.Render(t.CreatedAt.Format("15:04")),
			roleStyle(s, t.Role).Render(fmt.Sprintf("%-6s", t.Role.DisplayName()+":")),
			util.Preview(t.Content, width))
	}
	fmt.Fprintln(a.stdout)
}

func (cs *chatSession) printExitSummary() {
	a := cs.app
	cs.sess.orch.Wait()
	fmt.Fprintln(a.stdout)
	if cs.sent > 0 {
		fmt.Fprintln(a.stdout, a.out.Dim.Render(fmt.Sprintf("%d messages this session. Take care.", cs.sent)))
		return
	}
	fmt.Fprintln(a.stdout, a.out.Dim.Render("Goodbye."))
}

func roleStyle(s *styles, r model.Role) lipgloss.Style {
	if r == model.RoleUser {
		return s.User
	}
	return s.Assistant
}
