// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history.go - Stored conversation listing and deletion.

package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/innerguide/internal/storage"
	"github.com/jeranaias/innerguide/internal/util"
)

// =============================================================================
// HISTORY
// =============================================================================

type historyOptions struct {
	limit int
	full  bool
}

func newHistoryCommand(a *app) *cobra.Command {
	var opts historyOptions
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the saved conversation grouped by day",
		Args:  cobra.NoArgs,
		Example: `  innerguide history
  innerguide history --limit 10 --full`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runHistory(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "number of most recent messages (default history.limit)")
	cmd.Flags().BoolVar(&opts.full, "full", false, "print whole messages instead of one-line previews")
	return cmd
}

func (a *app) runHistory(ctx context.Context, opts historyOptions) error {
	if opts.limit < 0 {
		return &UsageError{Field: "--limit", Value: fmt.Sprint(opts.limit), Reason: "cannot be negative"}
	}
	limit := opts.limit
	if limit == 0 {
		limit = a.cfg.History.Limit
	}

	gw, err := a.openStore("history")
	if err != nil {
		return err
	}
	defer gw.Close()

	turns, err := gw.ListTurns(ctx, storage.Query{
		UserID: a.cfg.Session.UserID,
		Limit:  limit,
		Order:  storage.Ascending,
	})
	if err != nil {
		return newCommandError("history", "list messages", err)
	}

	s := a.out
	if len(turns) == 0 {
		fmt.Fprintln(a.stdout, s.Dim.Render("No saved messages."))
		return nil
	}

	r := &renderer{}
	if opts.full {
		r = newRenderer(a.cfg.UI, a.stdout)
	}
	width := terminalWidth(a.stdout) - 16
	now := time.Now()

	for _, group := range storage.GroupByDay(turns, time.Local) {
		fmt.Fprintln(a.stdout)
		fmt.Fprintln(a.stdout, s.Title.Render(group.Label(now)))
		fmt.Fprintln(a.stdout, s.separator(util.StringWidth(group.Label(now))))
		for _, t := range group.Turns {
			prefix := fmt.Sprintf("%s %s",
				s.Dim.Render(t.CreatedAt.In(time.Local).Format("15:04")),
				roleStyle(s, t.Role).Render(fmt.Sprintf("%-6s", t.Role.DisplayName()+":")))
			if !opts.full {
				fmt.Fprintf(a.stdout, "%s %s\n", prefix, util.Preview(t.Content, width))
				continue
			}
			fmt.Fprintln(a.stdout, prefix)
			fmt.Fprintln(a.stdout, strings.TrimRight(r.Render(t.Content), "\n"))
			fmt.Fprintln(a.stdout)
		}
	}
	fmt.Fprintln(a.stdout)
	return nil
}

// =============================================================================
// CLEAR
// =============================================================================

func newClearCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the saved conversation",
		Long: `Delete every saved message for the configured user.

This cannot be undone. Without --yes you are asked to confirm; when stdin is
not a terminal --yes is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runClear(cmd.Context(), yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (a *app) runClear(ctx context.Context, yes bool) error {
	gw, err := a.openStore("clear")
	if err != nil {
		return err
	}
	defer gw.Close()

	if !yes {
		ok, err := a.confirm("Delete all saved messages for " + a.cfg.Session.UserID + "?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(a.stdout, a.out.Dim.Render("Cancelled."))
			return nil
		}
	}

	if err := gw.DeleteAllTurns(ctx, a.cfg.Session.UserID); err != nil {
		return newCommandError("clear", "delete messages", err)
	}
	a.logger.Info().Str("user", a.cfg.Session.UserID).Msg("saved conversation deleted")
	fmt.Fprintln(a.stdout, a.out.Success.Render("Saved conversation deleted."))
	return nil
}

// confirm asks a yes/no question on stdin. Destructive commands run from a
// script must pass --yes instead.
func (a *app) confirm(question string) (bool, error) {
	if !isTerminal(a.stdin) {
		return false, &UsageError{Field: "confirmation", Reason: "stdin is not a terminal; pass --yes to confirm"}
	}
	fmt.Fprintf(a.stdout, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && answer == "" {
		return false, nil
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}
