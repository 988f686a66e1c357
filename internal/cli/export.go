// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// export.go - Conversation export command.

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/innerguide/internal/export"
	"github.com/jeranaias/innerguide/internal/storage"
)

type exportOptions struct {
	format       string
	outDir       string
	title        string
	limit        int
	open         bool
	noTimestamps bool
}

func newExportCommand(a *app) *cobra.Command {
	var opts exportOptions
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the saved conversation to Markdown or JSON",
		Args:  cobra.NoArgs,
		Example: `  innerguide export
  innerguide export --format json --out ./exports
  innerguide export --limit 20 --open`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runExport(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", "md", "output format: md or json")
	f.StringVarP(&opts.outDir, "out", "o", ".", "output directory")
	f.StringVar(&opts.title, "title", "", "document title (default: first message)")
	f.IntVarP(&opts.limit, "limit", "n", 0, "only the most recent N messages (0 = all)")
	f.BoolVar(&opts.open, "open", false, "open the file after exporting")
	f.BoolVar(&opts.noTimestamps, "no-timestamps", false, "omit per-message timestamps")
	return cmd
}

func (a *app) runExport(ctx context.Context, opts exportOptions) error {
	if opts.limit < 0 {
		return &UsageError{Field: "--limit", Value: fmt.Sprint(opts.limit), Reason: "cannot be negative"}
	}

	exportOpts := export.DefaultOptions()
	exportOpts.OutputDir = opts.outDir
	exportOpts.OpenAfterExport = opts.open
	exportOpts.IncludeTimestamps = !opts.noTimestamps

	exporter, err := export.ForFormat(opts.format, exportOpts)
	if err != nil {
		return &UsageError{Field: "--format", Value: opts.format, Reason: "must be md or json"}
	}

	gw, err := a.openStore("export")
	if err != nil {
		return err
	}
	defer gw.Close()

	turns, err := gw.ListTurns(ctx, storage.Query{
		UserID: a.cfg.Session.UserID,
		Limit:  opts.limit,
		Order:  storage.Ascending,
	})
	if err != nil {
		return newCommandError("export", "list messages", err)
	}
	if len(turns) == 0 {
		fmt.Fprintln(a.stdout, a.out.Dim.Render("No saved messages to export."))
		return nil
	}

	doc := export.NewDocument(opts.title, a.cfg.Session.UserID, turns)
	path, err := export.ExportToFile(doc, exporter, exportOpts)
	if err != nil {
		return newCommandError("export", "write file", err)
	}

	a.logger.Info().Str("path", path).Int("turns", len(turns)).Str("format", opts.format).Msg("conversation exported")
	fmt.Fprintf(a.stdout, "%s %s\n", a.out.Success.Render("Exported"), path)
	return nil
}
