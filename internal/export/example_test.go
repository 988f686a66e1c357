// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export_test

import (
	"fmt"
	"os"

	"github.com/jeranaias/innerguide/internal/export"
	"github.com/jeranaias/innerguide/internal/model"
)

// ExampleExportToFile demonstrates exporting a transcript to Markdown.
func ExampleExportToFile() {
	turns := []model.Turn{
		model.NewUserTurn("I keep putting off hard conversations. Why?"),
		model.NewTurn(model.RoleAssistant, "Avoidance usually protects something. What do you fear will happen?"),
	}

	dir, err := os.MkdirTemp("", "innerguide-export")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer os.RemoveAll(dir)

	opts := export.DefaultOptions()
	opts.OutputDir = dir

	exp, _ := export.ForFormat("markdown", opts)
	if _, err := export.ExportToFile(export.NewDocument("", "", turns), exp, opts); err != nil {
		fmt.Printf("Export failed: %v\n", err)
		return
	}
	fmt.Println("exported")
	// Output: exported
}
