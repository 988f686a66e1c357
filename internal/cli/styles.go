// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Centralized styling for all innerguide CLI commands.
//
// Color handling:
// - Colors are automatically disabled for non-TTY output (piped, redirected)
// - Respects NO_COLOR environment variable (https://no-color.org/)
// - Supports FORCE_COLOR environment variable to override detection

package cli

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// styles holds the lipgloss styles bound to one output stream.
type styles struct {
	Title     lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Dim       lipgloss.Style
	Separator lipgloss.Style
	Prompt    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
}

// newStyles creates styles rendered for w. On a non-terminal every style
// renders plain text.
func newStyles(w io.Writer) *styles {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(colorProfile(w))

	return &styles{
		// Color: Cyan (#39)
		Title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		// Color: Light gray (#245)
		Label: r.NewStyle().Foreground(lipgloss.Color("245")).Width(12),
		// Color: Off-white (#252)
		Value: r.NewStyle().Foreground(lipgloss.Color("252")),
		// Color: Green (#42)
		Success: r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		// Color: Red (#196)
		Error: r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		// Color: Yellow/Orange (#214)
		Warning: r.NewStyle().Foreground(lipgloss.Color("214")),
		// Color: Dim gray (#242)
		Dim: r.NewStyle().Foreground(lipgloss.Color("242")),
		// Color: Dark gray (#240)
		Separator: r.NewStyle().Foreground(lipgloss.Color("240")),
		// Color: Bright green (#82)
		Prompt:    r.NewStyle().Foreground(lipgloss.Color("82")).Bold(true),
		User:      r.NewStyle().Foreground(lipgloss.Color("75")).Bold(true),
		Assistant: r.NewStyle().Foreground(lipgloss.Color("212")).Bold(true),
	}
}

// separator renders a horizontal rule of width cells.
func (s *styles) separator(width int) string {
	if width <= 0 {
		width = 30
	}
	return s.Separator.Render(strings.Repeat("─", width))
}

// label renders a fixed-width field label.
func (s *styles) label(text string) string {
	return s.Label.Render(text)
}
