// Package tui renders the terminal-facing pieces of the CLI: the banner and
// the final markdown report.
package tui

import (
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// Interactive reports whether stdout is a terminal.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// NewRenderer returns a function that renders markdown using glamour.
// Outside a terminal, or if glamour cannot initialize, the markdown passes
// through unchanged.
func NewRenderer() func(string) (string, error) {
	if !Interactive() {
		return passthrough
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
	)
	if err != nil {
		return passthrough
	}
	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

func passthrough(markdown string) (string, error) {
	return markdown, nil
}
