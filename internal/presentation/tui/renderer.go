package tui

import (
	"fmt"

	"github.com/charmbracelet/glamour"
)

// RenderFunc turns Markdown into terminal output.
type RenderFunc func(markdown string) (string, error)

// NewRenderer returns a glamour renderer that picks a light or dark style
// from the terminal background and wraps at width columns (0 keeps the default).
func NewRenderer(width int) (RenderFunc, error) {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("markdown renderer: %w", err)
	}
	return r.Render, nil
}
