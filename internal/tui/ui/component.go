package ui

import "github.com/rivo/tview"

// MenuHint describes a keyboard shortcut for display in the menu bar.
type MenuHint struct {
	Key         string
	Description string
}

// Component is a page of the TUI: a named primitive with its own key hints.
type Component interface {
	tview.Primitive
	Name() string
	Hints() []MenuHint
	// FocusTarget returns the primitive that takes focus when the page is
	// shown.
	FocusTarget() tview.Primitive
}
