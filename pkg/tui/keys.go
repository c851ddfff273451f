package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

type keyMap struct {
	Up, Down     key.Binding
	PgUp, PgDown key.Binding
	Follow       key.Binding
	Quit         key.Binding
}

var keys = keyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑↓", "browse")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↑↓", "browse")),
	PgUp:   key.NewBinding(key.WithKeys("pgup"), key.WithHelp("PgUp/Dn", "scroll")),
	PgDown: key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("PgUp/Dn", "scroll")),
	Follow: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "follow")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "cancel")),
}

// keyBarText renders the hints. Quitting cancels a running mission, so the
// label changes once it has finished.
func keyBarText(finished bool) string {
	hints := []key.Binding{keys.Up, keys.PgUp}
	if !finished {
		hints = append(hints, keys.Follow)
	}
	var parts []string
	for _, b := range hints {
		h := b.Help()
		parts = append(parts, keyStyle.Render(h.Key)+keyDescStyle.Render(":"+h.Desc))
	}
	quit := "cancel"
	if finished {
		quit = "quit"
	}
	parts = append(parts, keyStyle.Render("q")+keyDescStyle.Render(":"+quit))
	return strings.Join(parts, "  ")
}
