package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestViewBindingShadowsGlobal(t *testing.T) {
	r := NewRegistry()
	var got string
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'r', Handler: func() { got = "global" }})
	r.AddView("requests", &Action{Key: tcell.KeyRune, Rune: 'r', Handler: func() { got = "reject" }})

	ev := tcell.NewEventKey(tcell.KeyRune, 'r', tcell.ModNone)
	if !r.HandleEvent("requests", ev) || got != "reject" {
		t.Errorf("requests page: got %q, want reject", got)
	}
	if !r.HandleEvent("feed", ev) || got != "global" {
		t.Errorf("feed page: got %q, want global", got)
	}
	if r.HandleEvent("feed", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("unbound key handled")
	}
}

func TestSpecialKeyMatch(t *testing.T) {
	a := &Action{Key: tcell.KeyCtrlR}
	if !a.Matches(tcell.NewEventKey(tcell.KeyCtrlR, 0, tcell.ModCtrl)) {
		t.Error("Ctrl-R not matched")
	}
	if a.Matches(tcell.NewEventKey(tcell.KeyRune, 'r', tcell.ModNone)) {
		t.Error("rune matched a special-key action")
	}
}

func TestHintsOrderAndVisibility(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal(&Action{Label: "?", Description: "Help", Visible: true})
	r.AddGlobal(&Action{Label: "x", Description: "Hidden"})
	r.AddView("requests", &Action{Label: "a", Description: "Accept", Visible: true})
	r.AddView("requests", &Action{Label: "r", Description: "Reject", Visible: true})

	page, global := r.Hints("requests")
	if len(page) != 2 || page[0].Key != "a" || page[1].Key != "r" {
		t.Errorf("page hints = %+v", page)
	}
	if len(global) != 1 || global[0].Description != "Help" {
		t.Errorf("global hints = %+v", global)
	}
}
