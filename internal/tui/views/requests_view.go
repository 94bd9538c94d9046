package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/criptx/internal/handshake"
	"github.com/matheus3301/criptx/internal/tui/ui"
	"github.com/rivo/tview"
)

// RequestsView lists the pending chat requests addressed to the user.
type RequestsView struct {
	*tview.Table
	theme    *ui.Theme
	requests []handshake.Request
	now      func() time.Time
}

// NewRequestsView creates a new request table.
func NewRequestsView(theme *ui.Theme) *RequestsView {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	rv := &RequestsView{
		Table: table,
		theme: theme,
		now:   time.Now,
	}
	rv.render()
	return rv
}

// Name implements Component.
func (rv *RequestsView) Name() string { return "requests" }

// FocusTarget implements Component.
func (rv *RequestsView) FocusTarget() tview.Primitive { return rv }

// Hints implements Component.
func (rv *RequestsView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "a", Description: "Accept"},
		{Key: "r", Description: "Reject"},
		{Key: "Esc", Description: "Back"},
	}
}

// Update replaces the listed requests.
func (rv *RequestsView) Update(reqs []handshake.Request) {
	rv.requests = reqs
	rv.render()
}

// Len returns the number of listed requests.
func (rv *RequestsView) Len() int { return len(rv.requests) }

func (rv *RequestsView) render() {
	rv.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" FROM", 1},
		{" REQUEST", 2},
		{" SENT", 0},
	}
	for col, h := range headers {
		rv.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(rv.theme.TableHeaderFg).
			SetBackgroundColor(rv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	now := rv.now()
	for i, r := range rv.requests {
		from := r.FromNickname
		if from == "" {
			from = r.From
		}
		row := i + 1
		rv.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(from))).SetExpansion(1).SetTextColor(rv.theme.FgColor))
		rv.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(r.ID)).SetExpansion(2).SetTextColor(rv.theme.FgColor))
		rv.SetCell(row, 2, tview.NewTableCell(formatTimestamp(r.CreatedAt, now)).SetTextColor(rv.theme.FgColor).SetAlign(tview.AlignRight))
	}

	rv.SetTitle(fmt.Sprintf(" Chat requests (%d) ", len(rv.requests)))
}

// Selected returns the request under the cursor.
func (rv *RequestsView) Selected() (handshake.Request, bool) {
	row, _ := rv.GetSelection()
	idx := row - 1 // account for header
	if idx < 0 || idx >= len(rv.requests) {
		return handshake.Request{}, false
	}
	return rv.requests[idx], true
}
