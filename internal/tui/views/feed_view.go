package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/criptx/internal/feed"
	"github.com/matheus3301/criptx/internal/tui/ui"
	"github.com/rivo/tview"
)

// FeedView displays the global message feed and a composer.
type FeedView struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	count    int
	onSend   func(text string)
	now      func() time.Time
}

// NewFeedView creates a new feed view.
func NewFeedView(theme *ui.Theme) *FeedView {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Feed ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	fv := &FeedView{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
		now:      time.Now,
	}

	// The composer keeps its text until the send is confirmed; see
	// ConfirmSent.
	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || fv.onSend == nil {
			return
		}
		text := composer.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		fv.onSend(text)
	})

	return fv
}

// Name implements Component.
func (fv *FeedView) Name() string { return "feed" }

// FocusTarget implements Component.
func (fv *FeedView) FocusTarget() tview.Primitive { return fv.messages }

// Hints implements Component.
func (fv *FeedView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "Esc", Description: "Leave composer"},
	}
}

// SetOnSend sets the callback for a submitted non-blank composer line.
func (fv *FeedView) SetOnSend(fn func(text string)) {
	fv.onSend = fn
}

// ConfirmSent clears the composer if it still holds text.
func (fv *FeedView) ConfirmSent(text string) {
	if fv.composer.GetText() == text {
		fv.composer.SetText("")
	}
}

// Draft returns the composer text.
func (fv *FeedView) Draft() string { return fv.composer.GetText() }

// SetDraft replaces the composer text.
func (fv *FeedView) SetDraft(text string) { fv.composer.SetText(text) }

// Count returns the number of messages rendered.
func (fv *FeedView) Count() int { return fv.count }

// Update renders msgs, oldest first. Messages by selfUID are highlighted.
func (fv *FeedView) Update(msgs []feed.Message, selfUID string) {
	fv.messages.Clear()
	fv.count = len(msgs)
	fv.messages.SetTitle(fmt.Sprintf(" Feed (%d) ", len(msgs)))

	now := fv.now()
	self := ui.Tag(fv.theme.SelfColor)
	peer := ui.Tag(fv.theme.PeerColor)
	for _, m := range msgs {
		color := peer
		if m.UID == selfUID {
			color = self
		}
		name := m.DisplayName
		if name == "" {
			name = m.UID
		}
		_, _ = fmt.Fprintf(fv.messages, "[%s::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
			color, tview.Escape(sanitizeForTerminal(name)),
			formatTimestamp(m.CreatedAt, now),
			tview.Escape(sanitizeForTerminal(m.Text)))
	}

	fv.messages.ScrollToEnd()
}

// Messages returns the messages text view (for focus management).
func (fv *FeedView) Messages() *tview.TextView {
	return fv.messages
}

// Composer returns the composer input field (for focus management).
func (fv *FeedView) Composer() *tview.InputField {
	return fv.composer
}
