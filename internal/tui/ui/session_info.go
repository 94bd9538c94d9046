package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// SessionData holds session information for display.
type SessionData struct {
	Profile  string
	User     string
	Kind     string
	State    string
	Expires  time.Time // zero unless the session is ephemeral
	Messages int
	Pending  int
}

// SessionInfo displays session metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
	now   func() time.Time
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
		now:      time.Now,
	}
}

// Update renders the session info.
func (si *SessionInfo) Update(data SessionData) {
	si.Clear()

	fg := Tag(si.theme.FgColor)
	val := Tag(si.theme.CounterColor)
	row := func(label, value string) {
		if value == "" {
			value = "-"
		}
		_, _ = fmt.Fprintf(si, "[%s::b]%-9s[-:-:-][%s]%s[-]\n", fg, label, val, tview.Escape(value))
	}

	row("Profile:", data.Profile)
	row("User:", data.User)
	row("Session:", data.Kind)
	row("Status:", data.State)
	expires := ""
	if !data.Expires.IsZero() {
		expires = FormatRemaining(data.Expires.Sub(si.now()))
	}
	row("Expires:", expires)
	row("Msgs:", fmt.Sprint(data.Messages))
	row("Requests:", fmt.Sprint(data.Pending))
}

// FormatRemaining renders a countdown such as "23h59m" or "4m".
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
