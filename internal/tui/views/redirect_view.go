package views

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/matheus3301/criptx/internal/tui/ui"
	"github.com/rivo/tview"
)

// RedirectView shows the sign-in URL of a redirect flow as a QR code and as
// text, for terminals where no browser window could be opened.
type RedirectView struct {
	*tview.TextView
	theme *ui.Theme
	url   string
}

// NewRedirectView creates a new redirect view.
func NewRedirectView(theme *ui.Theme) *RedirectView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Continue sign-in in your browser ")
	tv.SetTitleColor(theme.TitleColor)

	return &RedirectView{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (rv *RedirectView) Name() string { return "redirect" }

// FocusTarget implements Component.
func (rv *RedirectView) FocusTarget() tview.Primitive { return rv }

// Hints implements Component.
func (rv *RedirectView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Hide"},
	}
}

// URL returns the URL last shown.
func (rv *RedirectView) URL() string { return rv.url }

// ShowURL renders url as a QR code followed by the URL itself.
func (rv *RedirectView) ShowURL(url string) {
	rv.url = url
	rv.Clear()
	_, _ = fmt.Fprintf(rv, "\nThe sign-in window could not be opened. Scan the code or open:\n\n%s\n[%s]%s[-]\n\n[::d]Waiting for sign-in to complete...",
		renderQR(url), ui.Tag(rv.theme.CounterColor), tview.Escape(url))
}

// renderQR converts a string to a compact QR code using Unicode half-block
// characters, two bitmap rows per text line.
func renderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "(QR generation failed: " + err.Error() + ")\n"
	}

	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		for x := 0; x < cols; x++ {
			top := bitmap[y][x]
			bot := y+1 < rows && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
