package views

import (
	"fmt"

	"github.com/matheus3301/criptx/internal/tui/ui"
	"github.com/rivo/tview"
)

// LoginView is the sign-in page: federated sign-in, an anonymous join with a
// nickname, and the development bypass when it is enabled.
type LoginView struct {
	*tview.Flex
	theme    *ui.Theme
	form     *tview.Form
	nickname *tview.InputField
	status   *tview.TextView
	busy     bool

	onFederated func()
	onAnonymous func(nickname string)
	onBypass    func()
}

// NewLoginView creates the login page. devMode adds the bypass button.
func NewLoginView(theme *ui.Theme, devMode bool) *LoginView {
	lv := &LoginView{theme: theme}

	lv.nickname = tview.NewInputField().
		SetLabel("Nickname ").
		SetFieldWidth(22).
		SetAcceptanceFunc(tview.InputFieldMaxLength(20))
	lv.nickname.SetFieldBackgroundColor(theme.BgColor)
	lv.nickname.SetFieldTextColor(theme.FgColor)
	lv.nickname.SetLabelColor(theme.MenuKeyColor)

	lv.form = tview.NewForm().
		AddFormItem(lv.nickname).
		AddButton("Join anonymously", func() {
			if !lv.busy && lv.onAnonymous != nil {
				lv.onAnonymous(lv.nickname.GetText())
			}
		}).
		AddButton("Sign in with Google", func() {
			if !lv.busy && lv.onFederated != nil {
				lv.onFederated()
			}
		})
	if devMode {
		lv.form.AddButton("Developer bypass", func() {
			if !lv.busy && lv.onBypass != nil {
				lv.onBypass()
			}
		})
	}
	lv.form.SetBorder(true)
	lv.form.SetBorderColor(theme.BorderColor)
	lv.form.SetBackgroundColor(theme.BgColor)
	lv.form.SetButtonBackgroundColor(theme.BorderColor)
	lv.form.SetTitle(" Sign in ")
	lv.form.SetTitleColor(theme.TitleColor)

	lv.status = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	lv.status.SetBackgroundColor(theme.BgColor)

	inner := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(lv.form, 9, 0, true).
		AddItem(lv.status, 2, 0, false)

	// Center the form horizontally and vertically.
	lv.Flex = tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(inner, 11, 0, true).
			AddItem(nil, 0, 1, false), 64, 0, true).
		AddItem(nil, 0, 1, false)
	lv.SetBackgroundColor(theme.BgColor)
	return lv
}

// Name implements Component.
func (lv *LoginView) Name() string { return "login" }

// FocusTarget implements Component.
func (lv *LoginView) FocusTarget() tview.Primitive { return lv.form }

// Hints implements Component.
func (lv *LoginView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Tab", Description: "Next field"},
		{Key: "Enter", Description: "Press button"},
	}
}

// SetOnFederated sets the callback for the federated sign-in button.
func (lv *LoginView) SetOnFederated(fn func()) { lv.onFederated = fn }

// SetOnAnonymous sets the callback for the anonymous join button.
func (lv *LoginView) SetOnAnonymous(fn func(nickname string)) { lv.onAnonymous = fn }

// SetOnBypass sets the callback for the bypass button.
func (lv *LoginView) SetOnBypass(fn func()) { lv.onBypass = fn }

// Nickname returns the nickname as typed.
func (lv *LoginView) Nickname() string { return lv.nickname.GetText() }

// SetBusy shows msg and ignores button presses until SetIdle.
func (lv *LoginView) SetBusy(msg string) {
	lv.busy = true
	lv.status.Clear()
	_, _ = fmt.Fprintf(lv.status, "[%s]%s[-]", ui.Tag(lv.theme.CounterColor), tview.Escape(msg))
}

// SetIdle re-enables the buttons. The nickname is kept so a failed attempt
// can be retried.
func (lv *LoginView) SetIdle() {
	lv.busy = false
	lv.status.Clear()
}

// Busy reports whether a sign-in attempt is in flight.
func (lv *LoginView) Busy() bool { return lv.busy }
