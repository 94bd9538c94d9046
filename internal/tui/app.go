// Package tui is the terminal front end: sign-in, the live feed with its
// composer and the chat request inbox, driven by bus events from the core.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/criptx/internal/bus"
	"github.com/matheus3301/criptx/internal/chat"
	"github.com/matheus3301/criptx/internal/feed"
	"github.com/matheus3301/criptx/internal/handshake"
	"github.com/matheus3301/criptx/internal/session"
	"github.com/matheus3301/criptx/internal/status"
	"github.com/matheus3301/criptx/internal/tui/keys"
	"github.com/matheus3301/criptx/internal/tui/ui"
	"github.com/matheus3301/criptx/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	pages    *ui.Pages
	body     *tview.Flex
	prompt   *ui.Prompt
	promptOn bool
	flash    *ui.FlashModel
	flashBar *ui.FlashBar
	menu     *ui.Menu
	info     *ui.SessionInfo
	registry *keys.Registry

	login    *views.LoginView
	redirect *views.RedirectView
	feed     *views.FeedView
	requests *views.RequestsView
	help     *views.HelpView

	client  *chat.Client
	bus     *bus.Bus
	profile string
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewApp creates the TUI application over a started chat client.
func NewApp(client *chat.Client, b *bus.Bus, profileName string, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:      tview.NewApplication(),
		theme:    theme,
		pages:    ui.NewPages(),
		prompt:   ui.NewPrompt(theme),
		flash:    ui.NewFlashModel(),
		flashBar: ui.NewFlashBar(theme),
		menu:     ui.NewMenu(theme),
		info:     ui.NewSessionInfo(theme),
		registry: keys.NewRegistry(),
		login:    views.NewLoginView(theme, client.Sessions().DevMode()),
		redirect: views.NewRedirectView(theme),
		feed:     views.NewFeedView(theme),
		requests: views.NewRequestsView(theme),
		help:     views.NewHelpView(theme),
		client:   client,
		bus:      b,
		profile:  profileName,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: ':', Label: ":",
		Description: "Command", Visible: true,
		Handler: a.showPrompt,
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: '?', Label: "?",
		Description: "Help", Visible: true,
		Handler: func() { a.pages.Push(a.help.Name()) },
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyCtrlR, Label: "Ctrl-R",
		Description: "Requests", Visible: true,
		Handler: a.showRequests,
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: 'q', Label: "q",
		Description: "Quit", Visible: true,
		Handler: a.app.Stop,
	})

	a.registry.AddView(a.feed.Name(), &keys.Action{
		Key: tcell.KeyRune, Rune: 'i',
		Handler: func() { a.app.SetFocus(a.feed.Composer()) },
	})
	a.registry.AddView(a.requests.Name(), &keys.Action{
		Key: tcell.KeyRune, Rune: 'a',
		Handler: func() { a.answerSelected(true) },
	})
	a.registry.AddView(a.requests.Name(), &keys.Action{
		Key: tcell.KeyRune, Rune: 'r',
		Handler: func() { a.answerSelected(false) },
	})
}

func (a *App) setupCallbacks() {
	mgr := a.client.Sessions()

	a.login.SetOnAnonymous(func(nickname string) {
		a.login.SetBusy("Joining...")
		a.async(func(ctx context.Context) error {
			_, err := mgr.LoginAnonymous(ctx, nickname)
			return err
		}, a.loginFailed)
	})
	a.login.SetOnFederated(func() {
		a.login.SetBusy("Opening sign-in...")
		a.async(func(ctx context.Context) error {
			_, err := mgr.LoginFederated(ctx)
			return err
		}, a.loginFailed)
	})
	a.login.SetOnBypass(func() {
		a.login.SetBusy("Signing in as developer...")
		a.async(func(ctx context.Context) error {
			_, err := mgr.BypassAuth(ctx)
			return err
		}, a.loginFailed)
	})

	a.feed.SetOnSend(func(text string) {
		go func() {
			err := a.client.Send(a.ctx, text)
			a.queue(func() {
				if err != nil {
					a.flash.Err(err)
					return
				}
				a.feed.ConfirmSent(text)
			})
		}()
	})

	a.prompt.SetOnSubmit(func(text string) {
		a.hidePrompt()
		a.runCommand(text)
	})
	a.prompt.SetOnCancel(a.hidePrompt)

	a.pages.SetOnChange(func(top ui.Component) {
		page, global := a.registry.Hints(top.Name())
		a.menu.Update(append(top.Hints(), page...), global)
		a.app.SetFocus(top.FocusTarget())
	})
}

func (a *App) setupLayout() {
	for _, c := range []ui.Component{a.login, a.redirect, a.feed, a.requests, a.help} {
		a.pages.Add(c)
	}

	header := tview.NewFlex().
		AddItem(a.info, 0, 2, false).
		AddItem(a.menu, 0, 2, false).
		AddItem(ui.NewLogo(a.theme), 20, 0, false)

	a.body = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 8, 0, false).
		AddItem(a.body, 0, 1, true).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(root, true)
	a.app.SetInputCapture(a.handleKey)
}

func (a *App) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	if a.promptOn {
		return ev
	}
	if ev.Key() == tcell.KeyCtrlC {
		a.app.Stop()
		return nil
	}

	focused := a.app.GetFocus()
	if ev.Key() == tcell.KeyEscape {
		if focused == a.feed.Composer() {
			a.app.SetFocus(a.feed.Messages())
			return nil
		}
		if a.pages.Pop() != "" {
			return nil
		}
		return ev
	}

	// Let text input widgets handle all keys normally.
	if _, ok := focused.(*tview.InputField); ok {
		return ev
	}

	if a.registry.HandleEvent(a.pages.Current(), ev) {
		return nil
	}
	return ev
}

func (a *App) showPrompt() {
	if a.promptOn {
		return
	}
	a.promptOn = true
	a.prompt.Activate()
	a.body.AddItem(a.prompt, 3, 0, true)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	if !a.promptOn {
		return
	}
	a.promptOn = false
	a.body.RemoveItem(a.prompt)
	if top := a.pages.Top(); top != nil {
		a.app.SetFocus(top.FocusTarget())
	}
}

func (a *App) signedIn() bool {
	return a.client.Sessions().State() == status.Authenticated
}

func (a *App) showRequests() {
	if !a.signedIn() {
		a.flash.Warn("Sign in to see chat requests")
		return
	}
	a.pages.Push(a.requests.Name())
}

func (a *App) runCommand(text string) {
	cmd := ParseCommand(text)
	switch cmd.Canonical() {
	case "quit":
		a.app.Stop()
	case "help":
		a.pages.Push(a.help.Name())
	case "requests":
		a.showRequests()
	case "feed":
		if a.signedIn() {
			a.pages.Reset(a.feed.Name())
		}
	case "logout":
		a.async(a.client.Sessions().Logout, a.flash.Err)
	case "request":
		target, err := cmd.RequireArg("uid|nickname")
		if err != nil {
			a.flash.Warn(err.Error())
			return
		}
		a.async(func(ctx context.Context) error {
			if _, err := a.client.RequestContact(ctx, target); err != nil {
				return err
			}
			a.queue(func() { a.flash.Info(fmt.Sprintf("Chat request sent to %s", target)) })
			return nil
		}, a.flash.Err)
	case "accept", "reject":
		id, err := cmd.RequireArg("id")
		if err != nil {
			a.flash.Warn(err.Error())
			return
		}
		a.answer(id, cmd.Canonical() == "accept")
	default:
		a.flash.Warn(fmt.Sprintf("Unknown command %q (try :help)", cmd.Name))
	}
}

func (a *App) answerSelected(accept bool) {
	req, ok := a.requests.Selected()
	if !ok {
		return
	}
	a.answer(req.ID, accept)
}

func (a *App) answer(id string, accept bool) {
	verb := "rejected"
	if accept {
		verb = "accepted"
	}
	a.async(func(ctx context.Context) error {
		if err := a.client.Answer(ctx, id, accept); err != nil {
			return err
		}
		a.queue(func() { a.flash.Info("Request " + verb) })
		return nil
	}, a.flash.Err)
}

func (a *App) loginFailed(err error) {
	a.login.SetIdle()
	switch {
	case errors.Is(err, session.ErrDevModeDisabled):
		a.flash.Warn("Developer bypass is only available in dev mode")
	case errors.Is(err, context.Canceled):
		// quitting
	default:
		a.flash.Err(err)
	}
}

// async runs fn off the UI goroutine and reports a failure through onErr on
// it. fn is cancelled when the TUI quits.
func (a *App) async(fn func(ctx context.Context) error, onErr func(error)) {
	go func() {
		if err := fn(a.ctx); err != nil {
			a.logger.Warn("action failed", zap.Error(err))
			a.queue(func() { onErr(err) })
		}
	}()
}

func (a *App) queue(fn func()) {
	if a.ctx.Err() != nil {
		return
	}
	a.app.QueueUpdateDraw(fn)
}

func (a *App) selfUID() string {
	if cur := a.client.Sessions().Current(); cur != nil {
		return cur.UID
	}
	return ""
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindSessionStatus:
		if change, ok := evt.Payload.(status.StatusChange); ok {
			a.applyState(change.To)
		}
	case bus.KindSessionRedirect:
		if url, ok := evt.Payload.(string); ok {
			a.redirect.ShowURL(url)
			a.pages.Push(a.redirect.Name())
		}
	case bus.KindSessionExpired:
		a.flash.Warn("Your anonymous session expired. Join again to keep chatting.")
	case bus.KindFeedUpdated:
		if up, ok := evt.Payload.(feed.Updated); ok {
			a.feed.Update(up.Messages, a.selfUID())
		}
	case bus.KindHandshakeUpdated:
		if up, ok := evt.Payload.(handshake.Updated); ok {
			if n := len(up.Pending); n > a.requests.Len() {
				a.flash.Info(fmt.Sprintf("New chat request from %s (Ctrl-R to review)", requester(up.Pending[n-1])))
			}
			a.requests.Update(up.Pending)
		}
	case bus.KindFeedEnded, bus.KindHandshakeEnded:
		a.flash.Warn("Connection to the chat lost. Reconnecting...")
	}
	a.refreshInfo()
}

func requester(r handshake.Request) string {
	if r.FromNickname != "" {
		return r.FromNickname
	}
	return r.From
}

func (a *App) applyState(st status.State) {
	switch st {
	case status.Unauthenticated:
		a.login.SetIdle()
		a.feed.Update(nil, "")
		a.requests.Update(nil)
		a.pages.Reset(a.login.Name())
	case status.Authenticating:
		a.login.SetBusy("Signing in...")
	case status.AwaitingRedirect:
		a.login.SetBusy("Waiting for browser sign-in...")
	case status.Authenticated:
		a.login.SetIdle()
		a.feed.Update(a.client.Messages(), a.selfUID())
		a.requests.Update(a.client.Pending())
		a.pages.Reset(a.feed.Name())
		if cur := a.client.Sessions().Current(); cur != nil {
			a.flash.Info("Signed in as " + strings.TrimSpace(cur.Label()))
		}
	}
}

func (a *App) refreshInfo() {
	mgr := a.client.Sessions()
	data := ui.SessionData{
		Profile:  a.profile,
		State:    string(mgr.State()),
		Kind:     string(mgr.Kind()),
		Messages: a.feed.Count(),
		Pending:  a.requests.Len(),
	}
	if cur := mgr.Current(); cur != nil {
		data.User = cur.Label()
		if cur.IsAnonymous {
			data.Expires = cur.ExpiresAt
		}
	}
	a.info.Update(data)
}

// Run starts the TUI and blocks until the user quits.
func (a *App) Run() error {
	events, unsub := a.bus.Subscribe("", 128)
	defer unsub()
	defer a.cancel()

	go func() {
		for {
			select {
			case evt := <-events:
				a.queue(func() { a.handleEvent(evt) })
			case msg := <-a.flash.Watch():
				a.queue(func() { a.flashBar.Update(&msg) })
			case <-a.ctx.Done():
				return
			}
		}
	}()

	// Expire flashes and keep the expiry countdown current.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.queue(func() {
					a.flashBar.Update(a.flash.Current())
					a.refreshInfo()
				})
			case <-a.ctx.Done():
				return
			}
		}
	}()

	a.applyState(a.client.Sessions().State())
	a.refreshInfo()
	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
