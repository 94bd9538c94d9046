package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const callbackPath = "/callback"

// FederatedFlow runs a browser sign-in that reports back to a loopback
// HTTP listener. The sign-in page is expected to redirect to
// redirect_uri with state and either id_token or error.
type FederatedFlow struct {
	SignInURL string
	// CallbackAddr is the loopback listen address, e.g. 127.0.0.1:8765.
	CallbackAddr string
	// BrowserCommand opens a URL, e.g. "xdg-open". Empty means no popup is
	// possible.
	BrowserCommand string
	Log            *zap.Logger
}

type callbackResult struct {
	token string
	err   error
}

// Run waits for the callback and returns the ID token it carried.
func (f *FederatedFlow) Run(ctx context.Context, mode FlowMode, onRedirect func(string)) (string, error) {
	log := f.Log
	if log == nil {
		log = zap.NewNop()
	}
	if mode == ModePopup && strings.TrimSpace(f.BrowserCommand) == "" {
		return "", ErrPopupBlocked
	}

	ln, err := net.Listen("tcp", f.CallbackAddr)
	if err != nil {
		return "", fmt.Errorf("listen for sign-in callback: %w", err)
	}

	state := uuid.NewString()
	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		res := callbackResult{token: q.Get("id_token")}
		switch e := q.Get("error"); {
		case e == "unauthorized-domain" || e == "unauthorized-origin":
			res.err = ErrUnauthorizedOrigin
		case e != "":
			res.err = fmt.Errorf("sign-in failed: %s", e)
		case res.token == "":
			res.err = errors.New("sign-in callback without token")
		}
		if res.err != nil {
			fmt.Fprintln(w, "Sign-in failed. You can close this window.")
		} else {
			fmt.Fprintln(w, "Signed in. You can close this window.")
		}
		select {
		case results <- res:
		default:
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("sign-in callback server", zap.Error(err))
		}
	}()
	defer srv.Close()

	signIn, err := f.signInURL(ln.Addr().String(), state)
	if err != nil {
		return "", err
	}

	switch mode {
	case ModePopup:
		if err := openBrowser(f.BrowserCommand, signIn); err != nil {
			log.Info("popup unavailable", zap.Error(err))
			return "", ErrPopupBlocked
		}
	case ModeRedirect:
		if onRedirect != nil {
			onRedirect(signIn)
		}
	}
	log.Info("waiting for sign-in callback", zap.String("mode", mode.String()), zap.String("addr", ln.Addr().String()))

	select {
	case res := <-results:
		return res.token, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *FederatedFlow) signInURL(addr, state string) (string, error) {
	u, err := url.Parse(f.SignInURL)
	if err != nil {
		return "", fmt.Errorf("parse sign-in url: %w", err)
	}
	q := u.Query()
	q.Set("redirect_uri", "http://"+addr+callbackPath)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func openBrowser(command, target string) error {
	fields := strings.Fields(command)
	cmd := exec.Command(fields[0], append(fields[1:], target)...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
