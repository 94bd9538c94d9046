package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/matheus3301/criptx/internal/app"
	"github.com/matheus3301/criptx/internal/bus"
	"github.com/matheus3301/criptx/internal/chat"
	"github.com/matheus3301/criptx/internal/feed"
	"github.com/matheus3301/criptx/internal/handshake"
	"github.com/matheus3301/criptx/internal/identity"
	"github.com/matheus3301/criptx/internal/profile"
	"github.com/matheus3301/criptx/internal/status"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// snapshotTimeout bounds the wait for a first snapshot in feed and requests.
const snapshotTimeout = 5 * time.Second

// interruptible returns a context cancelled by Ctrl-C. Actions carry no
// deadline of their own.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

type command struct {
	usage   string
	help    string
	minArgs int
	run     func(c *core, args []string, out printer) error
}

var commandOrder = []string{"whoami", "login", "join", "bypass", "logout", "send", "request", "answer", "requests", "feed", "watch"}

var commands = map[string]command{
	"whoami":   {"", "Show the restored identity", 0, cmdWhoami},
	"login":    {"", "Sign in with the federated provider", 0, cmdLogin},
	"join":     {"<nickname>", "Join anonymously for 24 hours", 1, cmdJoin},
	"bypass":   {"", "Sign in as the developer (dev mode only)", 0, cmdBypass},
	"logout":   {"", "Sign out", 0, cmdLogout},
	"send":     {"<text>", "Post a message to the feed", 1, cmdSend},
	"request":  {"<uid|nickname>", "Send a chat request", 1, cmdRequest},
	"answer":   {"<id> accept|reject", "Answer a chat request", 2, cmdAnswer},
	"requests": {"", "List pending chat requests", 0, cmdRequests},
	"feed":     {"", "Print the latest messages", 0, cmdFeed},
	"watch":    {"", "Stream new messages until interrupted", 0, cmdWatch},
}

type identityOut struct {
	UID         string    `json:"uid"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Kind        string    `json:"kind"`
	IsAnonymous bool      `json:"isAnonymous"`
	ExpiresAt   time.Time `json:"expiresAt,omitzero"`
}

type messageOut struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	UID       string    `json:"uid"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type requestOut struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Nickname  string    `json:"fromNickname,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func cmdStatus(name string, out printer) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v := struct {
		Profile  string `json:"profile"`
		Running  bool   `json:"running"`
		SignedIn bool   `json:"signedIn"`
	}{Profile: name}

	st, err := app.Probe(ctx, profile.SocketPath(name))
	if err == nil {
		v.Running = true
		v.SignedIn = st == healthpb.HealthCheckResponse_SERVING
	}

	text := fmt.Sprintf("Profile: %s\nRunning: %v", v.Profile, v.Running)
	if v.Running {
		text += fmt.Sprintf("\nSigned in: %v", v.SignedIn)
	}
	out.emit(v, text)
}

func describe(c *core, id *identity.Identity) identityOut {
	o := identityOut{
		UID:         id.UID,
		Name:        id.Label(),
		Email:       id.Email,
		Kind:        string(c.client.Sessions().Kind()),
		IsAnonymous: id.IsAnonymous,
	}
	if id.IsAnonymous {
		o.ExpiresAt = id.ExpiresAt
	}
	return o
}

func printIdentity(c *core, id *identity.Identity, out printer) {
	o := describe(c, id)
	text := fmt.Sprintf("Signed in as %s (%s, %s)", o.Name, o.UID, o.Kind)
	if !o.ExpiresAt.IsZero() {
		text += fmt.Sprintf("\nExpires: %s", o.ExpiresAt.Local().Format(time.RFC1123))
	}
	out.emit(o, text)
}

func cmdWhoami(c *core, _ []string, out printer) error {
	id := c.client.Sessions().Current()
	if id == nil {
		return chat.ErrNotSignedIn
	}
	printIdentity(c, id, out)
	return nil
}

func cmdLogin(c *core, _ []string, out printer) error {
	// The user completes sign-in in a browser; only Ctrl-C ends the wait.
	ctx, stop := interruptible()
	defer stop()

	redirects, unsub := c.bus.Subscribe(bus.KindSessionRedirect, 4)
	defer unsub()
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case evt := <-redirects:
				if url, ok := evt.Payload.(string); ok {
					fmt.Fprintf(os.Stderr, "Open this URL to finish signing in:\n  %s\n", url)
				}
			case <-done:
				return
			}
		}
	}()

	id, err := c.client.Sessions().LoginFederated(ctx)
	if err != nil {
		return err
	}
	printIdentity(c, id, out)
	return nil
}

func cmdJoin(c *core, args []string, out printer) error {
	ctx, stop := interruptible()
	defer stop()
	id, err := c.client.Sessions().LoginAnonymous(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	printIdentity(c, id, out)
	return nil
}

func cmdBypass(c *core, _ []string, out printer) error {
	ctx, stop := interruptible()
	defer stop()
	id, err := c.client.Sessions().BypassAuth(ctx)
	if err != nil {
		return err
	}
	printIdentity(c, id, out)
	return nil
}

func cmdLogout(c *core, _ []string, out printer) error {
	ctx, stop := interruptible()
	defer stop()
	if err := c.client.Sessions().Logout(ctx); err != nil {
		return err
	}
	out.emit(map[string]bool{"signedOut": true}, "Signed out")
	return nil
}

func cmdSend(c *core, args []string, out printer) error {
	ctx, stop := interruptible()
	defer stop()
	text := strings.Join(args, " ")
	if err := c.client.Send(ctx, text); err != nil {
		return err
	}
	out.emit(map[string]string{"sent": text}, "Sent")
	return nil
}

func cmdRequest(c *core, args []string, out printer) error {
	ctx, stop := interruptible()
	defer stop()
	id, err := c.client.RequestContact(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	out.emit(map[string]string{"id": id}, "Chat request sent: "+id)
	return nil
}

func cmdAnswer(c *core, args []string, out printer) error {
	var accept bool
	switch args[1] {
	case "accept":
		accept = true
	case "reject":
	default:
		return fmt.Errorf("answer must be accept or reject, got %q", args[1])
	}

	ctx, stop := interruptible()
	defer stop()
	if err := c.client.Answer(ctx, args[0], accept); err != nil {
		return err
	}
	out.emit(map[string]any{"id": args[0], "accepted": accept}, fmt.Sprintf("Request %s %sed", args[0], args[1]))
	return nil
}

func cmdRequests(c *core, _ []string, out printer) error {
	if c.client.Sessions().State() != status.Authenticated {
		return chat.ErrNotSignedIn
	}
	pending := c.client.Pending()
	if evt, ok := c.await(bus.KindHandshakeUpdated, snapshotTimeout); ok {
		pending = evt.Payload.(handshake.Updated).Pending
	}

	list := make([]requestOut, 0, len(pending))
	var sb strings.Builder
	for _, r := range pending {
		list = append(list, requestOut{ID: r.ID, From: r.From, Nickname: r.FromNickname, CreatedAt: r.CreatedAt})
		from := r.FromNickname
		if from == "" {
			from = r.From
		}
		fmt.Fprintf(&sb, "%-22s %-20s %s\n", r.ID, from, r.CreatedAt.Local().Format(time.DateTime))
	}
	if len(pending) == 0 {
		sb.WriteString("No pending requests.")
	}
	out.emit(list, strings.TrimRight(sb.String(), "\n"))
	return nil
}

func formatMessage(m feed.Message) string {
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format(time.DateTime), m.DisplayName, m.Text)
}

func toOut(m feed.Message) messageOut {
	return messageOut{ID: m.ID, From: m.DisplayName, UID: m.UID, Text: m.Text, CreatedAt: m.CreatedAt}
}

func cmdFeed(c *core, _ []string, out printer) error {
	if c.client.Sessions().State() != status.Authenticated {
		return chat.ErrNotSignedIn
	}
	msgs := c.client.Messages()
	if evt, ok := c.await(bus.KindFeedUpdated, snapshotTimeout); ok {
		msgs = evt.Payload.(feed.Updated).Messages
	}

	list := make([]messageOut, 0, len(msgs))
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		list = append(list, toOut(m))
		lines = append(lines, formatMessage(m))
	}
	if len(lines) == 0 {
		lines = append(lines, "No messages yet.")
	}
	out.emit(list, strings.Join(lines, "\n"))
	return nil
}

func cmdWatch(c *core, _ []string, out printer) error {
	if c.client.Sessions().State() != status.Authenticated {
		return chat.ErrNotSignedIn
	}
	ctx, stop := interruptible()
	defer stop()

	seen := make(map[string]bool)
	for {
		select {
		case evt := <-c.feed:
			switch evt.Kind {
			case bus.KindFeedUpdated:
				for _, m := range evt.Payload.(feed.Updated).Messages {
					if seen[m.ID] {
						continue
					}
					seen[m.ID] = true
					out.emit(toOut(m), formatMessage(m))
				}
			case bus.KindFeedEnded:
				fmt.Fprintln(os.Stderr, "feed connection lost, reconnecting")
			case bus.KindSessionExpired:
				return fmt.Errorf("session expired")
			case bus.KindSessionStatus:
				if change, ok := evt.Payload.(status.StatusChange); ok && change.To != status.Authenticated {
					return chat.ErrNotSignedIn
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}
