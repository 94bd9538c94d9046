package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/criptx/internal/app"
	"github.com/matheus3301/criptx/internal/bus"
	"github.com/matheus3301/criptx/internal/chat"
	"github.com/matheus3301/criptx/internal/config"
	"github.com/matheus3301/criptx/internal/lock"
	"github.com/matheus3301/criptx/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	devFlag := flag.Bool("dev", false, "enable the developer bypass login")
	verbose := flag.Bool("v", false, "also log to stderr")
	flag.Parse()

	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		fatalf("load config: %v", err)
	}
	if *devFlag {
		cfg.DevMode = true
	}

	name := profile.Resolve(*profileFlag, cfg)
	if err := profile.ValidateName(name); err != nil {
		fatalf("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	out := printer{json: *jsonFlag}

	// status only probes a running client and never opens the profile.
	if args[0] == "status" {
		cmdStatus(name, out)
		return
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if len(args)-1 < cmd.minArgs {
		fmt.Fprintf(os.Stderr, "usage: criptxctl %s %s\n", args[0], cmd.usage)
		os.Exit(1)
	}

	c, err := open(app.Params{Profile: name, Config: cfg, Console: *verbose})
	if err != nil {
		var held *lock.LockHeldError
		if errors.As(err, &held) {
			fatalf("profile %q is open in PID %d; close that client first", name, held.PID)
		}
		fatalf("%v", err)
	}
	runErr := cmd.run(c, args[1:], out)
	c.close()
	if runErr != nil {
		fatalf("%v", runErr)
	}
}

// core is an in-process client started for a single command.
type core struct {
	fx     *fx.App
	client *chat.Client
	bus    *bus.Bus
	feed   <-chan bus.Event
	unsub  func()
}

func open(p app.Params) (*core, error) {
	c := &core{}
	c.fx = fx.New(app.Module(p), fx.NopLogger, fx.Populate(&c.client, &c.bus))
	if err := c.fx.Err(); err != nil {
		return nil, err
	}
	// Subscribe before start so the first snapshot is not missed.
	c.feed, c.unsub = c.bus.Subscribe("", 256)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.fx.Start(ctx); err != nil {
		c.unsub()
		return nil, err
	}
	return c, nil
}

func (c *core) close() {
	c.unsub()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = c.fx.Stop(ctx)
}

// await returns the first event of kind, or false after timeout.
func (c *core) await(kind string, timeout time.Duration) (bus.Event, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-c.feed:
			if evt.Kind == kind {
				return evt, true
			}
		case <-deadline:
			return bus.Event{}, false
		}
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: criptxctl [--profile <name>] [--json] [--dev] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                    Show whether a client is running and signed in")
	for _, name := range commandOrder {
		c := commands[name]
		fmt.Fprintf(os.Stderr, "  %-25s %s\n", name+" "+c.usage, c.help)
	}
}

type printer struct {
	json bool
}

// emit prints v as JSON in --json mode, or text otherwise.
func (p printer) emit(v any, text string) {
	if p.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		}
		return
	}
	fmt.Println(text)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
