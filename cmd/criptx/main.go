package main

import (
	"context"
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
	"github.com/matheus3301/criptx/internal/tui"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	devFlag := flag.Bool("dev", false, "enable the developer bypass login")
	flag.Parse()

	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	if *devFlag {
		cfg.DevMode = true
	}

	name := profile.Resolve(*profileFlag, cfg)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var (
		client *chat.Client
		b      *bus.Bus
		logger *zap.Logger
	)
	// Console logging stays off: the TUI owns the terminal.
	fxApp := fx.New(
		app.Module(app.Params{Profile: name, Config: cfg}),
		fx.NopLogger,
		fx.Populate(&client, &b, &logger),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = fxApp.Start(startCtx)
	cancel()
	if err != nil {
		var held *lock.LockHeldError
		if errors.As(err, &held) {
			fmt.Fprintf(os.Stderr, "error: profile %q is already open in PID %d\n", name, held.PID)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}

	runErr := tui.NewApp(client, b, name, logger.Named("tui")).Run()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fxApp.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: shutdown: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
