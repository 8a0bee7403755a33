// Package main is the entry point for the tabsync order synchronization
// engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"tabsync/bootstrap"
)

// run initializes and starts the synchronization engine.
func run(configPath string) error {
	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx, configPath)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()

	return nil
}

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
