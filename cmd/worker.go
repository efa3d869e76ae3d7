package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run background workers without the HTTP server",
	Long:  `Run the gateway reconciliation poller and the credential delivery sweeper as a standalone process.`,
	Run: func(cmd *cobra.Command, args []string) {
		runWorker()
	},
}

func runWorker() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go deps.Poller.Run(ctx)
	go deps.Dispatcher.Run(ctx)

	slog.Info("Workers started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	slog.Info("Received signal, stopping workers...", "signal", sig)
	cancel()

	if deps.SQLDB != nil {
		if err := deps.SQLDB.Close(); err != nil {
			slog.Error("Database close error", "error", err)
		}
	}
	slog.Info("Workers stopped")
}
