package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/menubot/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chatbot HTTP service",
	Long: `Run the chatbot in the foreground: the HTTP ingress, the checkpoint
sweeper and the menu watcher. SIGINT or SIGTERM shuts it down gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer log.Close()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, log.Zerolog(), daemonOptions...)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
