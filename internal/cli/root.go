package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harun/menubot/internal/config"
	"github.com/harun/menubot/internal/daemon"
	"github.com/harun/menubot/internal/logger"
)

var (
	cfgFile  string
	logLevel string

	// daemonOptions lets tests swap the LLM provider.
	daemonOptions []daemon.Option
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "menubot",
	Short: "menubot - restaurant ordering assistant",
	Long: `menubot answers restaurant customers over chat. It routes each message
to the right agent, takes and updates orders, and shares the menu.`,
	Version:       daemon.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.menubot/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// loadConfig loads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer, withFile bool) (*logger.Logger, error) {
	lc := logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   true,
		Redaction:  true,
		Out:        out,
	}
	if withFile {
		lc.File = cfg.Logging.File
	}
	return logger.New(lc)
}

// withDaemon builds the daemon for a one-shot command and closes it after.
func withDaemon(cmd *cobra.Command, fn func(ctx context.Context, d *daemon.Daemon) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := daemon.New(ctx, cfg, log.Zerolog(), daemonOptions...)
	if err != nil {
		return err
	}
	runErr := fn(ctx, d)
	if err := d.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
