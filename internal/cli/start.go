package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koromind/koro/internal/config"
	"github.com/koromind/koro/internal/daemon"
	"github.com/koromind/koro/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the koro daemon",
	Long: `Start the koro daemon in the foreground.
The daemon long-polls Telegram, serves the local API when enabled,
and runs until interrupted.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if daemon.IsRunning(cfg.DataDir) {
		return fmt.Errorf("daemon is already running (PID file: %s)", daemon.PIDFilePath(cfg.DataDir))
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	log, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	return d.Run()
}
