package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/gesturedog/internal/config"
	"github.com/ayusman/gesturedog/internal/logging"
)

// Version is the application version.
const Version = "0.1.0"

var (
	configPath string
	envFile    string
	logLevel   string

	// cfg and logger are set by the root command before any subcommand runs.
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "gesturedog",
	Short:         "Hand gesture control and video stream for a robot dog",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath, envFile)
		if err != nil {
			return &exitError{code: exitConfig, err: err}
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger, err = logging.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return &exitError{code: exitConfig, err: err}
		}
		logger.Debug("configuration loaded",
			zap.String("mode", cfg.Mode),
			zap.String("slot", cfg.Slot.Dir))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "gesturedog.yaml", "path to the YAML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(produceCmd, serveCmd, runCmd, versionCmd)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	// Ctrl+C or SIGTERM cancels the command context.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	if logger != nil {
		logger.Error("gesturedog failed", zap.Error(err), zap.Int("exit_code", exitCode(err)))
		logger.Sync()
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	return exitCode(err)
}
