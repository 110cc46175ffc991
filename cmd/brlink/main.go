// Brlink is a toolkit for the BR binary framing protocol.
//
// It encodes and decodes frames offline, monitors and writes frames on a
// serial link, and bridges a link onto the network over HTTP and WebSocket
// with mDNS discovery.
//
// Usage:
//
//	brlink [command] [flags]
//
// See 'brlink --help' for available commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/muurk/brlink/internal/config"
	"github.com/muurk/brlink/internal/logging"
	"github.com/muurk/brlink/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	logLevel   string
)

// cfg is the effective configuration, loaded before any command runs.
var cfg = config.DefaultConfig()

var rootCmd = &cobra.Command{
	Use:   "brlink",
	Short: "BR frame protocol toolkit",
	Long: `A toolkit for the BR binary framing protocol.

Frames start with the magic bytes 'B' 'R', carry a little-endian header
(payload length, message id, source and destination device ids), the
payload, and a 16-bit additive checksum.

brlink can encode and decode frames offline, watch and write frames on a
serial link, and expose a link to the network as a WebSocket bridge.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		return logging.Initialize(logLevel)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is the OS config directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides "+logging.LogLevelEnvVar)

	rootCmd.AddCommand(versionCmd)
}

func loadConfig() error {
	var (
		loaded *config.Config
		err    error
	)
	if configPath != "" {
		loaded, err = config.Load(configPath)
	} else {
		loaded, err = config.LoadDefault()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = loaded
	return nil
}

// initServiceLogging enables logging at the configured level for long
// running commands unless a level was already chosen by flag or environment.
func initServiceLogging() error {
	if logLevel != "" || os.Getenv(logging.LogLevelEnvVar) != "" {
		return nil
	}
	return logging.Initialize(cfg.LogLevel)
}

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			return writeJSON(cmd.OutOrStdout(), version.Info())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "brlink %s\n", version.Full())
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print build information as JSON")
}
