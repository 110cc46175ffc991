package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/brlink/internal/bridge"
	"github.com/muurk/brlink/internal/discovery"
	"github.com/muurk/brlink/internal/link"
	"github.com/muurk/brlink/internal/ui"
	"github.com/muurk/brlink/internal/version"
)

var errLinkClosed = errors.New("serial link closed")

// Bridge command flags
var (
	bridgeListen     string
	bridgeAdvertise  bool
	bridgeInstance   string
	bridgeCaptureDir string
	bridgeTLSCert    string
	bridgeTLSKey     string
	bridgeSelfSigned bool
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Expose a serial link over HTTP and WebSocket",
	Long: `Run a network bridge in front of a serial link.

Every valid frame read from the port is broadcast to connected WebSocket
clients as a binary message. Binary messages from clients are decoded and
written to the port. Frames can also be posted to /frames as JSON.

Endpoints:
  GET  /ws       WebSocket (one frame per binary message)
  POST /frames   {"dst_device_id": 2, "payload_hex": "102030"}
  GET  /stats    link and client counters
  GET  /metrics  Prometheus metrics
  GET  /healthz  liveness

The bridge is advertised over mDNS as _brlink._tcp unless disabled.`,
	Example: `  # Bridge the configured port on :8088
  brlink bridge

  # Serve HTTPS/WSS with a generated certificate
  brlink bridge --tls-self-signed

  # Bridge a specific port, record every frame, no mDNS
  brlink bridge --port /dev/ttyACM0 --listen 127.0.0.1:9000 --advertise=false --capture-dir ./captures`,
	RunE: runBridge,
}

func init() {
	addPortFlags(bridgeCmd)
	bridgeCmd.Flags().StringVar(&bridgeListen, "listen", "", "HTTP listen address (default: bridge.listen from config)")
	bridgeCmd.Flags().BoolVar(&bridgeAdvertise, "advertise", true, "Advertise the bridge over mDNS")
	bridgeCmd.Flags().StringVar(&bridgeInstance, "instance", "", "mDNS instance name (default: bridge.instance from config)")
	bridgeCmd.Flags().StringVar(&bridgeCaptureDir, "capture-dir", "", "Write a JSONL capture of every frame to this directory")
	bridgeCmd.Flags().StringVar(&bridgeTLSCert, "tls-cert", "", "Serve HTTPS/WSS with this PEM certificate (requires --tls-key)")
	bridgeCmd.Flags().StringVar(&bridgeTLSKey, "tls-key", "", "PEM private key for --tls-cert")
	bridgeCmd.Flags().BoolVar(&bridgeSelfSigned, "tls-self-signed", false, "Serve HTTPS/WSS with a generated certificate")
	bridgeCmd.MarkFlagsRequiredTogether("tls-cert", "tls-key")
	bridgeCmd.MarkFlagsMutuallyExclusive("tls-cert", "tls-self-signed")
	rootCmd.AddCommand(bridgeCmd)
}

func bridgeConfig(cmd *cobra.Command) bridge.Config {
	bc := bridge.Config{
		Listen:     cfg.Bridge.Listen,
		DeviceID:   cfg.Device.ID,
		Advertise:  cfg.Bridge.Advertise,
		Instance:   cfg.Bridge.Instance,
		Version:    version.Version,
		CaptureDir: cfg.Bridge.CaptureDir,

		TLSCert:       cfg.Bridge.TLSCert,
		TLSKey:        cfg.Bridge.TLSKey,
		TLSSelfSigned: cfg.Bridge.TLSSelfSigned,
	}
	if cmd.Flags().Changed("listen") {
		bc.Listen = bridgeListen
	}
	if cmd.Flags().Changed("advertise") {
		bc.Advertise = bridgeAdvertise
	}
	if cmd.Flags().Changed("instance") {
		bc.Instance = bridgeInstance
	}
	if cmd.Flags().Changed("capture-dir") {
		bc.CaptureDir = bridgeCaptureDir
	}
	if cmd.Flags().Changed("tls-cert") {
		bc.TLSCert, bc.TLSKey = bridgeTLSCert, bridgeTLSKey
		bc.TLSSelfSigned = false
	}
	if cmd.Flags().Changed("tls-self-signed") {
		bc.TLSSelfSigned = bridgeSelfSigned
	}
	return bc
}

func runBridge(cmd *cobra.Command, args []string) error {
	if err := initServiceLogging(); err != nil {
		return err
	}

	bc := bridgeConfig(cmd)
	if bc.Advertise && bc.Instance == "" {
		return fmt.Errorf("--instance is required when advertising")
	}

	l, err := openLink(cmd)
	if err != nil {
		ui.NewPrinter(cmd.ErrOrStderr()).PrintError("Cannot open serial port", err, troubleshootPort...)
		return err
	}
	defer l.Close()

	b, err := bridge.New(bc, l)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}

	ui.NewPrinter(cmd.ErrOrStderr()).PrintHeader("Bridge", "brlink bridge",
		ui.Field{Key: "Port", Value: l.Name()},
		ui.Field{Key: "Listen", Value: listenLabel(bc)},
		ui.Field{Key: "Device ID", Value: fmt.Sprintf("0x%02x", bc.DeviceID)},
		ui.Field{Key: "mDNS", Value: advertiseLabel(bc)},
	)

	return runBridgeLoop(cmd.Context(), l, b)
}

// runBridgeLoop reads the link into the bridge while serving HTTP. The
// first of the two to fail stops the other.
func runBridgeLoop(ctx context.Context, l *link.Link, b *bridge.Bridge) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := l.Run(ctx, b.HandleEvent)
		if err == nil && ctx.Err() == nil {
			return errLinkClosed
		}
		return err
	})
	g.Go(func() error {
		return b.ListenAndServe(ctx)
	})

	return g.Wait()
}

func listenLabel(bc bridge.Config) string {
	if bc.TLSCert != "" || bc.TLSSelfSigned {
		return bc.Listen + " (TLS)"
	}
	return bc.Listen
}

func advertiseLabel(bc bridge.Config) string {
	if !bc.Advertise {
		return "disabled"
	}
	return fmt.Sprintf("%q on %s", bc.Instance, discovery.ServiceType)
}

// Scan command flags
var (
	scanTimeout  time.Duration
	scanInstance string
	scanJSON     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find bridges on the local network",
	Long: `Browse for brlink bridges using mDNS/DNS-SD.

Lists every bridge that answers within the timeout. With --instance the
scan stops as soon as the named bridge is found.`,
	Example: `  # Scan for 5 seconds (default)
  brlink scan

  # Wait up to 30 seconds for one bridge
  brlink scan --instance bench-rig --timeout 30s`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "Scan timeout")
	scanCmd.Flags().StringVar(&scanInstance, "instance", "", "Stop when this bridge is found")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print bridges as JSON")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	scanner := discovery.NewScanner()
	scanner.Timeout = scanTimeout

	var (
		bridges []*discovery.Bridge
		err     error
	)
	if scanInstance != "" {
		var found *discovery.Bridge
		found, err = scanner.WaitForBridge(cmd.Context(), scanInstance)
		if found != nil {
			bridges = []*discovery.Bridge{found}
		}
	} else {
		bridges, err = scanner.Scan(cmd.Context())
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if scanJSON {
		return writeJSON(cmd.OutOrStdout(), bridges)
	}

	printer := ui.NewPrinter(cmd.OutOrStdout())
	if len(bridges) == 0 {
		printer.PrintError("No bridges found", nil,
			"Ensure 'brlink bridge' is running with advertising enabled",
			"Bridges must be on the same network segment",
			"Firewalls must allow mDNS (UDP port 5353)",
			"Try increasing --timeout",
		)
		return nil
	}

	for _, b := range bridges {
		fields := []ui.Field{
			{Key: "WebSocket", Value: b.WebSocketURL()},
			{Key: "HTTP", Value: b.BaseURL()},
		}
		if id, ok := b.DeviceID(); ok {
			fields = append(fields, ui.Field{Key: "Device ID", Value: fmt.Sprintf("0x%02x", id)})
		}
		if v := b.GetMetadata(discovery.TXTVersion); v != "" {
			fields = append(fields, ui.Field{Key: "Version", Value: v})
		}
		printer.PrintSuccess(b.Instance, fields...)
	}
	return nil
}
