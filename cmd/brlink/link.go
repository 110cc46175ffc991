package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/brlink/internal/link"
	"github.com/muurk/brlink/internal/logging"
	"github.com/muurk/brlink/internal/protocol"
	"github.com/muurk/brlink/internal/ui"
)

// Serial port flags shared by monitor, send and bridge
var (
	portPath string
	baudRate int
)

func addPortFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&portPath, "port", "p", "", "Serial port (default: link.port from config)")
	cmd.Flags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate (default: link.baud_rate from config)")
}

// openLink opens the configured serial port, with flags taking precedence.
func openLink(cmd *cobra.Command, extra ...link.Option) (*link.Link, error) {
	lc := cfg.Link
	if cmd.Flags().Changed("port") {
		lc.Port = portPath
	}
	if cmd.Flags().Changed("baud") {
		lc.BaudRate = baudRate
	}
	if lc.Port == "" {
		return nil, fmt.Errorf("no serial port configured (use --port or set link.port)")
	}

	opts, err := lc.PortOptions().Normalize()
	if err != nil {
		return nil, err
	}

	port, err := link.OpenPort(lc.Port, opts)
	if err != nil {
		return nil, err
	}

	logging.Info("Serial port opened", zap.String("port", lc.Port), zap.String("mode", opts.String()))
	return link.New(port, append(lc.LinkOptions(), extra...)...), nil
}

var troubleshootPort = []string{
	"Check the device is plugged in ('brlink ports' lists what is present)",
	"Make sure no other program has the port open",
	"On Linux, add your user to the dialout group",
}

// Monitor command flags
var monitorTUI bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch frames arriving on a serial port",
	Long: `Decode frames from a serial port and print them as they arrive.

Bytes outside frames are skipped and counted. Frames with a bad checksum
are shown and marked invalid. Press Ctrl+C to stop.

With --tui, an interactive view with pause and clear is used instead.`,
	Example: `  # Watch the configured port
  brlink monitor

  # Watch a specific port at 57600 baud in the interactive view
  brlink monitor --port /dev/ttyACM0 --baud 57600 --tui`,
	RunE: runMonitor,
}

func init() {
	addPortFlags(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", false, "Interactive view")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	l, err := openLink(cmd)
	if err != nil {
		ui.NewPrinter(cmd.ErrOrStderr()).PrintError("Cannot open serial port", err, troubleshootPort...)
		return err
	}
	defer l.Close()

	if monitorTUI && ui.IsTerminal() {
		return runMonitorTUI(cmd.Context(), l)
	}

	out := cmd.OutOrStdout()
	err = l.Run(cmd.Context(), func(ev link.Event) {
		fmt.Fprintln(out, ui.RenderEvent(ev))
	})
	fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderStats(l.Stats()))
	return err
}

func runMonitorTUI(ctx context.Context, l *link.Link) error {
	// The TUI owns the terminal; stderr logging would tear the display.
	logging.SetLogger(zap.NewNop())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan link.Event, 64)
	var (
		wg     sync.WaitGroup
		runErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(events)
		runErr = l.Run(ctx, func(ev link.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
	}()

	p := tea.NewProgram(ui.NewMonitor(l.Name(), events, l.Stats), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()

	cancel()
	wg.Wait()

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("monitor failed: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// Send command flags
var sendWait time.Duration

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Write one frame to a serial port",
	Long: `Build a frame, seal it with its checksum, and write it to a serial port.

The source device id defaults to device.id from the config file. With
--wait, frames arriving after the send are printed until the wait ends.`,
	Example: `  # Send three bytes to device 0x02
  brlink send --port /dev/ttyUSB0 --dst 0x02 --payload-hex "10 20 30"

  # Send and print replies for two seconds
  brlink send --dst 2 --payload ping --wait 2s`,
	RunE: runSend,
}

func init() {
	addPortFlags(sendCmd)
	addFrameFlags(sendCmd)
	sendCmd.Flags().DurationVar(&sendWait, "wait", 0, "Print incoming frames for this long after sending")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	msg, err := buildFrame(cmd)
	if err != nil {
		return err
	}

	ready := make(chan struct{})
	var once sync.Once
	l, err := openLink(cmd, link.WithOnStart(func() {
		once.Do(func() { close(ready) })
	}))
	if err != nil {
		ui.NewPrinter(cmd.ErrOrStderr()).PrintError("Cannot open serial port", err, troubleshootPort...)
		return err
	}
	defer l.Close()

	return sendAndWait(cmd, l, ready, msg, sendWait)
}

// sendAndWait writes msg on l. When wait is positive the read loop is
// started first and the write happens once ready is closed, which l must do
// through link.WithOnStart.
func sendAndWait(cmd *cobra.Command, l *link.Link, ready <-chan struct{}, msg *protocol.Message, wait time.Duration) error {
	printer := ui.NewPrinter(cmd.OutOrStdout())

	// Events arrive on the Run goroutine while this one prints the sent frame.
	var outMu sync.Mutex
	printLine := func(s string) {
		outMu.Lock()
		defer outMu.Unlock()
		printer.Println(s)
	}

	var runErr error
	cancel := context.CancelFunc(func() {})
	done := make(chan struct{})
	if wait > 0 {
		var ctx context.Context
		ctx, cancel = context.WithTimeout(cmd.Context(), wait)
		go func() {
			defer close(done)
			runErr = l.Run(ctx, func(ev link.Event) {
				printLine(ui.RenderEvent(ev))
			})
		}()

		select {
		case <-ready:
		case <-done:
			cancel()
			return runErr
		}
	} else {
		close(done)
	}
	defer cancel()

	if err := l.Send(msg); err != nil {
		cancel()
		<-done
		outMu.Lock()
		printer.PrintError("Send failed", err, troubleshootPort...)
		outMu.Unlock()
		return err
	}

	printLine(ui.RenderMessage(msg, true))

	<-done
	if runErr != nil && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	return nil
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := link.ListPorts()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ports) == 0 {
			fmt.Fprintln(out, "No serial ports found.")
			return nil
		}
		for _, p := range ports {
			fmt.Fprintln(out, p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
