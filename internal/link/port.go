package link

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Porter is the minimal interface a Link needs from a serial port.
// It lets the link run over pipes, sockets and test doubles as well.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPorter is implemented by ports that support read deadlines.
// Link uses it so blocked reads return periodically and cancellation is noticed.
type TimeoutPorter interface {
	Porter
	SetReadTimeout(timeout time.Duration) error
}

// OpenPort opens the serial device at path.
func OpenPort(path string, opts PortOptions) (serial.Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return port, nil
}

// ListPorts returns the serial ports present on this machine.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
