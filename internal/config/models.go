package config

import (
	"fmt"
	"net"
	"runtime"

	"github.com/muurk/brlink/internal/link"
)

// CurrentVersion is the only config file version this build understands.
const CurrentVersion = 1

// Config represents the entire configuration file.
type Config struct {
	Version  int          `yaml:"version"`
	LogLevel string       `yaml:"log_level,omitempty"`
	Link     LinkConfig   `yaml:"link"`
	Device   DeviceConfig `yaml:"device"`
	Bridge   BridgeConfig `yaml:"bridge"`
}

// LinkConfig describes the serial link frames are exchanged over.
type LinkConfig struct {
	Port     string `yaml:"port"`                // Serial device path (e.g., "/dev/ttyUSB0")
	BaudRate int    `yaml:"baud_rate"`           // Line speed
	DataBits int    `yaml:"data_bits"`           // 5-8
	StopBits int    `yaml:"stop_bits"`           // 1 or 2
	Parity   string `yaml:"parity"`              // N, E or O
	ReadSize int    `yaml:"read_size,omitempty"` // Bytes requested per port read

	// MaxPayloadLength rejects frames declaring larger payloads before any
	// buffer is allocated. Zero means no limit beyond the u16 length field.
	MaxPayloadLength uint16 `yaml:"max_payload_length"`
}

// DeviceConfig identifies this endpoint on the link.
type DeviceConfig struct {
	ID uint8 `yaml:"id"` // src_device_id for frames we originate
}

// BridgeConfig configures the network bridge.
type BridgeConfig struct {
	Listen     string `yaml:"listen"`                // HTTP listen address (e.g., ":8088")
	Advertise  bool   `yaml:"advertise"`             // Announce the bridge over mDNS
	Instance   string `yaml:"instance"`              // mDNS instance name
	CaptureDir string `yaml:"capture_dir,omitempty"` // JSONL frame capture directory (empty = disabled)

	TLSCert       string `yaml:"tls_cert,omitempty"`        // PEM certificate; enables HTTPS/WSS with tls_key
	TLSKey        string `yaml:"tls_key,omitempty"`         // PEM private key
	TLSSelfSigned bool   `yaml:"tls_self_signed,omitempty"` // Generate a certificate at startup
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Version:  CurrentVersion,
		LogLevel: "info",
		Link: LinkConfig{
			Port:     defaultPort(),
			BaudRate: link.DefaultBaudRate,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
		},
		Device: DeviceConfig{
			ID: 0x01,
		},
		Bridge: BridgeConfig{
			Listen:    ":8088",
			Advertise: true,
			Instance:  "brlink",
		},
	}
}

// PortOptions converts the link section into serial port options.
func (l LinkConfig) PortOptions() link.PortOptions {
	return link.PortOptions{
		BaudRate: l.BaudRate,
		DataBits: l.DataBits,
		StopBits: l.StopBits,
		Parity:   l.Parity,
	}
}

// LinkOptions converts the link section into link options.
func (l LinkConfig) LinkOptions() []link.Option {
	var opts []link.Option
	if l.MaxPayloadLength > 0 {
		opts = append(opts, link.WithMaxPayloadLength(l.MaxPayloadLength))
	}
	if l.ReadSize > 0 {
		opts = append(opts, link.WithReadSize(l.ReadSize))
	}
	if l.Port != "" {
		opts = append(opts, link.WithName(l.Port))
	}
	return opts
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, CurrentVersion)
	}

	if _, err := c.Link.PortOptions().Normalize(); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if c.Link.ReadSize < 0 {
		return fmt.Errorf("link: read_size must not be negative, got %d", c.Link.ReadSize)
	}

	if c.Bridge.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Bridge.Listen); err != nil {
			return fmt.Errorf("bridge: invalid listen address %q: %w", c.Bridge.Listen, err)
		}
	}
	if (c.Bridge.TLSCert == "") != (c.Bridge.TLSKey == "") {
		return fmt.Errorf("bridge: tls_cert and tls_key must be set together")
	}
	if c.Bridge.Advertise && c.Bridge.Instance == "" {
		return fmt.Errorf("bridge: instance name is required when advertise is enabled")
	}

	return nil
}

func defaultPort() string {
	switch runtime.GOOS {
	case "windows":
		return "COM1"
	case "darwin":
		return "/dev/tty.usbserial"
	default:
		return "/dev/ttyUSB0"
	}
}
