package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Bridge represents a brlink bridge found on the network
type Bridge struct {
	// Instance is the advertised instance name (e.g., "bench-rig")
	Instance string `json:"instance"`

	// Host is the mDNS hostname (e.g., "pi.local.")
	Host string `json:"host"`

	// IP is the address the bridge answered from, IPv4 preferred
	IP string `json:"ip"`

	// Port is the HTTP port of the bridge
	Port int `json:"port"`

	// Metadata contains the TXT records (device_id, version, path, tls)
	Metadata map[string]string `json:"metadata"`

	// DiscoveredAt is when the bridge was discovered
	DiscoveredAt time.Time `json:"discovered_at"`
}

// String returns a human-readable string representation of the bridge
func (b *Bridge) String() string {
	return fmt.Sprintf("brlink bridge %q (%s) at %s", b.Instance, b.Host, b.Addr())
}

// Addr returns host:port for the bridge, bracketing IPv6 addresses.
func (b *Bridge) Addr() string {
	return net.JoinHostPort(b.IP, strconv.Itoa(b.Port))
}

// TLS reports whether the bridge advertised HTTPS/WSS.
func (b *Bridge) TLS() bool {
	return b.GetMetadata(TXTTLS) == "1"
}

// BaseURL returns the HTTP base URL for the bridge
func (b *Bridge) BaseURL() string {
	if b.TLS() {
		return "https://" + b.Addr()
	}
	return "http://" + b.Addr()
}

// WebSocketURL returns the frame stream URL for the bridge
func (b *Bridge) WebSocketURL() string {
	path := b.GetMetadata(TXTPath)
	if path == "" {
		path = "/ws"
	}
	if b.TLS() {
		return "wss://" + b.Addr() + path
	}
	return "ws://" + b.Addr() + path
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (b *Bridge) GetMetadata(key string) string {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata[key]
}

// DeviceID returns the device id the bridge sends frames as.
func (b *Bridge) DeviceID() (uint8, bool) {
	raw := b.GetMetadata(TXTDeviceID)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(raw), "0x"), 16, 8)
	if err != nil {
		return 0, false
	}
	return uint8(v), true
}
