package discovery

import (
	"fmt"
	"sync"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/brlink/internal/logging"
)

// TXT record keys published by a bridge.
const (
	TXTDeviceID = "device_id"
	TXTVersion  = "version"
	TXTPath     = "path"
	TXTTLS      = "tls" // "1" when the bridge serves HTTPS/WSS
)

// Advertiser keeps a bridge registered on mDNS until Shutdown.
type Advertiser struct {
	server   *zeroconf.Server
	instance string
	once     sync.Once
}

// Advertise registers instance as a _brlink._tcp service on port.
func Advertise(instance string, port int, txt []string) (*Advertiser, error) {
	if instance == "" {
		return nil, fmt.Errorf("advertise: instance name is required")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("advertise: invalid port %d", port)
	}

	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logging.Info("Advertising bridge",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
		zap.Strings("txt", txt),
	)

	return &Advertiser{server: server, instance: instance}, nil
}

// BridgeTXT builds the TXT records a bridge publishes.
func BridgeTXT(deviceID uint8, version string) []string {
	return []string{
		fmt.Sprintf("%s=0x%02x", TXTDeviceID, deviceID),
		fmt.Sprintf("%s=%s", TXTVersion, version),
		fmt.Sprintf("%s=/ws", TXTPath),
	}
}

// Shutdown withdraws the advertisement. It is safe to call more than once.
func (a *Advertiser) Shutdown() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		a.server.Shutdown()
		logging.Info("Stopped advertising bridge", zap.String("instance", a.instance))
	})
}
