package bridge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/muurk/brlink/internal/discovery"
	"github.com/muurk/brlink/internal/link"
	"github.com/muurk/brlink/internal/logging"
	"github.com/muurk/brlink/internal/protocol"
)

const shutdownTimeout = 10 * time.Second

// Link is the part of *link.Link the bridge needs.
type Link interface {
	Send(msg *protocol.Message) error
	Stats() link.Stats
}

// Config holds the bridge configuration
type Config struct {
	Listen     string // HTTP listen address (e.g., ":8088")
	DeviceID   uint8  // src_device_id for frames posted to /frames
	Advertise  bool   // Register the bridge over mDNS
	Instance   string // mDNS instance name
	Version    string // Published in the mDNS TXT records
	CaptureDir string // Directory for JSONL frame captures (empty = disabled)

	TLSCert       string // PEM certificate file; serves HTTPS/WSS with TLSKey
	TLSKey        string // PEM private key file
	TLSSelfSigned bool   // Serve HTTPS/WSS with a generated certificate
}

// Bridge exposes a link over HTTP and WebSocket.
type Bridge struct {
	cfg      Config
	link     Link
	hub      *hub
	metrics  *metrics
	capture  *Capture
	router   chi.Router
	upgrader websocket.Upgrader
	tls      *tls.Config

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	adv      *discovery.Advertiser
}

// New creates a bridge in front of l. Frames decoded by the link reach the
// bridge through HandleEvent.
func New(cfg Config, l Link) (*Bridge, error) {
	if l == nil {
		return nil, errors.New("bridge: link is required")
	}

	b := &Bridge{
		cfg:     cfg,
		link:    l,
		hub:     newHub(),
		metrics: newMetrics(l),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Clients are tools on the local network
			},
		},
	}

	tlsConfig, err := tlsConfigFor(cfg)
	if err != nil {
		return nil, err
	}
	b.tls = tlsConfig

	if cfg.CaptureDir != "" {
		capture, err := OpenCapture(cfg.CaptureDir)
		if err != nil {
			return nil, err
		}
		b.capture = capture
		logging.Info("Capturing frames", zap.String("file", capture.Path()))
	}

	b.router = b.routes()
	return b, nil
}

// Handler returns the bridge's HTTP handler.
func (b *Bridge) Handler() http.Handler {
	return b.router
}

// Registry returns the Prometheus registry served on /metrics.
func (b *Bridge) Registry() *prometheus.Registry {
	return b.metrics.registry
}

// ClientCount returns the number of connected WebSocket clients
func (b *Bridge) ClientCount() int {
	return b.hub.count()
}

// Addr returns the listener address once Serve has started.
func (b *Bridge) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// HandleEvent is a link.Handler. Valid frames are broadcast to every
// WebSocket client as one binary message; all events are captured.
func (b *Bridge) HandleEvent(ev link.Event) {
	if ev.Message != nil {
		b.capture.Record(DirectionFromLink, OriginSerial, ev.Message, ev.Err)
	}
	if !ev.Valid() {
		return
	}

	frame := ev.Message.View().Bytes()
	if dropped := b.hub.broadcast(frame); dropped > 0 {
		b.metrics.broadcastDrops.Add(float64(dropped))
		logging.Debug("Broadcast dropped for slow clients",
			zap.Int("clients", dropped),
			zap.Uint16("message_id", ev.Message.MessageID),
		)
	}
}

// send writes msg to the link and records it.
func (b *Bridge) send(msg *protocol.Message, origin string) error {
	if err := b.link.Send(msg); err != nil {
		return err
	}
	b.capture.Record(DirectionToLink, origin, msg, nil)
	return nil
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (b *Bridge) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.cfg.Listen, err)
	}
	return b.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts the
// bridge down gracefully.
func (b *Bridge) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           b.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if b.tls != nil {
		ln = tls.NewListener(ln, b.tls)
	}

	b.mu.Lock()
	b.server = srv
	b.listener = ln
	b.mu.Unlock()

	if b.cfg.Advertise {
		b.advertise(ln.Addr())
	}

	logging.Info("Bridge listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", b.tls != nil),
		zap.String("device_id", fmt.Sprintf("0x%02x", b.cfg.DeviceID)),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return b.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (b *Bridge) advertise(addr net.Addr) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		logging.Warn("Cannot advertise non-TCP listener", zap.String("addr", addr.String()))
		return
	}

	txt := discovery.BridgeTXT(b.cfg.DeviceID, b.cfg.Version)
	if b.tls != nil {
		txt = append(txt, discovery.TXTTLS+"=1")
	}

	adv, err := discovery.Advertise(b.cfg.Instance, tcp.Port, txt)
	if err != nil {
		// The bridge is still reachable by address.
		logging.Warn("mDNS advertisement failed", zap.Error(err))
		return
	}

	b.mu.Lock()
	b.adv = adv
	b.mu.Unlock()
}

// Shutdown gracefully shuts down the bridge
func (b *Bridge) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down bridge...")

	b.mu.Lock()
	srv, adv := b.server, b.adv
	b.adv = nil
	b.mu.Unlock()

	adv.Shutdown()

	var err error
	if srv != nil {
		if serr := srv.Shutdown(ctx); serr != nil {
			logging.Error("Error stopping HTTP server", zap.Error(serr))
			err = serr
		}
	}

	// Hijacked WebSocket connections are not tracked by http.Server.
	b.hub.closeAll()

	done := make(chan struct{})
	go func() {
		b.hub.wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All connections closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
		if err == nil {
			err = ctx.Err()
		}
	}

	if cerr := b.capture.Close(); cerr != nil && err == nil {
		err = cerr
	}

	logging.Sync()
	return err
}
