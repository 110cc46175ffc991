package bridge

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/muurk/brlink/internal/link"
	"github.com/muurk/brlink/internal/logging"
	"github.com/muurk/brlink/internal/protocol"
)

// 42 52 | 03 00 | 01 00 | 01 | 02 | 10 20 30 | fb 00
var scenarioFrame = []byte{0x42, 0x52, 0x03, 0x00, 0x01, 0x00, 0x01, 0x02, 0x10, 0x20, 0x30, 0xfb, 0x00}

type fixture struct {
	port   *link.TestablePort
	link   *link.Link
	bridge *Bridge
	server *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	port := link.NewTestablePort(nil)
	l := link.New(port)
	b, err := New(cfg, l)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	srv := httptest.NewServer(b.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
		srv.Close()
	})

	return &fixture{port: port, link: l, bridge: b, server: srv}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	waitFor(t, func() bool { return f.bridge.ClientCount() >= 1 })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func scenarioMessage(t *testing.T) *protocol.Message {
	t.Helper()
	msg, err := protocol.DecodeFrame(scenarioFrame)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	return msg
}

func TestNew_RequiresLink(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Error("New() with nil link should fail")
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Config{})

	resp, err := http.Get(f.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("GET /healthz = %d %q, want 200 \"ok\"", resp.StatusCode, body)
	}
}

func TestPostFrame(t *testing.T) {
	f := newFixture(t, Config{DeviceID: 0x01})

	resp, err := http.Post(f.server.URL+"/frames", "application/json",
		strings.NewReader(`{"message_id": 1, "dst_device_id": 2, "payload_hex": "102030"}`))
	if err != nil {
		t.Fatalf("POST /frames error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got frameResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.FrameHex != hex.EncodeToString(scenarioFrame) {
		t.Errorf("frame_hex = %s, want %x", got.FrameHex, scenarioFrame)
	}
	if got.Length != len(scenarioFrame) {
		t.Errorf("length = %d, want %d", got.Length, len(scenarioFrame))
	}

	if !bytes.Equal(f.port.Written(), scenarioFrame) {
		t.Errorf("port received % x, want % x", f.port.Written(), scenarioFrame)
	}
}

func TestPostFrame_GeneratesMessageID(t *testing.T) {
	f := newFixture(t, Config{DeviceID: 0x01})

	resp, err := http.Post(f.server.URL+"/frames", "application/json",
		strings.NewReader(`{"dst_device_id": 2, "payload_hex": ""}`))
	if err != nil {
		t.Fatalf("POST /frames error = %v", err)
	}
	defer resp.Body.Close()

	var got frameResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.MessageID == 0 {
		t.Error("message_id should be generated when omitted")
	}
	if got.Length != protocol.FixedLen+protocol.ChecksumLen {
		t.Errorf("length = %d, want %d", got.Length, protocol.FixedLen+protocol.ChecksumLen)
	}
}

func TestPostFrame_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		closeLink  bool
		wantStatus int
	}{
		{"malformed json", `{`, false, http.StatusBadRequest},
		{"unknown field", `{"dst_device_id": 2, "colour": "red"}`, false, http.StatusBadRequest},
		{"bad hex", `{"dst_device_id": 2, "payload_hex": "zz"}`, false, http.StatusBadRequest},
		{"payload too large", `{"dst_device_id": 2, "payload_hex": "` + strings.Repeat("00", protocol.MaxPayloadLen+1) + `"}`, false, http.StatusRequestEntityTooLarge},
		{"link closed", `{"dst_device_id": 2, "payload_hex": "01"}`, true, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			if tt.closeLink {
				f.link.Close()
			}

			resp, err := http.Post(f.server.URL+"/frames", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST /frames error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var e errorResponse
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
				t.Errorf("expected JSON error body, got err=%v body=%+v", err, e)
			}
			if len(f.port.Written()) != 0 {
				t.Error("nothing should reach the port")
			}
		})
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, Config{DeviceID: 0x07})

	if err := f.link.Send(scenarioMessage(t)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	resp, err := http.Get(f.server.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats error = %v", err)
	}
	defer resp.Body.Close()

	var got statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.DeviceID != "0x07" {
		t.Errorf("device_id = %q, want 0x07", got.DeviceID)
	}
	if got.Link.FramesSent != 1 {
		t.Errorf("link.frames_sent = %d, want 1", got.Link.FramesSent)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, Config{})

	if err := f.link.Send(scenarioMessage(t)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	resp, err := http.Get(f.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"brlink_frames_sent_total 1",
		"brlink_frames_received_total 0",
		"brlink_checksum_errors_total 0",
		"brlink_discarded_bytes_total 0",
		"brlink_websocket_clients 0",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestWebSocket_Broadcast(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t)

	bad := scenarioMessage(t)
	bad.Checksum ^= 0xffff
	f.bridge.HandleEvent(link.Event{Message: bad, Err: &protocol.ChecksumError{Message: bad}})
	f.bridge.HandleEvent(link.Event{Message: scenarioMessage(t)})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", kind)
	}
	if !bytes.Equal(data, scenarioFrame) {
		t.Errorf("broadcast = % x, want % x (invalid frames must not be broadcast)", data, scenarioFrame)
	}
}

func TestWebSocket_InboundFrame(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t)

	if err := conn.WriteMessage(websocket.BinaryMessage, scenarioFrame); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	waitFor(t, func() bool { return bytes.Equal(f.port.Written(), scenarioFrame) })
}

func TestWebSocket_InboundRejected(t *testing.T) {
	corrupt := append([]byte(nil), scenarioFrame...)
	corrupt[len(corrupt)-2] ^= 0x01

	tests := []struct {
		name string
		kind int
		data []byte
	}{
		{"text message", websocket.TextMessage, []byte("hello")},
		{"bad checksum", websocket.BinaryMessage, corrupt},
		{"truncated", websocket.BinaryMessage, scenarioFrame[:5]},
		{"trailing bytes", websocket.BinaryMessage, append(append([]byte(nil), scenarioFrame...), 0x00)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			conn := f.dial(t)

			if err := conn.WriteMessage(tt.kind, tt.data); err != nil {
				t.Fatalf("WriteMessage() error = %v", err)
			}

			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			kind, data, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("ReadMessage() error = %v", err)
			}
			if kind != websocket.TextMessage {
				t.Errorf("reply type = %d, want text", kind)
			}

			var e errorResponse
			if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
				t.Errorf("reply = %s, want JSON error", data)
			}
			if len(f.port.Written()) != 0 {
				t.Error("rejected message should not reach the port")
			}
		})
	}
}

func TestWebSocket_RejectedFrameLogsRawBytes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := logging.GetLogger()
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(prev) })

	f := newFixture(t, Config{})
	conn := f.dial(t)

	if err := conn.WriteMessage(websocket.BinaryMessage, scenarioFrame[:5]); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	entries := logs.FilterMessage("Rejected frame bytes").All()
	if len(entries) != 1 {
		t.Fatalf("got %d raw byte entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["hex"]; got != "4252030001" {
		t.Errorf("hex = %v, want 4252030001", got)
	}
}

func TestShutdown_ClosesClients(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.bridge.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() error = %v, want going-away close", err)
	}

	waitFor(t, func() bool { return f.bridge.ClientCount() == 0 })
}

func TestShutdown_RefusesLateClients(t *testing.T) {
	f := newFixture(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.bridge.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	// The test server still accepts upgrades after the bridge shut down.
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() error = %v, want going-away close", err)
	}
	if got := f.bridge.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}

	done := make(chan struct{})
	go func() {
		f.bridge.hub.wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("hub.wait() blocked on a refused client")
	}
}

func TestHub_AddAfterCloseAll(t *testing.T) {
	h := newHub()
	h.closeAll()

	n, ok := h.add(&client{})
	if ok {
		t.Error("add() after closeAll() = true, want false")
	}
	if n != 0 {
		t.Errorf("add() count = %d, want 0", n)
	}
	h.wait()
}

func TestServe_StopsOnCancel(t *testing.T) {
	b, err := New(Config{}, link.New(link.NewTestablePort(nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx, ln) }()

	waitFor(t, func() bool { return b.Addr() != nil })

	resp, err := http.Get("http://" + b.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
