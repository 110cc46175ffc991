package bridge

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/muurk/brlink/internal/link"
	"github.com/muurk/brlink/internal/logging"
	"github.com/muurk/brlink/internal/protocol"
)

var errNotBinary = errors.New("expected a binary message holding one frame")

// Hex doubles the payload; leave room for the JSON around it.
const maxRequestBody = 2*protocol.MaxPayloadLen + 1024

type frameRequest struct {
	MessageID   *uint16 `json:"message_id,omitempty"`
	DstDeviceID uint8   `json:"dst_device_id"`
	PayloadHex  string  `json:"payload_hex"`
}

type frameResponse struct {
	MessageID uint16 `json:"message_id"`
	Length    int    `json:"length"`
	FrameHex  string `json:"frame_hex"`
}

type statsResponse struct {
	DeviceID         string     `json:"device_id"`
	WebSocketClients int        `json:"websocket_clients"`
	Link             link.Stats `json:"link"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (b *Bridge) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(b.instrument)

	r.Get("/ws", b.handleWebSocket)
	r.Post("/frames", b.handlePostFrame)
	r.Get("/stats", b.handleStats)
	r.Get("/healthz", b.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(b.metrics.registry, promhttp.HandlerOpts{}))

	return r
}

// instrument logs each request and counts it by route pattern.
func (b *Bridge) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			// Hijacked (WebSocket) or nothing written.
			status = http.StatusSwitchingProtocols
			if r.URL.Path != "/ws" {
				status = http.StatusOK
			}
		}

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		b.metrics.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, status)
	})
}

func (b *Bridge) handlePostFrame(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req frameRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	payload, err := hex.DecodeString(req.PayloadHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload_hex: %w", err))
		return
	}

	id := protocol.GenerateMessageID()
	if req.MessageID != nil {
		id = *req.MessageID
	}

	msg, err := protocol.NewMessage(id, b.cfg.DeviceID, req.DstDeviceID, payload)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, protocol.ErrPayloadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err)
		return
	}

	if err := b.send(msg, OriginHTTP); err != nil {
		logging.Error("Failed to send frame", zap.Uint16("message_id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}

	frame := msg.View().Bytes()
	writeJSON(w, http.StatusOK, frameResponse{
		MessageID: msg.MessageID,
		Length:    len(frame),
		FrameHex:  hex.EncodeToString(frame),
	})
}

func (b *Bridge) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		DeviceID:         fmt.Sprintf("0x%02x", b.cfg.DeviceID),
		WebSocketClients: b.hub.count(),
		Link:             b.link.Stats(),
	})
}

func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
