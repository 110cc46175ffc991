// Package bridge exposes a BR link to the network.
//
// A bridge sits in front of one link and serves:
//
//	GET  /ws       WebSocket frame stream (binary, one frame per message)
//	POST /frames   JSON {"message_id", "dst_device_id", "payload_hex"}
//	GET  /stats    link counters as JSON
//	GET  /healthz  liveness
//	GET  /metrics  Prometheus metrics
//
// Every frame the link decodes with a valid checksum is broadcast to all
// WebSocket clients. A binary message sent by a client must contain exactly
// one well-formed frame; it is written to the link unchanged. Anything else
// is answered with a JSON error text message and the connection stays open.
//
// # Usage Example
//
//	l := link.New(port, link.WithName("/dev/ttyUSB0"))
//	b, err := bridge.New(bridge.Config{Listen: ":8088", DeviceID: 0x01}, l)
//	if err != nil {
//	    return err
//	}
//	go l.Run(ctx, b.HandleEvent)
//	return b.ListenAndServe(ctx)
//
// # Slow Clients
//
// Each client has a bounded send buffer. When it is full, broadcasts to
// that client are dropped and counted in brlink_broadcast_drops_total
// rather than stalling the link.
//
// # Capture
//
// With Config.CaptureDir set, every frame crossing the bridge in either
// direction is appended to capture-YYYYMMDD-HHMMSS.jsonl, including frames
// that failed their checksum.
package bridge
