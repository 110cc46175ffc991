package bridge

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/brlink/internal/logging"
	"github.com/muurk/brlink/internal/protocol"
)

// Capture directions.
const (
	DirectionFromLink = "link->bridge"
	DirectionToLink   = "bridge->link"
)

// Capture origins.
const (
	OriginSerial    = "serial"
	OriginWebSocket = "websocket"
	OriginHTTP      = "http"
)

// FrameRecord is one line of a capture file.
type FrameRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Seq           uint64    `json:"seq"`
	Direction     string    `json:"direction"`
	Origin        string    `json:"origin"`
	MessageID     uint16    `json:"message_id"`
	SrcDeviceID   uint8     `json:"src_device_id"`
	DstDeviceID   uint8     `json:"dst_device_id"`
	PayloadLength uint16    `json:"payload_length"`
	Checksum      uint16    `json:"checksum"`
	Valid         bool      `json:"valid"`
	Error         string    `json:"error,omitempty"`
	PayloadHex    string    `json:"payload_hex"`
	PayloadASCII  string    `json:"payload_ascii"`
	RawFrameHex   string    `json:"raw_frame_hex"`
}

// Capture appends frame records to a JSON Lines file. A nil *Capture
// records nothing, so callers need not check whether capture is enabled.
type Capture struct {
	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	seq  uint64
	path string
}

// OpenCapture creates dir if needed and opens a new timestamped capture file in it.
func OpenCapture(dir string) (*Capture, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("capture-%s.jsonl", time.Now().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &Capture{f: f, enc: enc, path: path}, nil
}

// Path returns the capture file path.
func (c *Capture) Path() string {
	if c == nil {
		return ""
	}
	return c.path
}

// Record appends msg. frameErr is the decode error for frames that failed
// their checksum.
func (c *Capture) Record(direction, origin string, msg *protocol.Message, frameErr error) {
	if c == nil || msg == nil {
		return
	}

	v := msg.View()
	rec := FrameRecord{
		Timestamp:     time.Now(),
		Direction:     direction,
		Origin:        origin,
		MessageID:     v.MessageID,
		SrcDeviceID:   v.SrcDeviceID,
		DstDeviceID:   v.DstDeviceID,
		PayloadLength: v.PayloadLength,
		Checksum:      v.Checksum,
		Valid:         frameErr == nil,
		PayloadHex:    hex.EncodeToString(v.Payload),
		PayloadASCII:  toASCII(v.Payload),
		RawFrameHex:   hex.EncodeToString(v.Bytes()),
	}
	if frameErr != nil {
		rec.Error = frameErr.Error()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.f == nil {
		return
	}
	c.seq++
	rec.Seq = c.seq
	if err := c.enc.Encode(rec); err != nil {
		logging.Error("Failed to write capture record",
			zap.String("filename", c.path),
			zap.Error(err),
		)
	}
}

// Close flushes and closes the capture file.
func (c *Capture) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}

// toASCII converts bytes to ASCII string (non-printable chars become '.')
func toASCII(data []byte) string {
	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}

// maxCaptureLine bounds one JSONL record holding a maximum size frame: the
// raw frame and payload in hex, plus the ASCII payload at its worst JSON
// escaping (\u003c for HTML characters when escaping is on), plus field
// overhead.
const maxCaptureLine = 2*(protocol.Overhead+protocol.MaxPayloadLen) +
	2*protocol.MaxPayloadLen +
	6*protocol.MaxPayloadLen +
	4096

// ReadCapture calls fn for every record in a capture stream. line is the
// 1-based line number. Blank lines are skipped; a malformed line stops the
// read with an error naming it.
func ReadCapture(r io.Reader, fn func(line int, rec FrameRecord) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxCaptureLine)

	line := 0
	for sc.Scan() {
		line++
		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 {
			continue
		}

		var rec FrameRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(line, rec); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ErrRecordMismatch is matched by errors from VerifyRecord when the raw
// frame disagrees with the record's decoded fields.
var ErrRecordMismatch = errors.New("capture record does not match raw frame")

// VerifyRecord re-decodes the raw frame of rec and checks it against the
// recorded fields and validity. It returns the decoded message when the
// raw frame could be decoded at all.
func VerifyRecord(rec FrameRecord) (*protocol.Message, error) {
	raw, err := hex.DecodeString(rec.RawFrameHex)
	if err != nil {
		return nil, fmt.Errorf("raw_frame_hex: %w", err)
	}

	msg, err := protocol.DecodeFrame(raw)
	var cerr *protocol.ChecksumError
	switch {
	case errors.As(err, &cerr):
		msg = cerr.Message
		if rec.Valid {
			return msg, fmt.Errorf("%w: recorded valid but %v", ErrRecordMismatch, err)
		}
	case err != nil:
		return nil, err
	case !rec.Valid:
		return msg, fmt.Errorf("%w: recorded invalid but checksum matches", ErrRecordMismatch)
	}

	v := msg.View()
	switch {
	case v.MessageID != rec.MessageID:
		return msg, fmt.Errorf("%w: message_id %d, raw %d", ErrRecordMismatch, rec.MessageID, v.MessageID)
	case v.SrcDeviceID != rec.SrcDeviceID || v.DstDeviceID != rec.DstDeviceID:
		return msg, fmt.Errorf("%w: devices 0x%02x->0x%02x, raw 0x%02x->0x%02x", ErrRecordMismatch,
			rec.SrcDeviceID, rec.DstDeviceID, v.SrcDeviceID, v.DstDeviceID)
	case v.PayloadLength != rec.PayloadLength || v.PayloadHex() != rec.PayloadHex:
		return msg, fmt.Errorf("%w: payload differs", ErrRecordMismatch)
	case v.Checksum != rec.Checksum:
		return msg, fmt.Errorf("%w: checksum 0x%04x, raw 0x%04x", ErrRecordMismatch, rec.Checksum, v.Checksum)
	}
	return msg, nil
}
