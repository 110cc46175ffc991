package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/muurk/brlink/internal/link"
	"github.com/muurk/brlink/internal/protocol"
)

func readRecords(t *testing.T, path string) []FrameRecord {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open capture: %v", err)
	}
	defer f.Close()

	var records []FrameRecord
	err = ReadCapture(f, func(_ int, rec FrameRecord) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadCapture() error = %v", err)
	}
	return records
}

func TestCapture_Record(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "captures")
	c, err := OpenCapture(dir)
	if err != nil {
		t.Fatalf("OpenCapture() error = %v", err)
	}

	msg, _ := protocol.NewMessage(0x0102, 0x01, 0x02, []byte("BR!\x00"))
	c.Record(DirectionToLink, OriginHTTP, msg, nil)

	bad := msg.Clone()
	bad.Checksum++
	c.Record(DirectionFromLink, OriginSerial, bad, errors.New("checksum mismatch"))

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Records after Close are ignored.
	c.Record(DirectionToLink, OriginHTTP, msg, nil)

	records := readRecords(t, c.Path())
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	first := records[0]
	if first.Seq != 1 || first.Direction != DirectionToLink || first.Origin != OriginHTTP {
		t.Errorf("first record = %+v", first)
	}
	if first.MessageID != 0x0102 || first.SrcDeviceID != 0x01 || first.DstDeviceID != 0x02 {
		t.Errorf("first record header fields = %+v", first)
	}
	if first.PayloadHex != "42522100" || first.PayloadASCII != "BR!." {
		t.Errorf("payload = %q / %q", first.PayloadHex, first.PayloadASCII)
	}
	if !first.Valid || first.Error != "" {
		t.Errorf("first record should be valid, got %+v", first)
	}

	second := records[1]
	if second.Seq != 2 || second.Valid || second.Error == "" {
		t.Errorf("second record should be invalid with error, got %+v", second)
	}
}

func TestCapture_NilIsNoop(t *testing.T) {
	var c *Capture
	msg, _ := protocol.NewMessage(1, 1, 2, nil)
	c.Record(DirectionToLink, OriginHTTP, msg, nil)
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil capture error = %v", err)
	}
	if c.Path() != "" {
		t.Errorf("Path() on nil capture = %q", c.Path())
	}
}

func TestBridge_CapturesBothDirections(t *testing.T) {
	dir := t.TempDir()
	b, err := New(Config{CaptureDir: dir}, link.New(link.NewTestablePort(nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	msg, _ := protocol.NewMessage(5, 2, 1, []byte{0xaa})
	b.HandleEvent(link.Event{Message: msg})
	if err := b.send(msg, OriginWebSocket); err != nil {
		t.Fatalf("send() error = %v", err)
	}
	path := b.capture.Path()
	if err := b.capture.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	records := readRecords(t, path)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Direction != DirectionFromLink || records[1].Direction != DirectionToLink {
		t.Errorf("directions = %q, %q", records[0].Direction, records[1].Direction)
	}
}

func TestReadCapture_SkipsBlankAndReportsBadLine(t *testing.T) {
	input := `{"seq":1,"message_id":5}

{"seq":2,"message_id":6}
not json
`
	var seqs []uint64
	err := ReadCapture(strings.NewReader(input), func(line int, rec FrameRecord) error {
		seqs = append(seqs, rec.Seq)
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "line 4") {
		t.Errorf("ReadCapture() error = %v, want error naming line 4", err)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Errorf("records = %v, want [1 2]", seqs)
	}
}

func TestCapture_MaxPayloadReadsBack(t *testing.T) {
	tests := []struct {
		name string
		fill byte
	}{
		{"hex bytes", 0xa5},
		{"html characters", '<'},
		{"quotes", '"'},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := OpenCapture(t.TempDir())
			if err != nil {
				t.Fatalf("OpenCapture() error = %v", err)
			}

			payload := bytes.Repeat([]byte{tt.fill}, protocol.MaxPayloadLen)
			msg, err := protocol.NewMessage(0x0001, 0x01, 0x02, payload)
			if err != nil {
				t.Fatalf("NewMessage() error = %v", err)
			}
			c.Record(DirectionFromLink, OriginSerial, msg, nil)
			if err := c.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			records := readRecords(t, c.Path())
			if len(records) != 1 {
				t.Fatalf("got %d records, want 1", len(records))
			}
			if _, err := VerifyRecord(records[0]); err != nil {
				t.Errorf("VerifyRecord() error = %v", err)
			}
		})
	}
}

func TestReadCapture_HTMLEscapedMaxRecord(t *testing.T) {
	payload := bytes.Repeat([]byte{'&'}, protocol.MaxPayloadLen)
	msg, err := protocol.NewMessage(0x0002, 0x01, 0x02, payload)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	// json.Marshal escapes '&' as \u0026, the largest form a record can take.
	line, err := json.Marshal(FrameRecord{
		Seq:           1,
		MessageID:     msg.MessageID,
		PayloadLength: msg.PayloadLength,
		Valid:         true,
		PayloadASCII:  string(payload),
		PayloadHex:    strings.Repeat("26", protocol.MaxPayloadLen),
		RawFrameHex:   strings.Repeat("ff", protocol.FrameLength(protocol.MaxPayloadLen)),
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	count := 0
	err = ReadCapture(bytes.NewReader(append(line, '\n')), func(_ int, rec FrameRecord) error {
		count++
		if rec.PayloadASCII != string(payload) {
			t.Errorf("payload_ascii length = %d, want %d", len(rec.PayloadASCII), len(payload))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ReadCapture() error = %v", err)
	}
	if count != 1 {
		t.Errorf("got %d records, want 1", count)
	}
}

func TestReadCapture_StopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := ReadCapture(strings.NewReader("{}\n{}\n{}\n"), func(int, FrameRecord) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("ReadCapture() error = %v, want %v", err, stop)
	}
	if calls != 1 {
		t.Errorf("callback calls = %d, want 1", calls)
	}
}

func TestVerifyRecord(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenCapture(dir)
	if err != nil {
		t.Fatalf("OpenCapture() error = %v", err)
	}
	msg, _ := protocol.NewMessage(0x0001, 0x01, 0x02, []byte{0x10, 0x20, 0x30})
	bad := msg.Clone()
	bad.Payload[0] = 0x11
	c.Record(DirectionFromLink, OriginSerial, msg, nil)
	c.Record(DirectionFromLink, OriginSerial, bad, errors.New("checksum mismatch"))
	_ = c.Close()

	records := readRecords(t, c.Path())
	for _, rec := range records {
		if _, err := VerifyRecord(rec); err != nil {
			t.Errorf("VerifyRecord(seq %d) error = %v", rec.Seq, err)
		}
	}

	tests := []struct {
		name   string
		mutate func(*FrameRecord)
	}{
		{"validity flipped", func(r *FrameRecord) { r.Valid = false }},
		{"message id", func(r *FrameRecord) { r.MessageID = 9 }},
		{"devices", func(r *FrameRecord) { r.DstDeviceID = 9 }},
		{"payload", func(r *FrameRecord) { r.PayloadHex = "000000" }},
		{"checksum", func(r *FrameRecord) { r.Checksum = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := records[0]
			tt.mutate(&rec)
			if _, err := VerifyRecord(rec); !errors.Is(err, ErrRecordMismatch) {
				t.Errorf("VerifyRecord() error = %v, want ErrRecordMismatch", err)
			}
		})
	}

	t.Run("bad hex", func(t *testing.T) {
		rec := records[0]
		rec.RawFrameHex = "zz"
		if _, err := VerifyRecord(rec); err == nil || errors.Is(err, ErrRecordMismatch) {
			t.Errorf("VerifyRecord() error = %v, want hex error", err)
		}
	})

	t.Run("truncated frame", func(t *testing.T) {
		rec := records[0]
		rec.RawFrameHex = rec.RawFrameHex[:10]
		if _, err := VerifyRecord(rec); err == nil {
			t.Error("VerifyRecord() should fail on a truncated frame")
		}
	})
}
