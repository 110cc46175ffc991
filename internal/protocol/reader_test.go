package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"
)

func TestReader_SkipsGarbageBetweenFrames(t *testing.T) {
	second, _ := NewMessage(2, 3, 4, []byte("hello"))

	var stream bytes.Buffer
	stream.Write([]byte{0xff, 0x00, 'B', 0x13}) // noise, including a false start
	stream.Write(scenarioFrame)
	stream.Write([]byte{0x99})
	stream.Write(second.View().Bytes())

	// One byte per Read exercises resumption across reads.
	r := NewReader(iotest.OneByteReader(&stream))

	first, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if first.MessageID != 1 {
		t.Errorf("first MessageID = %d, want 1", first.MessageID)
	}

	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if string(got.Payload) != "hello" {
		t.Errorf("second payload = %q, want %q", got.Payload, "hello")
	}
	if r.Discarded() != 4 {
		t.Errorf("Discarded() = %d, want 4", r.Discarded())
	}

	if _, err := r.ReadMessage(); !errors.Is(err, io.EOF) {
		t.Errorf("ReadMessage() at end error = %v, want io.EOF", err)
	}
}

func TestReader_ChecksumErrorThenRecovers(t *testing.T) {
	bad := append([]byte{}, scenarioFrame...)
	bad[8] = 0x11

	r := NewReader(bytes.NewReader(append(bad, scenarioFrame...)))

	_, err := r.ReadMessage()
	var cerr *ChecksumError
	if !errors.As(err, &cerr) {
		t.Fatalf("ReadMessage() error = %v, want *ChecksumError", err)
	}
	if cerr.Message.Payload[0] != 0x11 {
		t.Errorf("error payload[0] = 0x%02x, want 0x11", cerr.Message.Payload[0])
	}

	msg, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() after checksum error = %v", err)
	}
	if msg.Payload[0] != 0x10 {
		t.Errorf("payload[0] = 0x%02x, want 0x10", msg.Payload[0])
	}
}

func TestReader_TruncatedFrame(t *testing.T) {
	r := NewReader(bytes.NewReader(scenarioFrame[:7]))
	if _, err := r.ReadMessage(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadMessage() error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReader_PassesDecoderOptions(t *testing.T) {
	r := NewReader(bytes.NewReader(scenarioFrame), WithMaxPayloadLength(2))
	if _, err := r.ReadMessage(); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("ReadMessage() error = %v, want ErrPayloadTooLarge", err)
	}
}
