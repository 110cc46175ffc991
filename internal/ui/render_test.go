package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/muurk/brlink/internal/link"
	"github.com/muurk/brlink/internal/protocol"
)

func TestRenderMessage(t *testing.T) {
	msg, err := protocol.NewMessage(0x0001, 0x01, 0x02, []byte{0x10, 0x20, 0x30})
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	got := RenderMessage(msg, true)
	for _, want := range []string{ValidMarker, "id=0x0001", "0x01→0x02", "len=3 sum=0x00fb", "10 20 30"} {
		if !strings.Contains(got, want) {
			t.Errorf("RenderMessage() = %q, missing %q", got, want)
		}
	}

	if got := RenderMessage(msg, false); !strings.Contains(got, InvalidMarker) {
		t.Errorf("RenderMessage(invalid) = %q, missing %q", got, InvalidMarker)
	}
}

func TestRenderMessage_EmptyPayload(t *testing.T) {
	msg, _ := protocol.NewMessage(0x0102, 0x03, 0x04, nil)
	got := RenderMessage(msg, true)
	if !strings.Contains(got, "len=0") {
		t.Errorf("RenderMessage() = %q, missing len=0", got)
	}
	if strings.Contains(got, "  ") {
		t.Errorf("RenderMessage() = %q, should have no payload column", got)
	}
}

func TestRenderMessage_Nil(t *testing.T) {
	if got := RenderMessage(nil, true); !strings.Contains(got, "<no frame>") {
		t.Errorf("RenderMessage(nil) = %q", got)
	}
}

func TestInlinePayload(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"empty", nil, ""},
		{"short", []byte{0x00, 0xff}, "00 ff"},
		{"exact", make([]byte, maxInlinePayload), strings.TrimSpace(strings.Repeat("00 ", maxInlinePayload))},
		{"long", make([]byte, maxInlinePayload+4), strings.TrimSpace(strings.Repeat("00 ", maxInlinePayload)) + " …(+4)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inlinePayload(tt.in); got != tt.want {
				t.Errorf("inlinePayload() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderEvent(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)

	t.Run("frame", func(t *testing.T) {
		msg, _ := protocol.NewMessage(7, 1, 2, []byte{0xaa})
		got := RenderEvent(link.Event{Time: ts, Message: msg})
		if !strings.Contains(got, "03:04:05.006") {
			t.Errorf("RenderEvent() = %q, missing timestamp", got)
		}
		if !strings.Contains(got, ValidMarker) {
			t.Errorf("RenderEvent() = %q, missing %q", got, ValidMarker)
		}
	})

	t.Run("error without message", func(t *testing.T) {
		got := RenderEvent(link.Event{Time: ts, Err: errors.New("payload too large")})
		if !strings.Contains(got, "payload too large") {
			t.Errorf("RenderEvent() = %q, missing error text", got)
		}
	})
}

func TestRenderDump(t *testing.T) {
	msg, _ := protocol.NewMessage(0x0001, 0x01, 0x02, []byte{0x10, 0x20, 0x30})
	got := RenderDump(msg)
	if !strings.HasPrefix(got, "00000000  42 52 03 00 01 00 01 02  10 20 30 fb 00 ") {
		t.Errorf("RenderDump() = %q", got)
	}
	if !strings.HasSuffix(got, "|BR........ 0..|") {
		t.Errorf("RenderDump() = %q, want ascii column", got)
	}
}

func TestRenderStats(t *testing.T) {
	got := RenderStats(link.Stats{FramesDecoded: 3, FramesSent: 1, ChecksumErrors: 2, DiscardedBytes: 9})
	for _, want := range []string{"rx 3", "tx 1", "bad-sum 2", "skipped 9B"} {
		if !strings.Contains(got, want) {
			t.Errorf("RenderStats() = %q, missing %q", got, want)
		}
	}
}

func TestSince(t *testing.T) {
	if got := Since(time.Time{}); got != "never" {
		t.Errorf("Since(zero) = %q, want never", got)
	}
	if got := Since(time.Now().Add(-3 * time.Second)); !strings.HasSuffix(got, " ago") {
		t.Errorf("Since() = %q, want suffix \" ago\"", got)
	}
}

func TestRenderBoxes(t *testing.T) {
	header := RenderHeader("send frame", "brlink send", []Field{{"Port", "/dev/ttyUSB0"}}, 80)
	for _, want := range []string{"SEND FRAME", "brlink send", "Port:", "/dev/ttyUSB0"} {
		if !strings.Contains(header, want) {
			t.Errorf("RenderHeader() missing %q", want)
		}
	}

	ok := RenderSuccessBox("Frame sent", []Field{{"Bytes", "13"}}, 80)
	if !strings.Contains(ok, "Frame sent") || !strings.Contains(ok, "13") {
		t.Errorf("RenderSuccessBox() = %q", ok)
	}

	fail := RenderErrorBox("Send failed", errors.New("port busy"), []string{"Close other programs"}, 80)
	for _, want := range []string{"Send failed", "port busy", "Close other programs"} {
		if !strings.Contains(fail, want) {
			t.Errorf("RenderErrorBox() missing %q", want)
		}
	}
}

func TestPrinter(t *testing.T) {
	var buf strings.Builder
	p := NewPrinter(&buf)
	p.Println("hello")
	p.Printf("%d frames\n", 2)
	if got, want := buf.String(), "hello\n2 frames\n"; got != want {
		t.Errorf("Printer output = %q, want %q", got, want)
	}
	if p.Width() < MinTerminalWidth {
		t.Errorf("Width() = %d, want >= %d", p.Width(), MinTerminalWidth)
	}
}
