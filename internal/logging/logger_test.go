package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/muurk/brlink/internal/protocol"
)

func observe(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(level)
	prev := logger
	SetLogger(zap.New(core))
	t.Cleanup(func() { logger = prev })
	return logs
}

func TestInitialize_SilentWithoutLevel(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger should be a no-op when no level is configured")
	}
}

func TestInitialize_FromEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")
	if err := InitializeFromEnv(); err != nil {
		t.Fatalf("InitializeFromEnv() error = %v", err)
	}
	t.Cleanup(func() { logger = nil })

	if GetLogger().Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !GetLogger().Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn should be enabled at warn level")
	}
}

func TestInitialize_UnknownLevel(t *testing.T) {
	if err := Initialize("loud"); err == nil {
		t.Error("Initialize(\"loud\") should fail")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{" warning ", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogFrame(t *testing.T) {
	msg, _ := protocol.NewMessage(0x0102, 0x01, 0x02, []byte{0xaa, 0xbb})

	t.Run("info omits payload", func(t *testing.T) {
		logs := observe(t, zapcore.InfoLevel)
		LogFrame("received", "/dev/ttyUSB0", msg.View())

		entries := logs.All()
		if len(entries) != 1 {
			t.Fatalf("got %d entries, want 1", len(entries))
		}
		ctx := entries[0].ContextMap()
		if ctx["message_id"] != uint16(0x0102) {
			t.Errorf("message_id = %v, want 258", ctx["message_id"])
		}
		if ctx["dst"] != "0x02" {
			t.Errorf("dst = %v, want 0x02", ctx["dst"])
		}
		if _, ok := ctx["payload_hex"]; ok {
			t.Error("payload_hex should only be logged at debug level")
		}
	})

	t.Run("debug includes payload", func(t *testing.T) {
		logs := observe(t, zapcore.DebugLevel)
		LogFrame("sent", "test", msg.View())

		ctx := logs.All()[0].ContextMap()
		if ctx["payload_hex"] != "aabb" {
			t.Errorf("payload_hex = %v, want aabb", ctx["payload_hex"])
		}
	})
}

func TestLogChecksumFailure(t *testing.T) {
	logs := observe(t, zapcore.InfoLevel)

	bad := &protocol.Message{PayloadLength: 1, MessageID: 5, Payload: []byte{0x01}, Checksum: 0x1234}
	LogChecksumFailure("test", &protocol.ChecksumError{Message: bad, Computed: bad.View().CalculateChecksum()})

	entries := logs.FilterLevelExact(zapcore.WarnLevel).All()
	if len(entries) != 1 {
		t.Fatalf("got %d warn entries, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["checksum"] != "0x1234" {
		t.Errorf("checksum = %v, want 0x1234", ctx["checksum"])
	}
}

func TestHexDumpTruncates(t *testing.T) {
	data := make([]byte, 300)
	got := hexDump(data)
	if !strings.HasSuffix(got, "...") {
		t.Error("hexDump() of 300 bytes should be truncated")
	}
	if len(got) != maxDumpBytes*2+3 {
		t.Errorf("len(hexDump()) = %d, want %d", len(got), maxDumpBytes*2+3)
	}
}

func TestASCIIDump(t *testing.T) {
	if got := asciiDump([]byte("BR\x00\x7f!")); got != "BR..!" {
		t.Errorf("asciiDump() = %q, want %q", got, "BR..!")
	}
}

func TestLogRawBytes(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	LogRawBytes("Rejected frame bytes", []byte("BR\x03"))

	entries := logs.FilterMessage("Rejected frame bytes").All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["hex"] != "425203" {
		t.Errorf("hex = %v, want 425203", ctx["hex"])
	}
	if ctx["ascii"] != "BR." {
		t.Errorf("ascii = %v, want BR.", ctx["ascii"])
	}
	if ctx["length"] != int64(3) {
		t.Errorf("length = %v, want 3", ctx["length"])
	}
}
