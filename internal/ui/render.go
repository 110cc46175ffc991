package ui

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/muurk/brlink/internal/link"
	"github.com/muurk/brlink/internal/protocol"
)

// maxInlinePayload caps the payload bytes shown on a single frame line.
const maxInlinePayload = 16

// RenderMessage renders one frame as a single line:
//
//	✓ id=0x0001 0x01→0x02 len=3 sum=0x00fb  10 20 30
func RenderMessage(msg *protocol.Message, valid bool) string {
	if msg == nil {
		return InvalidStyle.Render(InvalidMarker) + " " + MetaStyle.Render("<no frame>")
	}

	marker := ValidStyle.Render(ValidMarker)
	if !valid {
		marker = InvalidStyle.Render(InvalidMarker)
	}

	v := msg.View()
	parts := []string{
		marker,
		MessageIDStyle.Render(fmt.Sprintf("id=0x%04x", v.MessageID)),
		DeviceStyle.Render(fmt.Sprintf("0x%02x→0x%02x", v.SrcDeviceID, v.DstDeviceID)),
		MetaStyle.Render(fmt.Sprintf("len=%d sum=0x%04x", v.PayloadLength, v.Checksum)),
	}

	line := strings.Join(parts, " ")
	if len(v.Payload) > 0 {
		line += "  " + PayloadStyle.Render(inlinePayload(v.Payload))
	}
	return line
}

// RenderEvent renders a link event with its timestamp. Oversize frames and
// other events without a message render as their error.
func RenderEvent(ev link.Event) string {
	ts := TimestampStyle.Render(ev.Time.Format("15:04:05.000"))
	if ev.Message == nil {
		msg := "decode error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return ts + " " + InvalidStyle.Render(InvalidMarker) + " " + ErrorMessageStyle.Render(msg)
	}
	return ts + " " + RenderMessage(ev.Message, ev.Valid())
}

// RenderDump renders a frame as a multi-line hex dump of its wire bytes.
func RenderDump(msg *protocol.Message) string {
	return strings.TrimRight(hex.Dump(msg.View().Bytes()), "\n")
}

// RenderStats renders link counters on one line.
func RenderStats(s link.Stats) string {
	return MetaStyle.Render(fmt.Sprintf(
		"rx %d  tx %d  bad-sum %d  oversize %d  skipped %dB",
		s.FramesDecoded, s.FramesSent, s.ChecksumErrors, s.OversizeFrames, s.DiscardedBytes,
	))
}

func inlinePayload(p []byte) string {
	if len(p) <= maxInlinePayload {
		return spacedHex(p)
	}
	return fmt.Sprintf("%s …(+%d)", spacedHex(p[:maxInlinePayload]), len(p)-maxInlinePayload)
}

func spacedHex(p []byte) string {
	var b strings.Builder
	for i, c := range p {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	return b.String()
}

// Since formats a duration for status lines (e.g., "3s ago").
func Since(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return time.Since(t).Truncate(time.Second).String() + " ago"
}
