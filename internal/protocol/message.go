package protocol

import (
	"encoding/hex"
	"fmt"
)

// Message is a frame whose payload is owned by the message.
//
// The decoder builds one incrementally and hands it to the caller once the
// checksum trailer has been read. Senders build one with NewMessage.
type Message struct {
	PayloadLength uint16
	MessageID     uint16
	SrcDeviceID   uint8
	DstDeviceID   uint8
	Payload       []byte
	Checksum      uint16
}

// MessageView is a read-only view of a Message.
//
// Payload aliases the owning message's buffer. A view is only valid while
// the owner is alive and unmodified; do not retain it past that.
type MessageView struct {
	PayloadLength uint16
	MessageID     uint16
	SrcDeviceID   uint8
	DstDeviceID   uint8
	Payload       []byte
	Checksum      uint16
}

// View returns a view borrowing m's payload without copying it.
func (m *Message) View() MessageView {
	return MessageView{
		PayloadLength: m.PayloadLength,
		MessageID:     m.MessageID,
		SrcDeviceID:   m.SrcDeviceID,
		DstDeviceID:   m.DstDeviceID,
		Payload:       m.Payload,
		Checksum:      m.Checksum,
	}
}

// Seal stores the computed checksum on the message.
func (m *Message) Seal() {
	m.Checksum = m.View().CalculateChecksum()
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	c := *m
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	return &c
}

// String returns a debug representation of the message
func (m *Message) String() string {
	return m.View().String()
}

func (v MessageView) header() header {
	return header{
		payloadLength: v.PayloadLength,
		messageID:     v.MessageID,
		srcDeviceID:   v.SrcDeviceID,
		dstDeviceID:   v.DstDeviceID,
	}
}

// CalculateChecksum returns the 16-bit wrapping sum of the magic, header
// fields and payload bytes. The stored Checksum is not included.
func (v MessageView) CalculateChecksum() uint16 {
	return checksum(v.header(), v.Payload)
}

// HasValidChecksum reports whether the stored checksum matches the
// recomputed one.
func (v MessageView) HasValidChecksum() bool {
	return v.Checksum == v.CalculateChecksum()
}

// Length returns the total frame size on the wire.
func (v MessageView) Length() int {
	return FrameLength(v.PayloadLength)
}

// String returns a debug representation of the message
func (v MessageView) String() string {
	return fmt.Sprintf("Message{id=%d (0x%04x), src=0x%02x, dst=0x%02x, len=%d, checksum=0x%04x}",
		v.MessageID, v.MessageID, v.SrcDeviceID, v.DstDeviceID, v.PayloadLength, v.Checksum)
}

// PayloadHex returns the payload as a lowercase hex string.
func (v MessageView) PayloadHex() string {
	return hex.EncodeToString(v.Payload)
}
