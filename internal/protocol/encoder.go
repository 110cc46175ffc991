package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
)

// Global message ID counter (thread-safe)
var messageIDCounter uint32

// NewMessage builds a sealed message ready to serialize.
//
// The payload is copied, PayloadLength is set from it and the checksum is
// computed and stored.
//
// Example:
//
//	msg, err := NewMessage(GenerateMessageID(), 0x01, 0x02, []byte{0x10, 0x20, 0x30})
func NewMessage(messageID uint16, src, dst uint8, payload []byte) (*Message, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadLen)
	}

	msg := &Message{
		PayloadLength: uint16(len(payload)),
		MessageID:     messageID,
		SrcDeviceID:   src,
		DstDeviceID:   dst,
		Payload:       append([]byte(nil), payload...),
	}
	msg.Seal()
	return msg, nil
}

// GenerateMessageID returns sequential message IDs for outgoing frames.
// Zero is skipped so it can mean "unset". Safe for concurrent use.
func GenerateMessageID() uint16 {
	for {
		id := uint16(atomic.AddUint32(&messageIDCounter, 1))
		if id != 0 {
			return id
		}
	}
}

// Serialize writes the frame to w in wire order: magic, header, payload,
// checksum.
//
// The stored Checksum is written as-is; seal the message first. The first
// write error is returned immediately. Bytes already written are not rolled
// back, so a failure can leave a partial frame on the sink.
func (v MessageView) Serialize(w io.Writer) error {
	var hb [FixedLen]byte
	copy(hb[:MagicLen], Magic[:])
	putHeader(hb[MagicLen:], v.header())

	if _, err := w.Write(hb[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if len(v.Payload) > 0 {
		if _, err := w.Write(v.Payload); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}

	var cb [ChecksumLen]byte
	binary.LittleEndian.PutUint16(cb[:], v.Checksum)
	if _, err := w.Write(cb[:]); err != nil {
		return fmt.Errorf("write checksum: %w", err)
	}
	return nil
}

// AppendBinary appends the serialized frame to dst.
func (v MessageView) AppendBinary(dst []byte) []byte {
	var hb [HeaderLen]byte
	putHeader(hb[:], v.header())

	dst = append(dst, Magic[:]...)
	dst = append(dst, hb[:]...)
	dst = append(dst, v.Payload...)
	return binary.LittleEndian.AppendUint16(dst, v.Checksum)
}

// Bytes returns the serialized frame.
func (v MessageView) Bytes() []byte {
	return v.AppendBinary(make([]byte, 0, FixedLen+len(v.Payload)+ChecksumLen))
}

// DecodeFrame decodes exactly one frame held entirely in frame.
//
// Leading bytes that are not the magic produce ErrInvalidStartByte, extra
// bytes after the checksum produce ErrTrailingData and a short buffer
// produces io.ErrUnexpectedEOF. Checksum failures return *ChecksumError.
func DecodeFrame(frame []byte, opts ...DecoderOption) (*Message, error) {
	d := NewDecoder(opts...)
	n, msg, err := d.Feed(frame)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("frame truncated in %s after %d bytes: %w", d.State(), n, io.ErrUnexpectedEOF)
	}
	if n != len(frame) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(frame)-n)
	}
	return msg, nil
}

// ValidateFrame checks that frame holds exactly one well-formed frame with
// a matching checksum.
//
// Useful for testing and debugging outgoing messages.
func ValidateFrame(frame []byte) error {
	if len(frame) < Overhead {
		return fmt.Errorf("frame too small: %d bytes (minimum %d)", len(frame), Overhead)
	}
	if frame[0] != Magic[0] || frame[1] != Magic[1] {
		return fmt.Errorf("%w: 0x%02x 0x%02x (expected 0x%02x 0x%02x)",
			ErrInvalidStartByte, frame[0], frame[1], Magic[0], Magic[1])
	}

	payloadLen := binary.LittleEndian.Uint16(frame[2:4])
	if want := FrameLength(payloadLen); len(frame) != want {
		return fmt.Errorf("frame size %d does not match declared payload length %d (want %d bytes)",
			len(frame), payloadLen, want)
	}

	_, err := DecodeFrame(frame)
	return err
}
