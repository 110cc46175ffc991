package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStartByte is returned when a byte does not match the expected
	// magic byte. The decoder stays usable; keep feeding it.
	ErrInvalidStartByte = errors.New("protocol: invalid start byte")

	// ErrChecksumMismatch is matched by every *ChecksumError.
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")

	// ErrPayloadTooLarge is returned when a payload exceeds the u16 length
	// field or a decoder's configured maximum.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")

	// ErrTrailingData is returned by DecodeFrame when bytes follow the frame.
	ErrTrailingData = errors.New("protocol: trailing data after frame")

	// ErrIncompleteData is reserved. The decoder reports partial frames as
	// in-progress and never returns this error.
	ErrIncompleteData = errors.New("protocol: incomplete data")
)

// ChecksumError reports a structurally complete frame whose checksum does
// not match. Message holds everything that was decoded.
type ChecksumError struct {
	Message  *Message
	Computed uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("protocol: checksum mismatch: frame carries 0x%04x, computed 0x%04x (id=%d, src=0x%02x, dst=0x%02x, len=%d)",
		e.Message.Checksum, e.Computed, e.Message.MessageID, e.Message.SrcDeviceID, e.Message.DstDeviceID, e.Message.PayloadLength)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// PayloadLengthError reports a header whose declared payload length exceeds
// the decoder's limit.
type PayloadLengthError struct {
	Declared  uint16
	Limit     uint16
	MessageID uint16
}

func (e *PayloadLengthError) Error() string {
	return fmt.Sprintf("protocol: payload too large: header declares %d bytes (limit %d, id=%d)",
		e.Declared, e.Limit, e.MessageID)
}

func (e *PayloadLengthError) Unwrap() error {
	return ErrPayloadTooLarge
}
