package protocol

import (
	"encoding/binary"
	"math"
)

// Frame layout constants
const (
	MagicLen    = 2 // 'B' 'R'
	HeaderLen   = 6 // payload_length(2) + message_id(2) + src(1) + dst(1)
	ChecksumLen = 2 // additive u16 trailer

	// FixedLen is the number of bytes preceding the payload.
	FixedLen = MagicLen + HeaderLen

	// Overhead is the size of a frame with an empty payload.
	Overhead = FixedLen + ChecksumLen

	// MaxPayloadLen is the largest payload a u16 length field can declare.
	MaxPayloadLen = math.MaxUint16
)

// Magic is the two-byte sequence that starts every frame.
var Magic = [MagicLen]byte{'B', 'R'}

// Frame layout (all multi-byte integers little-endian):
//
//	[0]     0x42           Magic 'B'
//	[1]     0x52           Magic 'R'
//	[2-3]   payload_length Payload length (uint16)
//	[4-5]   message_id     Message ID (uint16)
//	[6]     src_device_id  Source device
//	[7]     dst_device_id  Destination device
//	[8+]    payload        payload_length bytes
//	[N-2:N] checksum       Additive checksum (uint16)

// header is the decoded form of the six fixed bytes after the magic.
type header struct {
	payloadLength uint16
	messageID     uint16
	srcDeviceID   uint8
	dstDeviceID   uint8
}

func parseHeader(b *[HeaderLen]byte) header {
	return header{
		payloadLength: binary.LittleEndian.Uint16(b[0:2]),
		messageID:     binary.LittleEndian.Uint16(b[2:4]),
		srcDeviceID:   b[4],
		dstDeviceID:   b[5],
	}
}

func putHeader(b []byte, h header) {
	binary.LittleEndian.PutUint16(b[0:2], h.payloadLength)
	binary.LittleEndian.PutUint16(b[2:4], h.messageID)
	b[4] = h.srcDeviceID
	b[5] = h.dstDeviceID
}

// sum adds every byte of data to acc, wrapping at 16 bits.
func sum(acc uint16, data []byte) uint16 {
	for _, b := range data {
		acc += uint16(b)
	}
	return acc
}

// checksum computes the frame checksum over the magic, header and payload.
// The checksum field itself is never part of the sum.
func checksum(h header, payload []byte) uint16 {
	var hb [HeaderLen]byte
	putHeader(hb[:], h)

	acc := sum(0, Magic[:])
	acc = sum(acc, hb[:])
	return sum(acc, payload)
}

// FrameLength returns the on-wire size of a frame carrying payloadLength bytes.
func FrameLength(payloadLength uint16) int {
	return Overhead + int(payloadLength)
}
