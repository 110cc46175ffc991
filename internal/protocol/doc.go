// Package protocol implements the BR point-to-point frame format.
//
// This package handles decoding, validation, and construction of the binary
// frames exchanged between two addressed endpoints over an unreliable byte
// stream such as a serial link. It has no transport of its own: callers push
// received bytes into a Decoder and serialize outgoing messages to any
// io.Writer.
//
// # Frame Format
//
// Every frame has this structure (multi-byte integers are little-endian):
//   - Magic: 2 bytes, 'B' 'R' (0x42 0x52)
//   - Payload length: 2 bytes
//   - Message ID: 2 bytes
//   - Source device ID: 1 byte
//   - Destination device ID: 1 byte
//   - Payload: payload length bytes
//   - Checksum: 2 bytes
//
// The checksum is a 16-bit wrapping sum of every preceding byte of the frame
// (magic, header fields and payload). It detects corruption; it does not
// correct it, and it is not a CRC.
//
// # Usage Example - Decoding
//
//	dec := protocol.NewDecoder()
//	for _, b := range received {
//	    msg, err := dec.ParseByte(b)
//	    switch {
//	    case errors.Is(err, protocol.ErrInvalidStartByte):
//	        continue // garbage between frames
//	    case err != nil:
//	        var cerr *protocol.ChecksumError
//	        if errors.As(err, &cerr) {
//	            log.Printf("corrupt frame: %s", cerr.Message)
//	        }
//	    case msg != nil:
//	        handle(msg)
//	    }
//	}
//
// # Usage Example - Encoding
//
//	msg, err := protocol.NewMessage(protocol.GenerateMessageID(), 0x01, 0x02, payload)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = msg.View().Serialize(port)
//
// # Decoder Behavior
//
// The decoder consumes one byte per call and never blocks. A byte that is
// not the first magic byte is rejected without changing state. A wrong
// second magic byte is rejected and sends the decoder back to hunting for
// the first magic byte. Once both magic bytes are seen nothing else is
// revalidated until the checksum: a corrupted length field simply makes the
// decoder wait for more bytes.
//
// When a frame completes, the decoder resets before returning, so the next
// byte always starts a new frame. A checksum failure returns a
// *ChecksumError that carries the fully decoded message for diagnostics.
//
// # Resource Limits
//
// The payload length is trusted as soon as the header is read, so a corrupt
// header can make the decoder allocate up to 65535 bytes before the checksum
// exposes the problem. Use WithMaxPayloadLength to reject larger frames
// early when the application knows its maximum message size.
//
// # Thread Safety
//
// A Decoder holds one partial frame and is not safe for concurrent use; use
// one per byte stream. Encoding functions are stateless and safe for
// concurrent use. Message ID generation uses atomic operations.
package protocol
