package protocol

import "fmt"

// State is the decoder's position within a frame.
type State int

const (
	StateAwaitingStart1  State = iota // waiting for Magic[0]
	StateAwaitingStart2               // waiting for Magic[1]
	StateReadingHeader                // collecting the 6 header bytes
	StateReadingPayload               // collecting payload_length bytes
	StateReadingChecksum              // collecting the 2 checksum bytes
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart1:
		return "awaiting_start1"
	case StateAwaitingStart2:
		return "awaiting_start2"
	case StateReadingHeader:
		return "reading_header"
	case StateReadingPayload:
		return "reading_payload"
	case StateReadingChecksum:
		return "reading_checksum"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithMaxPayloadLength rejects frames whose header declares more than n
// payload bytes. Without it the decoder trusts the header and may allocate
// up to MaxPayloadLen bytes before the checksum is seen.
func WithMaxPayloadLength(n uint16) DecoderOption {
	return func(d *Decoder) {
		d.maxPayload = n
		d.limitPayload = true
	}
}

// Decoder is an incremental frame decoder fed one byte at a time.
//
// A Decoder holds exactly one partial frame, so it must not be shared
// between streams or goroutines. Use one Decoder per byte stream.
type Decoder struct {
	state State

	// Per-phase buffers. Only the one matching state is meaningful.
	header      [HeaderLen]byte
	headerIdx   int
	payload     []byte
	checksum    [ChecksumLen]byte
	checksumIdx int

	msg Message

	maxPayload   uint16
	limitPayload bool
}

// NewDecoder creates a decoder waiting for the first magic byte.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current phase.
func (d *Decoder) State() State {
	return d.state
}

// Reset discards any partial frame and waits for Magic[0] again.
func (d *Decoder) Reset() {
	d.state = StateAwaitingStart1
	d.headerIdx = 0
	d.payload = nil
	d.checksumIdx = 0
	d.msg = Message{}
}

// ParseByte advances the decoder by one byte.
//
// It returns (nil, nil) while a frame is in progress, the completed message
// once its checksum trailer has been read, or an error:
//   - ErrInvalidStartByte when a magic byte does not match
//   - *ChecksumError carrying the decoded message when the checksum is wrong
//   - *PayloadLengthError when a configured payload limit is exceeded
func (d *Decoder) ParseByte(b byte) (*Message, error) {
	switch d.state {
	case StateAwaitingStart1:
		if b != Magic[0] {
			// Stay put so the caller can keep hunting for Magic[0].
			return nil, ErrInvalidStartByte
		}
		d.state = StateAwaitingStart2
		return nil, nil

	case StateAwaitingStart2:
		if b != Magic[1] {
			d.Reset()
			return nil, ErrInvalidStartByte
		}
		d.headerIdx = 0
		d.state = StateReadingHeader
		return nil, nil

	case StateReadingHeader:
		d.header[d.headerIdx] = b
		d.headerIdx++
		if d.headerIdx < HeaderLen {
			return nil, nil
		}

		h := parseHeader(&d.header)
		d.msg.PayloadLength = h.payloadLength
		d.msg.MessageID = h.messageID
		d.msg.SrcDeviceID = h.srcDeviceID
		d.msg.DstDeviceID = h.dstDeviceID

		if d.limitPayload && h.payloadLength > d.maxPayload {
			err := &PayloadLengthError{
				Declared:  h.payloadLength,
				Limit:     d.maxPayload,
				MessageID: h.messageID,
			}
			d.Reset()
			return nil, err
		}

		if h.payloadLength == 0 {
			d.checksumIdx = 0
			d.state = StateReadingChecksum
		} else {
			d.payload = make([]byte, 0, h.payloadLength)
			d.state = StateReadingPayload
		}
		return nil, nil

	case StateReadingPayload:
		d.payload = append(d.payload, b)
		if len(d.payload) == int(d.msg.PayloadLength) {
			// Hand the buffer to the message; the decoder keeps no alias.
			d.msg.Payload = d.payload
			d.payload = nil
			d.checksumIdx = 0
			d.state = StateReadingChecksum
		}
		return nil, nil

	case StateReadingChecksum:
		d.checksum[d.checksumIdx] = b
		d.checksumIdx++
		if d.checksumIdx < ChecksumLen {
			return nil, nil
		}

		msg := d.msg
		msg.Checksum = uint16(d.checksum[0]) | uint16(d.checksum[1])<<8
		d.Reset()

		computed := msg.View().CalculateChecksum()
		if msg.Checksum != computed {
			return nil, &ChecksumError{Message: &msg, Computed: computed}
		}
		return &msg, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("protocol: decoder in invalid state %d", int(d.state))
	}
}

// Feed passes bytes from data to ParseByte until a frame completes or an
// error occurs. It returns how many bytes were consumed along with the
// result of the last ParseByte call. When every byte is consumed with a
// frame still in progress it returns (len(data), nil, nil).
func (d *Decoder) Feed(data []byte) (int, *Message, error) {
	for i, b := range data {
		msg, err := d.ParseByte(b)
		if msg != nil || err != nil {
			return i + 1, msg, err
		}
	}
	return len(data), nil, nil
}
