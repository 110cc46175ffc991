package protocol

import (
	"bufio"
	"errors"
	"io"
)

// Reader pulls frames out of a byte stream using a single Decoder.
//
// Bytes that do not start a frame are skipped and counted. Checksum and
// payload limit errors are returned to the caller; the Reader remains usable
// after them.
type Reader struct {
	r         *bufio.Reader
	dec       *Decoder
	discarded uint64
}

// NewReader wraps r. Options are passed to the underlying Decoder.
func NewReader(r io.Reader, opts ...DecoderOption) *Reader {
	return &Reader{
		r:   bufio.NewReader(r),
		dec: NewDecoder(opts...),
	}
}

// ReadMessage blocks until a full frame has been read.
//
// At end of stream it returns io.EOF if no frame was in progress and
// io.ErrUnexpectedEOF otherwise.
func (r *Reader) ReadMessage() (*Message, error) {
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && r.dec.State() != StateAwaitingStart1 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		msg, err := r.dec.ParseByte(b)
		switch {
		case errors.Is(err, ErrInvalidStartByte):
			r.discarded++
			continue
		case err != nil:
			return nil, err
		case msg != nil:
			return msg, nil
		}
	}
}

// Discarded returns how many bytes were skipped while hunting for a frame
// start.
func (r *Reader) Discarded() uint64 {
	return r.discarded
}
