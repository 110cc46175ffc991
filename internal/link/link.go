// Package link runs the BR frame decoder over a serial port (or anything
// else that reads and writes bytes) and writes sealed frames back to it.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/brlink/internal/logging"
	"github.com/muurk/brlink/internal/protocol"
)

var (
	ErrClosed     = errors.New("link: closed")
	ErrRunning    = errors.New("link: already running")
	ErrShortWrite = errors.New("link: short write to port")
)

const (
	defaultReadSize    = 256
	defaultReadTimeout = 100 * time.Millisecond
)

// Event is delivered to a Handler for every completed frame. Err is nil for
// a valid frame. For a checksum failure Err is a *protocol.ChecksumError and
// Message still holds the decoded frame; for an oversize declaration Err is
// a *protocol.PayloadLengthError and Message is nil.
type Event struct {
	Time    time.Time
	Message *protocol.Message
	Err     error
}

// Valid reports whether the event carries a frame with a good checksum.
func (e Event) Valid() bool {
	return e.Err == nil && e.Message != nil
}

// Handler receives decoded frames. It runs on the Run goroutine and must not
// block for long.
type Handler func(Event)

// Stats is a snapshot of link counters.
type Stats struct {
	BytesRead      uint64 `json:"bytes_read"`
	BytesWritten   uint64 `json:"bytes_written"`
	FramesDecoded  uint64 `json:"frames_decoded"`
	FramesSent     uint64 `json:"frames_sent"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	OversizeFrames uint64 `json:"oversize_frames"`
	DiscardedBytes uint64 `json:"discarded_bytes"`
}

type counters struct {
	bytesRead      atomic.Uint64
	bytesWritten   atomic.Uint64
	framesDecoded  atomic.Uint64
	framesSent     atomic.Uint64
	checksumErrors atomic.Uint64
	oversizeFrames atomic.Uint64
	discardedBytes atomic.Uint64
}

// Option configures a Link.
type Option func(*Link)

// WithMaxPayloadLength rejects frames that declare a payload longer than n.
func WithMaxPayloadLength(n uint16) Option {
	return func(l *Link) {
		l.decoderOpts = append(l.decoderOpts, protocol.WithMaxPayloadLength(n))
	}
}

// WithReadSize sets how many bytes are requested from the port per read.
func WithReadSize(n int) Option {
	return func(l *Link) {
		if n > 0 {
			l.readSize = n
		}
	}
}

// WithReadTimeout sets the read timeout applied to ports implementing
// TimeoutPorter. Zero leaves the port's timeout untouched.
func WithReadTimeout(d time.Duration) Option {
	return func(l *Link) {
		l.readTimeout = d
	}
}

// WithOnStart sets a function Run calls once its read loop is live, before
// any frame is handled.
func WithOnStart(fn func()) Option {
	return func(l *Link) {
		l.onStart = fn
	}
}

// WithName sets the name used in log entries, usually the device path.
func WithName(name string) Option {
	return func(l *Link) {
		l.name = name
	}
}

// Link decodes frames from a port and serializes writes to it.
type Link struct {
	port        Porter
	name        string
	readSize    int
	readTimeout time.Duration
	decoderOpts []protocol.DecoderOption
	onStart     func()

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	running   atomic.Bool

	stats counters
}

// New creates a Link over port. The link owns the port and closes it in Close.
func New(port Porter, opts ...Option) *Link {
	l := &Link{
		port:        port,
		name:        "link",
		readSize:    defaultReadSize,
		readTimeout: defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the name used in log entries.
func (l *Link) Name() string {
	return l.name
}

// Run reads from the port, feeds every byte to a single decoder and calls
// handler for each completed frame. Bytes that do not start a frame are
// counted and dropped.
//
// Run returns nil when the port reports EOF or the link is closed, ctx.Err()
// when ctx is cancelled, and the read error otherwise. Only one Run may be
// active per Link.
func (l *Link) Run(ctx context.Context, handler Handler) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)

	if handler == nil {
		handler = func(Event) {}
	}

	if tp, ok := l.port.(TimeoutPorter); ok && l.readTimeout > 0 {
		if err := tp.SetReadTimeout(l.readTimeout); err != nil {
			return fmt.Errorf("set read timeout on %s: %w", l.name, err)
		}
	}

	dec := protocol.NewDecoder(l.decoderOpts...)
	chunks := make(chan []byte)
	readErr := make(chan error, 1)

	logging.Info("Link started", zap.String("source", l.name))
	defer logging.Info("Link stopped", zap.String("source", l.name))

	// The blocking Read stays off the select loop so cancellation is seen
	// even when the port has no read timeout.
	go func() {
		defer close(chunks)
		buf := make([]byte, l.readSize)
		for {
			n, err := l.port.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	if l.onStart != nil {
		l.onStart()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErr:
					if l.closed.Load() {
						return nil
					}
					return fmt.Errorf("read %s: %w", l.name, err)
				default:
					return ctx.Err()
				}
			}
			l.process(dec, chunk, handler)
		}
	}
}

func (l *Link) process(dec *protocol.Decoder, data []byte, handler Handler) {
	l.stats.bytesRead.Add(uint64(len(data)))

	for _, b := range data {
		msg, err := dec.ParseByte(b)
		if err == nil {
			if msg == nil {
				continue
			}
			l.stats.framesDecoded.Add(1)
			logging.LogFrame("received", l.name, msg.View())
			handler(Event{Time: time.Now(), Message: msg})
			continue
		}

		var (
			cerr *protocol.ChecksumError
			lerr *protocol.PayloadLengthError
		)
		switch {
		case errors.Is(err, protocol.ErrInvalidStartByte):
			l.stats.discardedBytes.Add(1)
		case errors.As(err, &cerr):
			l.stats.checksumErrors.Add(1)
			logging.LogChecksumFailure(l.name, cerr)
			handler(Event{Time: time.Now(), Message: cerr.Message, Err: err})
		case errors.As(err, &lerr):
			l.stats.oversizeFrames.Add(1)
			logging.Warn("Oversize frame rejected",
				zap.String("source", l.name),
				zap.Uint16("message_id", lerr.MessageID),
				zap.Uint16("declared", lerr.Declared),
				zap.Uint16("limit", lerr.Limit),
			)
			handler(Event{Time: time.Now(), Err: err})
		default:
			logging.Error("Decoder error", zap.String("source", l.name), zap.Error(err))
			handler(Event{Time: time.Now(), Err: err})
		}
	}
}

// Send writes msg to the port as a single frame. The stored checksum is
// written as-is; seal the message first if it was built by hand. Send is
// safe for concurrent use.
func (l *Link) Send(msg *protocol.Message) error {
	if l.closed.Load() {
		return ErrClosed
	}

	v := msg.View()
	frame := v.Bytes()

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	n, err := l.port.Write(frame)
	l.stats.bytesWritten.Add(uint64(n))
	if err != nil {
		return fmt.Errorf("write %s: %w", l.name, err)
	}
	if n != len(frame) {
		return ErrShortWrite
	}

	l.stats.framesSent.Add(1)
	logging.LogFrame("sent", l.name, v)
	return nil
}

// Stats returns a snapshot of the link counters.
func (l *Link) Stats() Stats {
	return Stats{
		BytesRead:      l.stats.bytesRead.Load(),
		BytesWritten:   l.stats.bytesWritten.Load(),
		FramesDecoded:  l.stats.framesDecoded.Load(),
		FramesSent:     l.stats.framesSent.Load(),
		ChecksumErrors: l.stats.checksumErrors.Load(),
		OversizeFrames: l.stats.oversizeFrames.Load(),
		DiscardedBytes: l.stats.discardedBytes.Load(),
	}
}

// Close closes the underlying port. A blocked Run returns once the port
// read fails. Close is idempotent.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		err = l.port.Close()
	})
	return err
}
