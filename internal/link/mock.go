package link

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// TestablePort is an in-memory Porter for tests and dry runs. Reads drain
// the data given to it; once drained a port returns io.EOF, or blocks until
// more data is fed or it is closed when created with NewBlockingTestablePort.
type TestablePort struct {
	mu   sync.Mutex
	cond *sync.Cond

	readBuf bytes.Buffer
	written bytes.Buffer
	block   bool
	closed  bool

	readErr    error
	writeErr   error
	closeErr   error
	shortWrite bool

	readTimeout time.Duration
}

// NewTestablePort returns a port whose reads yield data and then io.EOF.
func NewTestablePort(data []byte) *TestablePort {
	p := &TestablePort{}
	p.cond = sync.NewCond(&p.mu)
	p.readBuf.Write(data)
	return p
}

// NewBlockingTestablePort returns an empty port whose reads wait for Feed.
func NewBlockingTestablePort() *TestablePort {
	p := NewTestablePort(nil)
	p.block = true
	return p
}

func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.readBuf.Len() == 0 && p.block && !p.closed && p.readErr == nil {
		p.cond.Wait()
	}
	if p.readBuf.Len() > 0 {
		return p.readBuf.Read(b)
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	return 0, io.EOF
}

func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.shortWrite && len(b) > 1 {
		b = b[:len(b)-1]
	}
	return p.written.Write(b)
}

func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.cond.Broadcast()
	return p.closeErr
}

// SetReadTimeout records the timeout; the port itself never times out.
func (p *TestablePort) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = timeout
	return nil
}

// Feed appends data for subsequent reads.
func (p *TestablePort) Feed(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.Write(data)
	p.cond.Broadcast()
}

// FailReads makes reads return err once buffered data is drained.
func (p *TestablePort) FailReads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
	p.cond.Broadcast()
}

// FailWrites makes every write return err.
func (p *TestablePort) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// FailClose makes Close return err.
func (p *TestablePort) FailClose(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeErr = err
}

// ShortWrites makes every write drop its last byte.
func (p *TestablePort) ShortWrites() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shortWrite = true
}

// Written returns a copy of everything written to the port.
func (p *TestablePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.written.Bytes())
}

// Closed reports whether Close was called.
func (p *TestablePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ReadTimeout returns the last timeout passed to SetReadTimeout.
func (p *TestablePort) ReadTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readTimeout
}
