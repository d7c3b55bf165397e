// Package loopback provides an in-memory, cross-connected pair of byte
// channels. Whatever one endpoint transmits the other receives, in order.
package loopback

import (
	"errors"
	"io"
	"sync"
	"time"
)

// ErrClosed is returned by operations on a closed endpoint.
var ErrClosed = io.ErrClosedPipe

// ErrTimeout is returned when a transfer does not complete in time.
var ErrTimeout = errors.New("loopback: timeout")

type pipe struct {
	bytes  chan byte
	closed chan struct{}
	once   sync.Once
}

func newPipe(size int) *pipe {
	return &pipe{
		bytes:  make(chan byte, size),
		closed: make(chan struct{}),
	}
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.closed) })
}

// Endpoint is one side of a pair. It satisfies uartl.Channel and
// io.ReadWriteCloser.
type Endpoint struct {
	rx *pipe
	tx *pipe
}

// NewPair creates two connected endpoints. size is the number of bytes
// each direction buffers before Transmit blocks.
func NewPair(size int) (*Endpoint, *Endpoint) {
	ab, ba := newPipe(size), newPipe(size)
	return &Endpoint{rx: ba, tx: ab}, &Endpoint{rx: ab, tx: ba}
}

// Transmit sends every byte of p to the peer. A negative timeout waits
// forever.
func (e *Endpoint) Transmit(p []byte, timeout time.Duration) error {
	deadline := deadlineChan(timeout)
	for _, b := range p {
		select {
		case <-e.tx.closed:
			return ErrClosed
		default:
		}
		select {
		case e.tx.bytes <- b:
		case <-e.tx.closed:
			return ErrClosed
		case <-deadline:
			return ErrTimeout
		}
	}
	return nil
}

// Receive fills p with bytes sent by the peer. A negative timeout waits
// forever.
func (e *Endpoint) Receive(p []byte, timeout time.Duration) error {
	deadline := deadlineChan(timeout)
	for i := range p {
		select {
		case b := <-e.rx.bytes:
			p[i] = b
		case <-e.rx.closed:
			return ErrClosed
		case <-deadline:
			return ErrTimeout
		}
	}
	return nil
}

// Write implements io.Writer.
func (e *Endpoint) Write(p []byte) (int, error) {
	if err := e.Transmit(p, -1); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read implements io.Reader. It blocks for the first byte and then returns
// whatever else is already buffered.
func (e *Endpoint) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := e.Receive(p[:1], -1); err != nil {
		return 0, err
	}
	n := 1
	for n < len(p) {
		select {
		case b := <-e.rx.bytes:
			p[n] = b
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// Close closes both directions. Pending and future calls on either
// endpoint fail with ErrClosed.
func (e *Endpoint) Close() error {
	e.rx.close()
	e.tx.close()
	return nil
}

func deadlineChan(timeout time.Duration) <-chan time.Time {
	if timeout < 0 {
		return nil
	}
	return time.After(timeout)
}
