// Package uartl implements a minimal link layer over an error-free byte
// channel such as a UART: a JOIN/ACK handshake, LEAVE teardown, and
// ESC-delimited data frames handed to the application through a single
// caller-owned buffer.
package uartl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bigbag/uartl/internal/protocol"
)

// receiveBackoff is the pause after a failed receive before the next one.
const receiveBackoff = 50 * time.Millisecond

// Forever is the timeout value meaning "block until done".
const Forever time.Duration = -1

// Channel is the byte transport under the link. Both calls block until all
// of p is transferred or the timeout expires.
type Channel interface {
	Transmit(p []byte, timeout time.Duration) error
	Receive(p []byte, timeout time.Duration) error
}

// ChannelFuncs adapts a pair of functions to Channel.
type ChannelFuncs struct {
	Tx func(p []byte, timeout time.Duration) error
	Rx func(p []byte, timeout time.Duration) error
}

// Transmit implements Channel.
func (f ChannelFuncs) Transmit(p []byte, timeout time.Duration) error {
	return f.Tx(p, timeout)
}

// Receive implements Channel.
func (f ChannelFuncs) Receive(p []byte, timeout time.Duration) error {
	return f.Rx(p, timeout)
}

// State is the connection lifecycle of a Link.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Leaving
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Leaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// Link is one end of a connection. The application calls Connect,
// Disconnect, Send and Receive; Run must be running in its own goroutine
// for anything to be received.
//
// The link state is written by both the application and the receiver
// loop without a lock. Each write is atomic and the last one wins; a
// transition is not atomic as a whole, so a Connect racing with a
// handshake that completes concurrently may be overwritten.
type Link struct {
	ch          Channel
	observer    Observer
	ackConfirms bool

	state atomic.Int32
	live  atomic.Bool
	slot  slot

	txMu  sync.Mutex
	wake  chan struct{}
	ready chan struct{}
}

// Option configures a Link.
type Option func(*options)

type options struct {
	observers   []Observer
	ackConfirms bool
}

// WithObserver adds an observer for link events.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observers = append(opts.observers, o)
	}
}

// WithAckConfirm makes an ACK received while Connecting complete the
// handshake, as if the peer had sent JOIN. A host uses it to connect to a
// peer whose own JOIN was sent before the host started listening; that
// peer only acknowledges the host's JOIN.
func WithAckConfirm() Option {
	return func(opts *options) {
		opts.ackConfirms = true
	}
}

// WithLogger logs link events to logger.
func WithLogger(logger *slog.Logger) Option {
	return WithObserver(NewLogObserver(logger))
}

// New creates a disconnected Link over ch. buf is the frame slot; its
// length is the largest frame that can be received. The Link keeps buf
// for its whole lifetime.
func New(ch Channel, buf []byte, opts ...Option) *Link {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	l := &Link{
		ch:          ch,
		observer:    Observers(o.observers...),
		ackConfirms: o.ackConfirms,
		wake:        make(chan struct{}, 1),
		ready:       make(chan struct{}, 1),
	}
	l.slot.buf = buf
	l.state.Store(int32(Disconnected))
	return l
}

// State returns the current link state.
func (l *Link) State() State {
	return State(l.state.Load())
}

// IsConnected reports whether the handshake has completed.
func (l *Link) IsConnected() bool {
	return l.State() == Connected
}

// Live reports whether the receiver loop is running.
func (l *Link) Live() bool {
	return l.live.Load()
}

// Capacity returns the largest frame size the link can receive.
func (l *Link) Capacity() int {
	return len(l.slot.buf)
}

// Connect starts the handshake by sending JOIN. The link becomes Connected
// once the receiver loop sees the peer's JOIN. Transmit failures are
// reported to the observer only.
func (l *Link) Connect(timeout time.Duration) error {
	if l.State() == Connected {
		return nil
	}

	l.setState(Connecting)
	if err := l.transmitControl(protocol.Join, timeout); err != nil {
		l.observer.TransportError("join", err)
	}
	return nil
}

// Disconnect aborts a handshake in progress. LEAVE is only sent when the
// link is already Disconnected; in any other state the call does nothing.
func (l *Link) Disconnect(timeout time.Duration) error {
	st := l.State()
	if st == Connecting {
		l.setState(Disconnected)
		return nil
	}
	// TODO: LEAVE is never sent from Connected. Revisit once the peer
	// firmware defines teardown of an established link.
	if st != Disconnected {
		return nil
	}

	l.setState(Leaving)
	if err := l.transmitControl(protocol.Leave, timeout); err != nil {
		l.observer.TransportError("leave", err)
	}
	l.setState(Disconnected)
	return nil
}

// Send transmits p as one data frame. Payload bytes go out unescaped, so p
// must not contain protocol.Esc.
func (l *Link) Send(p []byte, timeout time.Duration) error {
	if !l.IsConnected() {
		return ErrNotConnected
	}

	l.txMu.Lock()
	defer l.txMu.Unlock()

	if err := l.ch.Transmit(protocol.EncodeFrame(p), timeout); err != nil {
		return fmt.Errorf("failed to send %d byte frame: %w", len(p), err)
	}
	return nil
}

// Receive copies the waiting frame into p. It returns ErrNoData if no
// frame is complete, and ErrTooBig, leaving the frame in place, if p is
// shorter than the frame.
func (l *Link) Receive(p []byte) (int, error) {
	return l.slot.take(p)
}

// Wait is like Receive but blocks until a frame arrives or ctx is done.
func (l *Link) Wait(ctx context.Context, p []byte) (int, error) {
	for {
		n, err := l.Receive(p)
		if !errors.Is(err, ErrNoData) {
			return n, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-l.ready:
		}
	}
}

// Run is the receiver loop. It reads the channel one byte at a time while
// the link is Connecting or Connected and idles otherwise. It returns when
// ctx is done or the channel reports it is closed; a receive blocked in the
// channel is only interrupted by closing the channel. Other receive errors
// are reported and retried after a short pause.
func (l *Link) Run(ctx context.Context) error {
	if !l.live.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.live.Store(false)

	d := newDecoder(l)
	var b [1]byte

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		st := l.State()
		if st != Connected && st != Connecting {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.wake:
			}
			continue
		}

		if err := l.ch.Receive(b[:], Forever); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isClosed(err) {
				return fmt.Errorf("receiver loop stopped: %w", err)
			}
			l.observer.TransportError("receive", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(receiveBackoff):
			}
			continue
		}
		d.step(st, b[0])
	}
}

func (l *Link) setState(to State) {
	from := State(l.state.Swap(int32(to)))
	if from == to {
		return
	}
	l.observer.StateChanged(from, to)
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Link) notifyFrame() {
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// ack answers a JOIN from the receiver loop. Failures are not retried.
func (l *Link) ack() {
	if err := l.transmitControl(protocol.Ack, Forever); err != nil {
		l.observer.TransportError("ack", err)
	}
}

func (l *Link) transmitControl(ctrl byte, timeout time.Duration) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()

	header := protocol.ControlHeader(ctrl)
	if err := l.ch.Transmit(header[:], timeout); err != nil {
		return fmt.Errorf("failed to send %s: %w", protocol.ControlName(ctrl), err)
	}
	return nil
}
