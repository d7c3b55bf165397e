package uartl

import "github.com/bigbag/uartl/internal/protocol"

type decodeState int

const (
	stateListen     decodeState = iota // waiting for ESC
	stateInit                          // ESC seen, waiting for the control byte
	stateData                          // inside a data frame
	stateDataEscape                    // ESC seen inside a data frame
)

func (s decodeState) String() string {
	switch s {
	case stateListen:
		return "listen"
	case stateInit:
		return "init"
	case stateData:
		return "data"
	case stateDataEscape:
		return "data-escape"
	default:
		return "unknown"
	}
}

// decoder turns wire bytes into control events and frames. It belongs to
// the receiver loop and is never shared.
type decoder struct {
	link  *Link
	state decodeState
}

func newDecoder(l *Link) *decoder {
	l.slot.reset()
	return &decoder{link: l, state: stateListen}
}

// step feeds b to the variant matching the link state it was read under.
func (d *decoder) step(st State, b byte) {
	switch st {
	case Connected:
		d.connected(b)
	case Connecting:
		d.waiting(b)
	}
}

// connected handles a byte while the link is up.
func (d *decoder) connected(b byte) {
	switch d.state {
	case stateListen:
		if b == protocol.Esc {
			d.state = stateInit
		}

	case stateInit:
		switch b {
		case protocol.Join:
			// Peer restarted its handshake. Acknowledge again, stay connected.
			d.link.ack()
		case protocol.Leave:
			d.link.setState(Connecting)
			d.state = stateListen
		case protocol.Data:
			d.state = stateData
		default:
			d.state = stateListen
		}

	case stateData:
		if b == protocol.Esc {
			d.state = stateDataEscape
		} else {
			d.append(b)
		}

	case stateDataEscape:
		switch b {
		case protocol.End:
			d.finish()
			d.state = stateListen
		case protocol.Esc:
			d.append(b)
			d.state = stateData
		default:
			d.reset()
			d.state = stateListen
		}
	}
}

// waiting handles a byte during the handshake. Only ESC JOIN is acted on,
// and ESC ACK if the link was created WithAckConfirm.
func (d *decoder) waiting(b byte) {
	switch {
	case d.state == stateListen && b == protocol.Esc:
		d.state = stateInit
	case d.state == stateInit:
		switch {
		case b == protocol.Join:
			d.link.ack()
			d.link.setState(Connected)
		case b == protocol.Ack && d.link.ackConfirms:
			d.link.setState(Connected)
		}
		d.state = stateListen
	}
}

func (d *decoder) append(b byte) {
	if d.link.slot.put(b) {
		d.link.observer.FrameDropped(DropOverflow)
	}
}

func (d *decoder) finish() {
	if n := d.link.slot.finish(); n > 0 {
		d.link.observer.FrameCompleted(n)
		d.link.notifyFrame()
	}
}

func (d *decoder) reset() {
	d.link.slot.reset()
	d.link.observer.FrameDropped(DropMalformed)
}
