package uartl

import "log/slog"

// DropReason tells why a frame in progress was discarded.
type DropReason int

const (
	// DropOverflow means the frame did not fit the slot or the previous
	// frame was still unread.
	DropOverflow DropReason = iota
	// DropMalformed means an escape sequence inside the frame was invalid.
	DropMalformed
)

func (r DropReason) String() string {
	switch r {
	case DropOverflow:
		return "overflow"
	case DropMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Observer receives link events. Implementations must be safe for use from
// both the receiver loop and the application goroutine, and must not block.
type Observer interface {
	StateChanged(from, to State)
	FrameCompleted(size int)
	FrameDropped(reason DropReason)
	TransportError(op string, err error)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State) {}
func (nopObserver) FrameCompleted(int) {}
func (nopObserver) FrameDropped(DropReason) {}
func (nopObserver) TransportError(string, error) {}

type multiObserver []Observer

// Observers fans events out to every non-nil observer in order.
func Observers(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	switch len(m) {
	case 0:
		return nopObserver{}
	case 1:
		return m[0]
	}
	return m
}

func (m multiObserver) StateChanged(from, to State) {
	for _, o := range m {
		o.StateChanged(from, to)
	}
}

func (m multiObserver) FrameCompleted(size int) {
	for _, o := range m {
		o.FrameCompleted(size)
	}
}

func (m multiObserver) FrameDropped(reason DropReason) {
	for _, o := range m {
		o.FrameDropped(reason)
	}
}

func (m multiObserver) TransportError(op string, err error) {
	for _, o := range m {
		o.TransportError(op, err)
	}
}

// logObserver writes link events to a slog.Logger.
type logObserver struct {
	logger *slog.Logger
}

// NewLogObserver returns an Observer that logs events. A nil logger means
// slog.Default().
func NewLogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return logObserver{logger: logger}
}

func (o logObserver) StateChanged(from, to State) {
	o.logger.Info("link state changed", "from", from.String(), "to", to.String())
}

func (o logObserver) FrameCompleted(size int) {
	o.logger.Debug("frame received", "size", size)
}

func (o logObserver) FrameDropped(reason DropReason) {
	o.logger.Warn("frame dropped", "reason", reason.String())
}

func (o logObserver) TransportError(op string, err error) {
	o.logger.Warn("transport error", "op", op, "error", err)
}
