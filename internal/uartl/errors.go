package uartl

import (
	"errors"
	"io"
	"net"

	"github.com/bigbag/uartl/internal/protocol"
)

var (
	// ErrNoData indicates no complete frame is waiting in the frame slot.
	ErrNoData = errors.New(protocol.StatusNoData.Message())
	// ErrNotConnected is returned by Send unless the link is Connected.
	ErrNotConnected = errors.New(protocol.StatusNotConnected.Message())
	// ErrTooBig indicates the waiting frame does not fit the caller's buffer.
	// The frame stays in the slot.
	ErrTooBig = errors.New(protocol.StatusTooBig.Message())
	// ErrRunning is returned by Run if a receiver loop is already active.
	ErrRunning = errors.New("receiver loop already running")
)

// StatusOf maps an error returned by Link to its numeric status code.
// Errors without a sentinel, such as transport failures, map to
// StatusUnspecified.
func StatusOf(err error) protocol.Status {
	switch {
	case err == nil:
		return protocol.StatusSuccess
	case errors.Is(err, ErrNoData):
		return protocol.StatusNoData
	case errors.Is(err, ErrNotConnected):
		return protocol.StatusNotConnected
	case errors.Is(err, ErrTooBig):
		return protocol.StatusTooBig
	default:
		return protocol.StatusUnspecified
	}
}

// isClosed reports whether a receive error means the channel is gone for good.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
