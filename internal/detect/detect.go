package detect

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bigbag/uartl/internal/protocol"
	"github.com/bigbag/uartl/internal/serial"
	"github.com/bigbag/uartl/internal/uartl"
)

const (
	pollInterval  = 10 * time.Millisecond
	retryInterval = 250 * time.Millisecond
)

// Result represents a port with a peer that completed the handshake.
type Result struct {
	Port    string
	Elapsed time.Duration
}

// DetectPeer tries every available port and returns the first one whose
// peer completes the handshake within timeout.
//
// A connecting or connected peer answers JOIN with ACK; the detecting link
// counts that ACK as the handshake, see uartl.WithAckConfirm.
func DetectPeer(baudRate int, timeout time.Duration) (*Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, portName := range ports {
		result, err := tryPort(portName, baudRate, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("no peer found (last error: %w)", lastErr)
	}
	return nil, fmt.Errorf("no peer found")
}

// DetectOnPort runs the handshake on a specific port.
func DetectOnPort(portName string, baudRate int, timeout time.Duration) (*Result, error) {
	return tryPort(portName, baudRate, timeout)
}

// ListPeers tries all ports and returns every one with a peer.
func ListPeers(baudRate int, timeout time.Duration) ([]Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, portName := range ports {
		result, err := tryPort(portName, baudRate, timeout)
		if err == nil {
			results = append(results, *result)
		}
	}

	return results, nil
}

func tryPort(portName string, baudRate int, timeout time.Duration) (*Result, error) {
	port, err := serial.Open(portName, baudRate)
	if err != nil {
		return nil, err
	}

	// Stale bytes from a previous session would confuse the handshake
	port.Flush()

	elapsed, err := Handshake(port, port, timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", portName, err)
	}

	return &Result{
		Port:    portName,
		Elapsed: elapsed,
	}, nil
}

// Establish connects link and waits for the handshake to complete. JOIN
// is repeated every retryInterval until the link is connected. A link to
// a peer that may have sent its own JOIN before we listened must be
// created with uartl.WithAckConfirm, or only the peer will connect.
// link's receiver loop must be running.
func Establish(ctx context.Context, link *uartl.Link, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	retry := time.NewTicker(retryInterval)
	defer retry.Stop()

	link.Connect(timeout)
	for !link.IsConnected() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no handshake within %s: %w", timeout, context.Cause(ctx))
		case <-retry.C:
			// A JOIN completing meanwhile would be undone by Connect
			if !link.IsConnected() {
				link.Connect(timeout)
			}
		case <-poll.C:
		}
	}
	return nil
}

// Handshake connects a throwaway link over ch and waits for the peer to
// complete the handshake. On success the peer is sent LEAVE so it does not
// treat the throwaway link as an open session; it goes back to connecting
// and acknowledges the next session's JOIN. closer is closed before
// returning; it must stop any receive blocked on ch.
func Handshake(ch uartl.Channel, closer io.Closer, timeout time.Duration) (time.Duration, error) {
	link := uartl.New(ch, nil, uartl.WithAckConfirm())

	ctx, cancel := context.WithCancelCause(context.Background())
	done := make(chan struct{})
	go func() {
		err := link.Run(ctx)
		cancel(fmt.Errorf("receiver stopped: %w", err))
		close(done)
	}()
	defer func() {
		cancel(nil)
		closer.Close()
		<-done
	}()

	start := time.Now()
	if err := Establish(ctx, link, timeout); err != nil {
		return 0, err
	}
	elapsed := time.Since(start)

	if err := ch.Transmit(protocol.EncodeControl(protocol.Leave), timeout); err != nil {
		return 0, fmt.Errorf("failed to release peer: %w", err)
	}

	return elapsed, nil
}
