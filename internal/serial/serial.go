package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// pollInterval bounds each driver read so a blocked Receive notices a
// closed port or an expired deadline.
const pollInterval = 100 * time.Millisecond

// ErrTimeout is returned when Receive does not fill its buffer in time.
var ErrTimeout = errors.New("serial: timeout")

// Port is a UART carrying a link. It implements uartl.Channel.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
}

// Open opens a serial port with the specified baud rate, 8N1.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

// Close closes the serial port. A Receive blocked on the port returns
// an error wrapping io.EOF.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Transmit writes all of buf and waits for it to leave the UART.
// The driver has no write timeout, so timeout is not enforced.
func (p *Port) Transmit(buf []byte, timeout time.Duration) error {
	for written := 0; written < len(buf); {
		n, err := p.port.Write(buf[written:])
		if err != nil {
			return p.wrap(err)
		}
		written += n
	}
	return p.port.Drain()
}

// Receive reads exactly len(buf) bytes. A negative timeout waits forever.
func (p *Port) Receive(buf []byte, timeout time.Duration) error {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for read := 0; read < len(buf); {
		n, err := p.port.Read(buf[read:])
		if err != nil {
			return p.wrap(err)
		}
		read += n
		if read < len(buf) && timeout >= 0 && time.Now().After(deadline) {
			return fmt.Errorf("%w after %d of %d bytes", ErrTimeout, read, len(buf))
		}
	}
	return nil
}

// Flush discards any buffered input.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

func (p *Port) wrap(err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
		return fmt.Errorf("port %s closed: %w", p.portName, io.EOF)
	}
	return fmt.Errorf("port %s: %w", p.portName, err)
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}

// PortInfo describes a serial port found on the system.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// ListPortDetails returns the available ports with USB details where the
// platform exposes them.
func ListPortDetails() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	infos := make([]PortInfo, 0, len(details))
	for _, d := range details {
		infos = append(infos, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return infos, nil
}
