package protocol

// Wire bytes. Every control byte is preceded by Esc.
const (
	Esc   = 0x8F
	Ack   = 0x00
	Join  = 0x01
	Leave = 0x02
	Data  = 0x03
	End   = 0x04
)

// ControlName returns human-readable name for a control byte
func ControlName(b byte) string {
	switch b {
	case Esc:
		return "ESC"
	case Ack:
		return "ACK"
	case Join:
		return "JOIN"
	case Leave:
		return "LEAVE"
	case Data:
		return "DATA"
	case End:
		return "END"
	default:
		return "unknown"
	}
}

// Status is the numeric result code of a link operation.
type Status int

// Status codes
const (
	StatusTooBig       Status = -3
	StatusNotConnected Status = -2
	StatusUnspecified  Status = -1
	StatusSuccess      Status = 0
	StatusNoData       Status = 1
)

// Message returns human-readable message for a status code
func (s Status) Message() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNoData:
		return "no data"
	case StatusUnspecified:
		return "unspecified error"
	case StatusNotConnected:
		return "not connected"
	case StatusTooBig:
		return "frame too big"
	default:
		return "unknown status"
	}
}

// Link defaults
const (
	DefaultBaudRate   = 115200
	DefaultBufferSize = 0x100 // 256B frame slot
)
