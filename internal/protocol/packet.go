package protocol

import "fmt"

// ControlHeader returns the two bytes that announce a control byte.
func ControlHeader(ctrl byte) [2]byte {
	return [2]byte{Esc, ctrl}
}

// FrameHeader returns the bytes that open a data frame.
func FrameHeader() [2]byte {
	return [2]byte{Esc, Data}
}

// FrameTrailer returns the bytes that close a data frame.
func FrameTrailer() [2]byte {
	return [2]byte{Esc, End}
}

// EncodeControl serializes an escaped control byte.
func EncodeControl(ctrl byte) []byte {
	return []byte{Esc, ctrl}
}

// EncodeFrame serializes a data frame: ESC DATA, the payload as-is, ESC END.
// Payload bytes are not escaped, see ValidatePayload.
func EncodeFrame(payload []byte) []byte {
	header, trailer := FrameHeader(), FrameTrailer()
	frame := make([]byte, 0, len(payload)+len(header)+len(trailer))
	frame = append(frame, header[:]...)
	frame = append(frame, payload...)
	frame = append(frame, trailer[:]...)
	return frame
}

// ValidatePayload reports an error if payload contains the escape byte.
// The receiver would read such a byte as the start of an escape sequence.
func ValidatePayload(payload []byte) error {
	for i, b := range payload {
		if b == Esc {
			return fmt.Errorf("payload contains escape byte 0x%02X at offset %d", Esc, i)
		}
	}
	return nil
}
