package iot

import "fmt"

// ErrorCode is single byte status carried in every reply frame.
type ErrorCode byte

const (
	ErrorOK             ErrorCode = 0x00
	ErrorCmdProcessing  ErrorCode = 0x01
	ErrorNoCmd          ErrorCode = 0x02
	ErrorInvalidCmd     ErrorCode = 0x03
	ErrorUnknownCmd     ErrorCode = 0x04
	ErrorUnexpectedPlsz ErrorCode = 0x05
	ErrorReserved       ErrorCode = 0x06
	ErrorServerUnreach  ErrorCode = 0x07
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorOK:
		return "OK"
	case ErrorCmdProcessing:
		return "CMDPROCESSING"
	case ErrorNoCmd:
		return "NOCMD"
	case ErrorInvalidCmd:
		return "INVALIDCMD"
	case ErrorUnknownCmd:
		return "UNKNOWNCMD"
	case ErrorUnexpectedPlsz:
		return "UNEXPECTEDPLSZ"
	case ErrorReserved:
		return "RESERVED"
	case ErrorServerUnreach:
		return "SERVERUNREACH"
	default:
		return fmt.Sprintf("ErrorCode(%02x)", byte(e))
	}
}
