// Package iot implements the dispenser controller frame format.
//
// Uplink (controller to gateway):
//   send:        23 02 <payloadSize> <downlinkIndicator> <payload:12> 0a
//   read enable: 23 01 <spare> 0a
// Downlink (gateway to controller):
//   empty:  23 02 <errorCode> 00 0a
//   decked: 23 02 <errorCode> 08 <payload:8> 0a
package iot

import (
	"encoding/hex"
	"fmt"

	"github.com/juju/errors"
)

const (
	StartTag byte = '#'
	EndTag   byte = '\n'

	CommandReadEnable byte = 0x01
	CommandSend       byte = 0x02
	// replies reuse send command code
	CommandReply byte = 0x02

	SendPayloadCap     = 12
	DownlinkPayloadLen = 8

	HeaderLength      = 2
	SendCommandLength = HeaderLength + 2 + SendPayloadCap + 1
	ReadEnableLength  = HeaderLength + 1 + 1
	EmptyReplyLength  = HeaderLength + 2 + 1
	DeckedReplyLength = HeaderLength + 2 + DownlinkPayloadLen + 1

	// payloadSize includes one trailing read-request byte which is not sent upstream
	payloadSizeMax = SendPayloadCap + 1
)

const (
	DownlinkNone      byte = 0x00
	DownlinkRequested byte = 0x01
)

var (
	ErrMalformedTag          = errors.New("malformed tag")
	ErrInvalidEndTag         = errors.New("invalid end tag")
	ErrUnexpectedPayloadSize = errors.New("unexpected payload size")
)

type Header struct {
	StartTag byte
	Command  byte
}

type SendCommand struct {
	Header
	PayloadSize       byte
	DownlinkIndicator byte
	Payload           [SendPayloadCap]byte
	EndTag            byte
}

// UplinkData returns payload bytes destined for server.
// Valid only on decoded commands, zero value returns nil.
func (self *SendCommand) UplinkData() []byte {
	n := int(self.PayloadSize) - 1
	if n <= 0 || n > SendPayloadCap {
		return nil
	}
	return self.Payload[:n]
}

func (self *SendCommand) String() string {
	return fmt.Sprintf("send size=%d downlink=%d payload=%x",
		self.PayloadSize, self.DownlinkIndicator, self.Payload[:])
}

type ReadEnableCommand struct {
	Header
	Spare  byte
	EndTag byte
}

type DeckedReply struct {
	ErrorCode ErrorCode
	Payload   [DownlinkPayloadLen]byte
}

// Reply is decoded downlink frame, either variant.
type Reply struct {
	ErrorCode ErrorCode
	Payload   []byte
}

func (self Reply) String() string {
	return fmt.Sprintf("reply error=%s payload=%x", self.ErrorCode.String(), self.Payload)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLength {
		return Header{}, errors.Annotatef(ErrMalformedTag, "frame=%x length=%d < header", b, len(b))
	}
	if b[0] != StartTag {
		return Header{}, errors.Annotatef(ErrMalformedTag, "frame=%x start=%02x", b, b[0])
	}
	return Header{StartTag: b[0], Command: b[1]}, nil
}

func DecodeSendCommand(b []byte) (SendCommand, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return SendCommand{}, err
	}
	if h.Command != CommandSend {
		return SendCommand{}, errors.Annotatef(ErrMalformedTag, "frame=%x command=%02x expected=%02x", b, h.Command, CommandSend)
	}
	if len(b) < SendCommandLength {
		return SendCommand{}, errors.Annotatef(ErrInvalidEndTag, "frame=%x length=%d < %d", b, len(b), SendCommandLength)
	}
	if b[SendCommandLength-1] != EndTag {
		return SendCommand{}, errors.Annotatef(ErrInvalidEndTag, "frame=%x end=%02x", b, b[SendCommandLength-1])
	}
	c := SendCommand{
		Header:            h,
		PayloadSize:       b[2],
		DownlinkIndicator: b[3],
		EndTag:            b[SendCommandLength-1],
	}
	copy(c.Payload[:], b[4:4+SendPayloadCap])
	if c.PayloadSize < 1 || c.PayloadSize > payloadSizeMax {
		return c, errors.Annotatef(ErrUnexpectedPayloadSize, "frame=%x size=%d", b, c.PayloadSize)
	}
	return c, nil
}

func DecodeReadEnable(b []byte) (ReadEnableCommand, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return ReadEnableCommand{}, err
	}
	if h.Command != CommandReadEnable {
		return ReadEnableCommand{}, errors.Annotatef(ErrMalformedTag, "frame=%x command=%02x expected=%02x", b, h.Command, CommandReadEnable)
	}
	if len(b) < ReadEnableLength {
		return ReadEnableCommand{}, errors.Annotatef(ErrInvalidEndTag, "frame=%x length=%d < %d", b, len(b), ReadEnableLength)
	}
	if b[ReadEnableLength-1] != EndTag {
		return ReadEnableCommand{}, errors.Annotatef(ErrInvalidEndTag, "frame=%x end=%02x", b, b[ReadEnableLength-1])
	}
	return ReadEnableCommand{Header: h, Spare: b[2], EndTag: b[3]}, nil
}

// DecodeReply parses downlink frame, used by master side tools.
func DecodeReply(b []byte) (Reply, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Reply{}, err
	}
	if h.Command != CommandReply {
		return Reply{}, errors.Annotatef(ErrMalformedTag, "reply=%x command=%02x", b, h.Command)
	}
	if len(b) < EmptyReplyLength {
		return Reply{}, errors.Annotatef(ErrInvalidEndTag, "reply=%x length=%d < %d", b, len(b), EmptyReplyLength)
	}
	size := int(b[3])
	if size != 0 && size != DownlinkPayloadLen {
		return Reply{}, errors.Annotatef(ErrUnexpectedPayloadSize, "reply=%x size=%d", b, size)
	}
	end := HeaderLength + 2 + size
	if len(b) <= end {
		return Reply{}, errors.Annotatef(ErrInvalidEndTag, "reply=%x length=%d < %d", b, len(b), end+1)
	}
	if b[end] != EndTag {
		return Reply{}, errors.Annotatef(ErrInvalidEndTag, "reply=%x end=%02x", b, b[end])
	}
	r := Reply{ErrorCode: ErrorCode(b[2])}
	if size != 0 {
		r.Payload = append([]byte(nil), b[4:end]...)
	}
	return r, nil
}

func EncodeEmptyReply(code ErrorCode) []byte {
	return []byte{StartTag, CommandReply, byte(code), 0, EndTag}
}

func EncodeDeckedReply(code ErrorCode, payload [DownlinkPayloadLen]byte) []byte {
	b := make([]byte, DeckedReplyLength)
	b[0] = StartTag
	b[1] = CommandReply
	b[2] = byte(code)
	b[3] = DownlinkPayloadLen
	copy(b[4:], payload[:])
	b[DeckedReplyLength-1] = EndTag
	return b
}

// EncodeSendCommand builds uplink frame, data is zero padded to payload capacity.
func EncodeSendCommand(downlinkIndicator byte, data []byte) ([]byte, error) {
	if len(data) > SendPayloadCap {
		return nil, errors.Annotatef(ErrUnexpectedPayloadSize, "data length=%d > %d", len(data), SendPayloadCap)
	}
	b := make([]byte, SendCommandLength)
	b[0] = StartTag
	b[1] = CommandSend
	b[2] = byte(len(data) + 1)
	b[3] = downlinkIndicator
	copy(b[4:], data)
	b[SendCommandLength-1] = EndTag
	return b, nil
}

func EncodeReadEnable(spare byte) []byte {
	return []byte{StartTag, CommandReadEnable, spare, EndTag}
}

// DecodeDownlinkHex converts server hex string into reply payload.
func DecodeDownlinkHex(s string) ([DownlinkPayloadLen]byte, error) {
	var out [DownlinkPayloadLen]byte
	if len(s) != DownlinkPayloadLen*2 {
		return out, errors.NotValidf("downlink hex=%q length=%d expected=%d", s, len(s), DownlinkPayloadLen*2)
	}
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return out, errors.NewNotValid(err, fmt.Sprintf("downlink hex=%q", s))
	}
	return out, nil
}
