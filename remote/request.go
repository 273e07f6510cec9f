package remote

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
)

// Request is one uplink server call.
type Request struct {
	Host     string
	Path     string
	DeviceID string
	Time     int64 // unix seconds
	Seq      uint32
	Ack      bool
	DataHex  string
}

// NewRequest is pure function behind Client.BuildRequest.
func NewRequest(config *Config, payload []byte, seq uint32, unix int64) Request {
	return Request{
		Host:     config.Host,
		Path:     config.Path,
		DeviceID: config.DeviceID,
		Time:     unix,
		Seq:      seq,
		Ack:      true,
		DataHex:  hex.EncodeToString(payload),
	}
}

// Bytes formats HTTP/1.1 request exactly as backend expects,
// parameter order is significant for old webhook parser.
func (self *Request) Bytes() []byte {
	ack := "0"
	if self.Ack {
		ack = "1"
	}
	buf := make([]byte, 0, 128+len(self.Path)+len(self.DataHex))
	buf = append(buf, "GET "...)
	buf = append(buf, self.Path...)
	buf = append(buf, "?id="...)
	buf = append(buf, url.QueryEscape(self.DeviceID)...)
	buf = append(buf, "&time="...)
	buf = strconv.AppendInt(buf, self.Time, 10)
	buf = append(buf, "&seqNumber="...)
	buf = strconv.AppendUint(buf, uint64(self.Seq), 10)
	buf = append(buf, "&ack="...)
	buf = append(buf, ack...)
	buf = append(buf, "&data="...)
	buf = append(buf, self.DataHex...)
	buf = append(buf, " HTTP/1.1\r\nHost: "...)
	buf = append(buf, self.Host...)
	buf = append(buf, "\r\n\r\n"...)
	return buf
}

func (self *Request) String() string {
	return fmt.Sprintf("id=%s seq=%d time=%d data=%s", self.DeviceID, self.Seq, self.Time, self.DataHex)
}
