package tele

import (
	"github.com/golang/protobuf/proto"
)

// Wire messages, field tags must match tele.proto.

type Report struct {
	DeviceId          string `protobuf:"bytes,1,opt,name=device_id,json=deviceId,proto3" json:"device_id,omitempty"`
	Time              int64  `protobuf:"varint,2,opt,name=time,proto3" json:"time,omitempty"`
	Seq               uint32 `protobuf:"varint,3,opt,name=seq,proto3" json:"seq,omitempty"`
	ErrorCode         uint32 `protobuf:"varint,4,opt,name=error_code,json=errorCode,proto3" json:"error_code,omitempty"`
	DownlinkIndicator uint32 `protobuf:"varint,5,opt,name=downlink_indicator,json=downlinkIndicator,proto3" json:"downlink_indicator,omitempty"`
	Reply             []byte `protobuf:"bytes,6,opt,name=reply,proto3" json:"reply,omitempty"`
	RemoteOk          bool   `protobuf:"varint,7,opt,name=remote_ok,json=remoteOk,proto3" json:"remote_ok,omitempty"`
	CallMs            uint32 `protobuf:"varint,8,opt,name=call_ms,json=callMs,proto3" json:"call_ms,omitempty"`
	Command           uint32 `protobuf:"varint,9,opt,name=command,proto3" json:"command,omitempty"`
}

func (m *Report) Reset()         { *m = Report{} }
func (m *Report) String() string { return proto.CompactTextString(m) }
func (*Report) ProtoMessage()    {}

type Error struct {
	DeviceId string `protobuf:"bytes,1,opt,name=device_id,json=deviceId,proto3" json:"device_id,omitempty"`
	Time     int64  `protobuf:"varint,2,opt,name=time,proto3" json:"time,omitempty"`
	Message  string `protobuf:"bytes,3,opt,name=message,proto3" json:"message,omitempty"`
}

func (m *Error) Reset()         { *m = Error{} }
func (m *Error) String() string { return proto.CompactTextString(m) }
func (*Error) ProtoMessage()    {}
