package engine

import (
	"github.com/temoto/iotgw/iot"
	"github.com/temoto/iotgw/remote"
)

// Store holds exactly one of each last command, reply and server request.
// Set overwrites unconditionally, returned pointers are valid until next Set
// of the same kind. Owned by Engine, not safe for concurrent use.
type Store struct {
	sendCommand   iot.SendCommand
	readEnable    iot.ReadEnableCommand
	deckedReply   iot.DeckedReply
	serverRequest remote.Request
}

func (self *Store) SetSendCommand(c iot.SendCommand) *iot.SendCommand {
	self.sendCommand = c
	return &self.sendCommand
}
func (self *Store) SendCommand() *iot.SendCommand { return &self.sendCommand }

func (self *Store) SetReadEnable(c iot.ReadEnableCommand) *iot.ReadEnableCommand {
	self.readEnable = c
	return &self.readEnable
}
func (self *Store) ReadEnable() *iot.ReadEnableCommand { return &self.readEnable }

func (self *Store) SetDeckedReply(r iot.DeckedReply) *iot.DeckedReply {
	self.deckedReply = r
	return &self.deckedReply
}
func (self *Store) DeckedReply() *iot.DeckedReply { return &self.deckedReply }

func (self *Store) SetServerRequest(r remote.Request) *remote.Request {
	self.serverRequest = r
	return &self.serverRequest
}
func (self *Store) ServerRequest() *remote.Request { return &self.serverRequest }
