package main

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/iotgw/hardware/uart"
	"github.com/temoto/iotgw/iot"
	"github.com/temoto/iotgw/log2"
	"github.com/temoto/iotgw/transport"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

// master is controller side of the link.
type master interface {
	Send(b []byte) error
	// Receive waits for complete reply frame.
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
}

type i2cMaster struct {
	bus  i2c.BusCloser
	dev  *i2c.Dev
	poll time.Duration
}

func openI2C(busName string, addr uint16) (*i2cMaster, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph/init")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Annotatef(err, "i2c open bus=%s", busName)
	}
	return &i2cMaster{
		bus:  bus,
		dev:  &i2c.Dev{Bus: bus, Addr: addr},
		poll: 20 * time.Millisecond,
	}, nil
}

func (self *i2cMaster) Send(b []byte) error {
	return errors.Annotate(self.dev.Tx(b, nil), "i2c write")
}

// Receive polls slave. Gateway detaches from bus during remote call,
// so NAK errors are expected until reply is ready.
func (self *i2cMaster) Receive(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, iot.DeckedReplyLength)
	for {
		err := self.dev.Tx(nil, buf)
		if err == nil {
			if frame, ok := trimReply(buf); ok {
				return append([]byte(nil), frame...), nil
			}
		}
		if time.Now().After(deadline) {
			return nil, transport.Timeoutf("i2c reply timeout=%v last=%x err=%v", timeout, buf, err)
		}
		time.Sleep(self.poll)
	}
}

func (self *i2cMaster) Close() error { return self.bus.Close() }

type uartMaster struct {
	t transport.Transporter
}

func openUart(config uart.Config, log *log2.Log) (*uartMaster, error) {
	u, err := uart.Open(config, log)
	if err != nil {
		return nil, err
	}
	return &uartMaster{t: u}, nil
}

func (self *uartMaster) Send(b []byte) error { return self.t.Send(b) }

func (self *uartMaster) Receive(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		b, err := self.t.Poll()
		if err != nil && !transport.IsTimeout(err) {
			return nil, err
		}
		if len(b) != 0 {
			return append([]byte(nil), b...), nil
		}
		if time.Now().After(deadline) {
			return nil, transport.Timeoutf("uart reply timeout=%v", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

func (self *uartMaster) Close() error { return self.t.Close() }

// trimReply cuts reply frame from fixed size read, rest of buffer is FIFO filler.
func trimReply(b []byte) ([]byte, bool) {
	if len(b) < iot.EmptyReplyLength || b[0] != iot.StartTag || b[1] != iot.CommandReply {
		return nil, false
	}
	n := iot.EmptyReplyLength + int(b[3])
	if n > len(b) {
		return nil, false
	}
	return b[:n], true
}
