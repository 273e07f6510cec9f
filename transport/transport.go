// Package transport describes byte oriented link to dispenser controller.
// Concrete implementations: hardware/bsc (I2C slave), hardware/uart (serial).
package transport

import (
	"fmt"

	"github.com/juju/errors"
)

// Transporter is consumed by engine from single goroutine, implementations need no locking.
type Transporter interface {
	// Poll returns received frame bytes or nil when nothing pending.
	// Timeout is reported as error satisfying errors.IsTimeout, it is not fatal.
	// Returned slice is valid until next Poll.
	Poll() ([]byte, error)
	// Send writes complete reply frame.
	Send(b []byte) error
	// Pause detaches peripheral from bus for lengthy operation.
	// No-op for links without such concept.
	Pause() error
	Resume() error
	Close() error
}

// Timeoutf returns transport timeout signal.
func Timeoutf(format string, args ...interface{}) error {
	return errors.Timeoutf(format, args...)
}

func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsTimeout(err) {
		return true
	}
	// net.Error, os deadline and hardware/uart timeouts
	type timeouter interface{ Timeout() bool }
	if t, ok := errors.Cause(err).(timeouter); ok {
		return t.Timeout()
	}
	return false
}

// Xfer mirrors single BSC/serial transfer: control word, receive and transmit buffers.
// Buffers are fixed capacity, counts never exceed it.
type Xfer struct {
	Control uint32
	RxCnt   int
	RxBuf   [XferBufferSize]byte
	TxCnt   int
	TxBuf   [XferBufferSize]byte
}

// pigpio BSC_FIFO_SIZE
const XferBufferSize = 512

// AppendRx copies received bytes, returns how many fit.
func (self *Xfer) AppendRx(b []byte) int {
	n := copy(self.RxBuf[self.RxCnt:], b)
	self.RxCnt += n
	return n
}

func (self *Xfer) Rx() []byte { return self.RxBuf[:self.RxCnt] }

func (self *Xfer) SetTx(b []byte) error {
	if len(b) > len(self.TxBuf) {
		return errors.NotValidf("tx length=%d > %d", len(b), len(self.TxBuf))
	}
	self.TxCnt = copy(self.TxBuf[:], b)
	return nil
}

func (self *Xfer) Tx() []byte { return self.TxBuf[:self.TxCnt] }

func (self *Xfer) String() string {
	return fmt.Sprintf("control=%06x rx=%x tx=%x", self.Control, self.Rx(), self.Tx())
}
