// Package bsc drives Raspberry Pi BSC (Broadcom Serial Controller) peripheral
// as I2C slave through pigpiod socket interface.
//
// GPIO18 = BSC SDA, GPIO19 = BSC SCL, pin mode setup is done by pigpiod.
package bsc

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/iotgw/helpers"
	"github.com/temoto/iotgw/log2"
	"github.com/temoto/iotgw/transport"
)

const (
	DefaultAddress        = 0x5f
	DefaultPigpiod        = "localhost:8888"
	DefaultNetworkTimeout = 5 * time.Second

	cmdBSCX    = 114
	headerSize = 16
	statusSize = 4
)

type Config struct {
	Pigpiod           string `hcl:"pigpiod"`
	Address           int    `hcl:"address"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
}

func (c *Config) ApplyDefaults() {
	if c.Pigpiod == "" {
		c.Pigpiod = DefaultPigpiod
	}
	if c.Address == 0 {
		c.Address = DefaultAddress
	}
}

func (c *Config) Validate() error {
	if c.Address <= 0 || c.Address > 0x7f {
		return errors.NotValidf("bsc.address=%#x must be 7 bit", c.Address)
	}
	return nil
}

// Control register bits, see pigpio bscXfer.
//   22 21 20 19 18 17 16 15 14 13 12 11 10 09 08 07 06 05 04 03 02 01 00
//   a  a  a  a  a  a  a  -  -  IT HC TF IR RE TE BK EC ES PL PH I2 SP EN
const (
	ControlEN uint32 = 1 << 0
	ControlI2 uint32 = 1 << 2
	ControlBK uint32 = 1 << 7
	ControlTE uint32 = 1 << 8
	ControlRE uint32 = 1 << 9
)

// ControlBits builds bscXfer control word.
// Closed: abort and clear FIFOs. Open without rxEnable keeps FIFOs but detaches
// from bus so master backs off.
func ControlBits(address byte, open bool, rxEnable bool) uint32 {
	flags := ControlBK
	if open {
		flags = ControlRE | ControlTE
		if rxEnable {
			flags |= ControlI2 | ControlEN
		}
	}
	return uint32(address&0x7f)<<16 | flags
}

// Status is bscXfer result word.
type Status uint32

func (s Status) TxBusy() bool      { return s&(1<<0) != 0 }
func (s Status) RxFifoEmpty() bool { return s&(1<<1) != 0 }
func (s Status) TxFifoFull() bool  { return s&(1<<2) != 0 }
func (s Status) RxFifoFull() bool  { return s&(1<<3) != 0 }
func (s Status) TxFifoEmpty() bool { return s&(1<<4) != 0 }
func (s Status) RxBusy() bool      { return s&(1<<5) != 0 }
func (s Status) TxLevel() int      { return int(s>>6) & 0x1f }
func (s Status) RxLevel() int      { return int(s>>11) & 0x1f }

// Copied is number of bytes copied to transmit FIFO.
func (s Status) Copied() int { return int(s>>16) & 0x1f }

func (s Status) String() string {
	return fmt.Sprintf("txbusy=%t rxbusy=%t rxempty=%t txempty=%t txlevel=%d rxlevel=%d copied=%d",
		s.TxBusy(), s.RxBusy(), s.RxFifoEmpty(), s.TxFifoEmpty(), s.TxLevel(), s.RxLevel(), s.Copied())
}

// PigpioError is negative pigpiod command result.
type PigpioError struct {
	Cmd    uint32
	Result int32
}

func (e PigpioError) Error() string {
	return fmt.Sprintf("pigpiod cmd=%d result=%d", e.Cmd, e.Result)
}

type Bsc struct {
	lk      sync.Mutex
	config  Config
	log     *log2.Log
	conn    net.Conn
	timeout time.Duration
	address byte
	rxOn    bool
	xfer    transport.Xfer
	frame   []byte
}

var _ transport.Transporter = (*Bsc)(nil)

// Open connects to pigpiod, closes slave possibly left open by previous run,
// then opens it with receive enabled. Slave becomes visible to bus scanners.
func Open(ctx context.Context, config Config, log *log2.Log) (*Bsc, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	self := &Bsc{
		config:  config,
		log:     log,
		timeout: helpers.IntSecondDefault(config.NetworkTimeoutSec, DefaultNetworkTimeout),
		address: byte(config.Address),
		frame:   make([]byte, 0, transport.XferBufferSize),
	}
	self.lk.Lock()
	defer self.lk.Unlock()
	if err := self.dial(ctx); err != nil {
		return nil, err
	}
	if _, _, err := self.transfer(ControlBits(self.address, false, false), nil); err != nil {
		self.closeConn()
		return nil, errors.Annotate(err, "bsc close stale")
	}
	status, _, err := self.transfer(ControlBits(self.address, true, true), nil)
	if err != nil {
		self.closeConn()
		return nil, errors.Annotate(err, "bsc open")
	}
	self.rxOn = true
	self.log.Infof("bsc open address=%#02x fifo=%d status=%s", self.address, transport.XferBufferSize, status)
	return self, nil
}

// Poll returns complete frame once master finished writing.
// While master is still writing (rxBusy), received bytes are accumulated.
func (self *Bsc) Poll() ([]byte, error) {
	self.lk.Lock()
	defer self.lk.Unlock()
	status, rx, err := self.transfer(self.control(), nil)
	if err != nil {
		return nil, errors.Annotate(err, "bsc poll")
	}
	if n := self.xfer.AppendRx(rx); n < len(rx) {
		self.log.Errorf("bsc rx overflow dropped=%d", len(rx)-n)
	}
	if self.xfer.RxCnt == 0 || status.RxBusy() {
		return nil, nil
	}
	self.frame = append(self.frame[:0], self.xfer.Rx()...)
	self.xfer.RxCnt = 0
	self.log.Debugf("bsc poll frame=%x status=%s", self.frame, status)
	return self.frame, nil
}

// Send loads reply into transmit FIFO, master reads it on next read transaction.
func (self *Bsc) Send(b []byte) error {
	self.lk.Lock()
	defer self.lk.Unlock()
	if err := self.xfer.SetTx(b); err != nil {
		return errors.Annotate(err, "bsc send")
	}
	status, rx, err := self.transfer(self.control(), self.xfer.Tx())
	self.xfer.TxCnt = 0
	if err != nil {
		return errors.Annotate(err, "bsc send")
	}
	self.xfer.AppendRx(rx)
	if status.Copied() < len(b) {
		self.log.Warningf("bsc send copied=%d < length=%d", status.Copied(), len(b))
	}
	return nil
}

// Pause keeps peripheral open but stops receiving, master sees no ACK and backs off.
func (self *Bsc) Pause() error { return self.setReceive(false) }

func (self *Bsc) Resume() error { return self.setReceive(true) }

// Close aborts peripheral operation and clears FIFOs.
func (self *Bsc) Close() error {
	self.lk.Lock()
	defer self.lk.Unlock()
	_, _, err := self.transfer(ControlBits(self.address, false, false), nil)
	self.closeConn()
	self.log.Infof("bsc closed address=%#02x", self.address)
	return errors.Annotate(err, "bsc close")
}

func (self *Bsc) setReceive(on bool) error {
	self.lk.Lock()
	defer self.lk.Unlock()
	self.rxOn = on
	_, rx, err := self.transfer(self.control(), nil)
	if err != nil {
		return errors.Annotatef(err, "bsc receive=%t", on)
	}
	self.xfer.AppendRx(rx)
	return nil
}

func (self *Bsc) control() uint32 { return ControlBits(self.address, true, self.rxOn) }

func (self *Bsc) dial(ctx context.Context) error {
	dialer := net.Dialer{Timeout: self.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", self.config.Pigpiod)
	if err != nil {
		return errors.Annotatef(err, "pigpiod connect %s", self.config.Pigpiod)
	}
	self.conn = conn
	return nil
}

func (self *Bsc) closeConn() {
	if self.conn != nil {
		_ = self.conn.Close()
		self.conn = nil
	}
}

// transfer performs one BSCX command. I/O error drops connection, next call reconnects.
func (self *Bsc) transfer(control uint32, tx []byte) (Status, []byte, error) {
	if self.conn == nil {
		if err := self.dial(context.Background()); err != nil {
			return 0, nil, err
		}
	}
	self.xfer.Control = control
	status, rx, err := self.roundTrip(control, tx)
	if err != nil {
		self.closeConn()
	}
	return status, rx, err
}

func (self *Bsc) roundTrip(control uint32, tx []byte) (Status, []byte, error) {
	if err := self.conn.SetDeadline(time.Now().Add(self.timeout)); err != nil {
		return 0, nil, err
	}
	req := make([]byte, headerSize+len(tx))
	binary.LittleEndian.PutUint32(req[0:], cmdBSCX)
	binary.LittleEndian.PutUint32(req[4:], control)
	binary.LittleEndian.PutUint32(req[8:], 0)
	binary.LittleEndian.PutUint32(req[12:], uint32(len(tx)))
	copy(req[headerSize:], tx)
	if err := helpers.WriteAll(self.conn, req); err != nil {
		return 0, nil, errors.Annotate(err, "pigpiod write")
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(self.conn, header[:]); err != nil {
		return 0, nil, errors.Annotate(err, "pigpiod read header")
	}
	cmd := binary.LittleEndian.Uint32(header[0:])
	res := int32(binary.LittleEndian.Uint32(header[12:]))
	if cmd != cmdBSCX {
		return 0, nil, errors.NotValidf("pigpiod response cmd=%d expected=%d", cmd, cmdBSCX)
	}
	if res < 0 {
		return 0, nil, PigpioError{Cmd: cmd, Result: res}
	}
	if res < statusSize || res > statusSize+transport.XferBufferSize {
		return 0, nil, errors.NotValidf("pigpiod BSCX result=%d", res)
	}
	ext := make([]byte, res)
	if _, err := io.ReadFull(self.conn, ext); err != nil {
		return 0, nil, errors.Annotate(err, "pigpiod read ext")
	}
	status := Status(binary.LittleEndian.Uint32(ext))
	return status, ext[statusSize:], nil
}
