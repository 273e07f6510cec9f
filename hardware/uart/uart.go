// Package uart is serial line transport, alternative to BSC I2C slave.
// Serial has no transaction boundaries, frame ends after inter-byte gap.
package uart

import (
	"os"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/iotgw/helpers"
	"github.com/temoto/iotgw/log2"
	"github.com/temoto/iotgw/transport"
	"golang.org/x/sys/unix"
)

const (
	DefaultDevice      = "/dev/ttyACM0"
	DefaultBaud        = 115200
	DefaultFrameGap    = 5 * time.Millisecond
	DefaultReadTimeout = time.Second
)

type Config struct {
	Device        string `hcl:"device"`
	Baud          int    `hcl:"baud"`
	FrameGapMs    int    `hcl:"frame_gap_ms"`
	ReadTimeoutMs int    `hcl:"read_timeout_ms"`
}

func (c *Config) ApplyDefaults() {
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}
}

func (c *Config) Validate() error {
	if _, ok := baudRates[c.Baud]; !ok {
		return errors.NotSupportedf("uart.baud=%d", c.Baud)
	}
	if c.FrameGapMs < 0 || c.ReadTimeoutMs < 0 {
		return errors.NotValidf("uart frame_gap_ms=%d read_timeout_ms=%d", c.FrameGapMs, c.ReadTimeoutMs)
	}
	return nil
}

var baudRates = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

// line is file descriptor with pending input count, tty or pipe.
type line interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Pending() (int, error)
	Close() error
}

type fileLine struct{ f *os.File }

func (self fileLine) Read(p []byte) (int, error)  { return self.f.Read(p) }
func (self fileLine) Write(p []byte) (int, error) { return self.f.Write(p) }
func (self fileLine) Close() error                { return self.f.Close() }
func (self fileLine) Pending() (int, error) {
	n, err := unix.IoctlGetInt(int(self.f.Fd()), unix.TIOCINQ)
	return n, errors.Annotate(err, "TIOCINQ")
}

type Uart struct {
	line        line
	log         *log2.Log
	gap         time.Duration
	readTimeout time.Duration
	buf         [transport.XferBufferSize]byte
}

var _ transport.Transporter = (*Uart)(nil)

// Open configures device as raw 8N1.
func Open(config Config, log *log2.Log) (*Uart, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(config.Device, syscall.O_RDWR|syscall.O_NOCTTY, 0600)
	if err != nil {
		return nil, errors.Annotate(err, "uart open")
	}
	if err = setRaw(int(f.Fd()), baudRates[config.Baud]); err != nil {
		f.Close()
		return nil, errors.Annotatef(err, "uart termios device=%s", config.Device)
	}
	log.Infof("uart open device=%s baud=%d", config.Device, config.Baud)
	return newUart(fileLine{f}, config, log), nil
}

func newUart(l line, config Config, log *log2.Log) *Uart {
	gap := DefaultFrameGap
	if config.FrameGapMs != 0 {
		gap = time.Duration(config.FrameGapMs) * time.Millisecond
	}
	timeout := DefaultReadTimeout
	if config.ReadTimeoutMs != 0 {
		timeout = time.Duration(config.ReadTimeoutMs) * time.Millisecond
	}
	return &Uart{line: l, log: log, gap: gap, readTimeout: timeout}
}

// setRaw: 8N1, no flow control, no echo, reads return immediately.
func setRaw(fd int, speed uint32) error {
	t := unix.Termios{
		Iflag:  unix.IGNBRK | unix.IGNPAR,
		Cflag:  unix.CS8 | unix.CREAD | unix.CLOCAL | speed,
		Ispeed: speed,
		Ospeed: speed,
	}
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETSF, &t)
}

// Poll returns nil when no input pending. Otherwise reads until line is quiet
// for frame gap. Continuous input longer than read timeout is timeout error.
func (self *Uart) Poll() ([]byte, error) {
	pending, err := self.line.Pending()
	if err != nil {
		return nil, errors.Annotate(err, "uart poll")
	}
	if pending == 0 {
		return nil, nil
	}
	tbegin := time.Now()
	n := 0
	for pending > 0 {
		if n == len(self.buf) {
			self.log.Errorf("uart rx overflow frame=%x", self.buf[:16])
			return nil, errors.NotValidf("uart frame longer than %d", len(self.buf))
		}
		m, err := self.line.Read(self.buf[n:])
		n += m
		if err != nil {
			return nil, errors.Annotatef(err, "uart read after=%d", n)
		}
		if time.Since(tbegin) > self.readTimeout {
			return nil, transport.Timeoutf("uart frame not finished after=%d", n)
		}
		if pending, err = self.waitPending(); err != nil {
			return nil, errors.Annotate(err, "uart poll")
		}
	}
	self.log.Debugf("uart poll frame=%x", self.buf[:n])
	return self.buf[:n], nil
}

// waitPending checks pending input several times during frame gap.
func (self *Uart) waitPending() (int, error) {
	tfinal := time.Now().Add(self.gap)
	for {
		n, err := self.line.Pending()
		if err != nil || n > 0 {
			return n, err
		}
		if time.Now().After(tfinal) {
			return 0, nil
		}
		time.Sleep(self.gap / 8)
	}
}

func (self *Uart) Send(b []byte) error {
	self.log.Debugf("uart send=%x", b)
	return errors.Annotate(helpers.WriteAll(self.line, b), "uart send")
}

// Pause and Resume have no serial equivalent, controller waits for reply anyway.
func (self *Uart) Pause() error  { return nil }
func (self *Uart) Resume() error { return nil }

func (self *Uart) Close() error {
	return errors.Annotate(self.line.Close(), "uart close")
}
