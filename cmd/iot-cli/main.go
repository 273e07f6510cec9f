// Controller impersonation tool: sends frames to gateway as dispenser controller would.
package main

import (
	"encoding/hex"
	"flag"
	"os"
	"strconv"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/iotgw/hardware/uart"
	"github.com/temoto/iotgw/helpers/cli"
	"github.com/temoto/iotgw/iot"
	"github.com/temoto/iotgw/log2"
)

const usage = `syntax: commands separated by whitespace
(main)
- send D XX...  send command, D=downlink indicator 0|1, XX... uplink data hex (max 12 bytes)
- read          read enable command, repeats last reply
- raw XX...     transmit arbitrary bytes from hex, show reply if any
- sN            pause N milliseconds

(meta)
- log=yes  enable debug logging
- log=no   disable debug logging
- loop=N   repeat N times all commands on this line
`

var log = log2.NewStderr(log2.LInfo)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	driver := cmdline.String("driver", "i2c", "i2c|uart")
	i2cBus := cmdline.String("i2c-bus", "", "periph I2C bus name, empty for first available")
	address := cmdline.Uint("address", 0x5f, "gateway I2C slave address")
	device := cmdline.String("device", "/dev/ttyUSB0", "serial device for uart driver")
	baud := cmdline.Int("baud", uart.DefaultBaud, "")
	replyTimeout := cmdline.Duration("reply-timeout", 40*time.Second, "remote call can take up to server network timeout")
	_ = cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)

	var m master
	var err error
	switch *driver {
	case "i2c":
		m, err = openI2CMaster(*i2cBus, uint16(*address))
	case "uart":
		m, err = openUartMaster(uart.Config{Device: *device, Baud: *baud}, log)
	default:
		err = errors.NotSupportedf("driver=%s", *driver)
	}
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	defer m.Close()

	r := &runner{m: m, log: log, timeout: *replyTimeout}
	cli.MainLoop("iot-cli", r.exec, newCompleter(), func() { _ = m.Close() })
}

// typed nil must not leak into master interface
func openI2CMaster(bus string, addr uint16) (master, error) {
	m, err := openI2C(bus, addr)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func openUartMaster(config uart.Config, log *log2.Log) (master, error) {
	m, err := openUart(config, log)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "send", Description: "send command: send D XX..."},
		{Text: "read", Description: "read enable command"},
		{Text: "raw", Description: "transmit raw hex bytes"},
		{Text: "sN", Description: "pause for N ms"},
		{Text: "loop=N", Description: "repeat line N times"},
		{Text: "log=yes", Description: "enable debug logging"},
		{Text: "log=no", Description: "disable debug logging"},
	}

	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

type runner struct {
	m       master
	log     *log2.Log
	timeout time.Duration
}

func (self *runner) exec(line string) {
	l, err := cli.ParseLine(line)
	if err != nil {
		self.log.Errorf("%s", errors.ErrorStack(err))
		return
	}
	if l.Help {
		self.log.Info(usage)
	}
	for i := uint(0); i < l.Repeat() && len(l.Words) != 0; i++ {
		if err = self.run(l.Words); err != nil {
			self.log.Errorf("%s", errors.ErrorStack(err))
			return
		}
	}
}

// run executes words in order, commands consume their arguments.
func (self *runner) run(words []string) error {
	for i := 0; i < len(words); i++ {
		word := words[i]
		arg := func() (string, error) {
			i++
			if i >= len(words) {
				return "", errors.NotValidf("command=%s missing argument", word)
			}
			return words[i], nil
		}
		switch {
		case word == "log=yes":
			self.log.SetLevel(log2.LDebug)
		case word == "log=no":
			self.log.SetLevel(log2.LInfo)
		case word == "read":
			if err := self.transact(iot.EncodeReadEnable(0), true); err != nil {
				return err
			}
		case word == "send":
			ds, err := arg()
			if err != nil {
				return err
			}
			di, err := strconv.ParseUint(ds, 10, 8)
			if err != nil {
				return errors.Annotatef(err, "send downlink indicator=%s", ds)
			}
			hs, err := arg()
			if err != nil {
				return err
			}
			data, err := hex.DecodeString(hs)
			if err != nil {
				return errors.Annotatef(err, "send data=%s", hs)
			}
			frame, err := iot.EncodeSendCommand(byte(di), data)
			if err != nil {
				return err
			}
			if err = self.transact(frame, true); err != nil {
				return err
			}
		case word == "raw":
			hs, err := arg()
			if err != nil {
				return err
			}
			frame, err := hex.DecodeString(hs)
			if err != nil {
				return errors.Annotatef(err, "raw=%s", hs)
			}
			// invalid frames get no reply, timeout is informational
			if err = self.transact(frame, false); err != nil {
				return err
			}
		case word[0] == 's' && len(word) > 1:
			ms, err := strconv.ParseUint(word[1:], 10, 32)
			if err != nil {
				return errors.Annotatef(err, "word=%s", word)
			}
			time.Sleep(time.Duration(ms) * time.Millisecond)
		default:
			return errors.Errorf("invalid command: '%s'", word)
		}
	}
	return nil
}

func (self *runner) transact(frame []byte, replyRequired bool) error {
	self.log.Infof("> %x", frame)
	if err := self.m.Send(frame); err != nil {
		return errors.Annotate(err, "send")
	}
	tbegin := time.Now()
	b, err := self.m.Receive(self.timeout)
	if err != nil {
		if !replyRequired {
			self.log.Infof("no reply: %v", err)
			return nil
		}
		return errors.Annotate(err, "receive")
	}
	reply, err := iot.DecodeReply(b)
	if err != nil {
		return errors.Annotatef(err, "reply=%x", b)
	}
	self.log.Infof("< %x %s (%v)", b, reply.String(), time.Since(tbegin).Truncate(time.Millisecond))
	return nil
}
