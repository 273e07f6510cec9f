package bsc

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/iotgw/log2"
)

type fakeStep struct {
	status uint32
	rx     []byte
	res    int32 // overrides result when negative
}

// fakePigpiod answers BSCX commands with scripted steps, then empty idle status.
type fakePigpiod struct {
	mu       sync.Mutex
	ln       net.Listener
	steps    []fakeStep
	controls []uint32
	txs      [][]byte
}

func newFakePigpiod(t testing.TB) *fakePigpiod {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	self := &fakePigpiod{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go self.serve(conn)
		}
	}()
	return self
}

func (self *fakePigpiod) serve(conn net.Conn) {
	defer conn.Close()
	for {
		var h [16]byte
		if _, err := io.ReadFull(conn, h[:]); err != nil {
			return
		}
		control := binary.LittleEndian.Uint32(h[4:])
		tx := make([]byte, binary.LittleEndian.Uint32(h[12:]))
		if _, err := io.ReadFull(conn, tx); err != nil {
			return
		}
		self.mu.Lock()
		self.controls = append(self.controls, control)
		if len(tx) > 0 {
			self.txs = append(self.txs, tx)
		}
		step := fakeStep{status: 1 << 1}
		if len(self.steps) > 0 {
			step = self.steps[0]
			self.steps = self.steps[1:]
		}
		self.mu.Unlock()

		res := int32(4 + len(step.rx))
		if step.res < 0 {
			res = step.res
		}
		out := make([]byte, 16, 16+4+len(step.rx))
		binary.LittleEndian.PutUint32(out[0:], cmdBSCX)
		binary.LittleEndian.PutUint32(out[4:], control)
		binary.LittleEndian.PutUint32(out[12:], uint32(res))
		if res > 0 {
			var st [4]byte
			binary.LittleEndian.PutUint32(st[:], step.status|uint32(len(tx))<<16)
			out = append(out, st[:]...)
			out = append(out, step.rx...)
		}
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func (self *fakePigpiod) script(steps ...fakeStep) {
	self.mu.Lock()
	self.steps = append(self.steps, steps...)
	self.mu.Unlock()
}

func (self *fakePigpiod) Controls() []uint32 {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]uint32(nil), self.controls...)
}

func (self *fakePigpiod) config() Config {
	return Config{Pigpiod: self.ln.Addr().String()}
}

func TestControlBits(t *testing.T) {
	t.Parallel()
	cases := []struct {
		open, rx bool
		expect   uint32
	}{
		{true, true, 0x5f0305},
		{true, false, 0x5f0300},
		{false, false, 0x5f0080},
		{false, true, 0x5f0080},
	}
	for _, c := range cases {
		t.Run(strconv.FormatBool(c.open)+"/"+strconv.FormatBool(c.rx), func(t *testing.T) {
			assert.Equal(t, c.expect, ControlBits(0x5f, c.open, c.rx))
		})
	}
	assert.Equal(t, uint32(0x7f0305), ControlBits(0xff, true, true))
}

func TestStatus(t *testing.T) {
	t.Parallel()
	s := Status(1<<5 | 1<<1 | 3<<6 | 7<<11 | 13<<16)
	assert.True(t, s.RxBusy())
	assert.True(t, s.RxFifoEmpty())
	assert.False(t, s.TxBusy())
	assert.False(t, s.TxFifoFull())
	assert.False(t, s.RxFifoFull())
	assert.False(t, s.TxFifoEmpty())
	assert.Equal(t, 3, s.TxLevel())
	assert.Equal(t, 7, s.RxLevel())
	assert.Equal(t, 13, s.Copied())
	assert.Contains(t, s.String(), "rxbusy=true")
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	c := Config{}
	c.ApplyDefaults()
	assert.Equal(t, DefaultAddress, c.Address)
	assert.Equal(t, DefaultPigpiod, c.Pigpiod)
	assert.NoError(t, c.Validate())
	c.Address = 0x80
	assert.True(t, errors.IsNotValid(c.Validate()))
}

func TestOpenPollSend(t *testing.T) {
	t.Parallel()
	fake := newFakePigpiod(t)
	b, err := Open(context.Background(), fake.config(), log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)

	fake.script(
		fakeStep{status: 1 << 5, rx: []byte{0x23, 0x01}},
		fakeStep{status: 0, rx: []byte{0x00, 0x0a}},
	)
	frame, err := b.Poll()
	require.NoError(t, err)
	assert.Nil(t, frame, "rx busy, must accumulate")
	frame, err = b.Poll()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x23, 0x01, 0x00, 0x0a}, frame)
	frame, err = b.Poll()
	require.NoError(t, err)
	assert.Nil(t, frame)

	require.NoError(t, b.Pause())
	require.NoError(t, b.Resume())
	require.NoError(t, b.Send([]byte{0x23, 0x02, 0x00, 0x00, 0x0a}))
	require.NoError(t, b.Close())

	assert.Equal(t, []uint32{
		0x5f0080, 0x5f0305, // close stale, open
		0x5f0305, 0x5f0305, 0x5f0305, // polls
		0x5f0300, 0x5f0305, // pause, resume
		0x5f0305, // send
		0x5f0080, // close
	}, fake.Controls())
	fake.mu.Lock()
	assert.Equal(t, [][]byte{{0x23, 0x02, 0x00, 0x00, 0x0a}}, fake.txs)
	fake.mu.Unlock()
}

func TestPigpiodError(t *testing.T) {
	t.Parallel()
	fake := newFakePigpiod(t)
	b, err := Open(context.Background(), fake.config(), log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	defer b.Close()

	fake.script(fakeStep{res: -143})
	_, err = b.Poll()
	require.Error(t, err)
	assert.Equal(t, PigpioError{Cmd: cmdBSCX, Result: -143}, errors.Cause(err))

	// connection is not reused after error, next poll redials
	frame, err := b.Poll()
	require.NoError(t, err)
	assert.Nil(t, frame)
}

func TestOpenRefused(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	_, err = Open(context.Background(), Config{Pigpiod: addr}, log2.NewTest(t, log2.LDebug))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pigpiod connect")
}
