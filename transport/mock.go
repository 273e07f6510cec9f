package transport

import (
	"encoding/hex"
	"sync"
	"testing"
)

// Mock is scripted Transporter for tests.
// Poll returns queued inputs in order, then nothing.
// Every call is recorded in Calls as "poll", "send:<hex>", "pause", "resume", "close".
type Mock struct {
	mu      sync.Mutex
	inputs  []mockInput
	Sent    [][]byte
	Calls   []string
	Paused  bool
	Closed  bool
	SendErr error
}

type mockInput struct {
	b   []byte
	err error
}

var _ Transporter = (*Mock)(nil)

func NewMock() *Mock { return &Mock{} }

// Push queues frame for Poll.
func (self *Mock) Push(b []byte) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.inputs = append(self.inputs, mockInput{b: append([]byte(nil), b...)})
}

func (self *Mock) PushHex(t testing.TB, s string) {
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("transport.Mock invalid hex=%s err=%v", s, err)
	}
	self.Push(b)
}

// PushError queues Poll error, e.g. Timeoutf().
func (self *Mock) PushError(err error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.inputs = append(self.inputs, mockInput{err: err})
}

func (self *Mock) Pending() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.inputs)
}

func (self *Mock) Poll() ([]byte, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Calls = append(self.Calls, "poll")
	if len(self.inputs) == 0 {
		return nil, nil
	}
	in := self.inputs[0]
	self.inputs = self.inputs[1:]
	return in.b, in.err
}

func (self *Mock) Send(b []byte) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Calls = append(self.Calls, "send:"+hex.EncodeToString(b))
	if self.SendErr != nil {
		return self.SendErr
	}
	self.Sent = append(self.Sent, append([]byte(nil), b...))
	return nil
}

func (self *Mock) Pause() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Calls = append(self.Calls, "pause")
	self.Paused = true
	return nil
}

func (self *Mock) Resume() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Calls = append(self.Calls, "resume")
	self.Paused = false
	return nil
}

func (self *Mock) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Calls = append(self.Calls, "close")
	self.Closed = true
	return nil
}

// SentHex returns all sent frames hex encoded.
func (self *Mock) SentHex() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	ss := make([]string, len(self.Sent))
	for i, b := range self.Sent {
		ss[i] = hex.EncodeToString(b)
	}
	return ss
}

// CallsNoPoll returns recorded calls except idle polls.
func (self *Mock) CallsNoPoll() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	ss := make([]string, 0, len(self.Calls))
	for _, c := range self.Calls {
		if c != "poll" {
			ss = append(ss, c)
		}
	}
	return ss
}
