package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/temoto/atomic_clock"
)

// Stat counters are written by engine goroutine and may be read concurrently.
type Stat struct {
	Received              uint32
	InvalidStartTag       uint32
	UnknownCommand        uint32
	InvalidEndTag         uint32
	UnexpectedPayloadSize uint32
	RemoteOK              uint32
	RemoteFailed          uint32
	Replies               uint32
	TransportTimeouts     uint32
	TransportErrors       uint32

	LastFrame      atomic_clock.Clock
	LastRemoteCall atomic_clock.Clock
}

func (self *Stat) inc(p *uint32) { atomic.AddUint32(p, 1) }

func (self *Stat) Load(p *uint32) uint32 { return atomic.LoadUint32(p) }

func (self *Stat) String() string {
	return fmt.Sprintf("received=%d start_tag=%d unknown=%d end_tag=%d payload_size=%d remote_ok=%d remote_fail=%d replies=%d timeouts=%d transport_errors=%d",
		self.Load(&self.Received), self.Load(&self.InvalidStartTag), self.Load(&self.UnknownCommand),
		self.Load(&self.InvalidEndTag), self.Load(&self.UnexpectedPayloadSize),
		self.Load(&self.RemoteOK), self.Load(&self.RemoteFailed), self.Load(&self.Replies),
		self.Load(&self.TransportTimeouts), self.Load(&self.TransportErrors))
}
