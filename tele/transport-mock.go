package tele

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/temoto/iotgw/log2"
	tele_config "github.com/temoto/iotgw/tele/config"
)

type transportMock struct {
	t              testing.TB
	networkTimeout time.Duration
	outBuffer      int
	fail           int32 // number of sends to fail
	outReport      chan []byte
	outError       chan []byte
	closed         bool
}

func (self *transportMock) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config) error {
	if self.networkTimeout == 0 {
		self.networkTimeout = defaultNetworkTimeout
	}
	self.outReport = make(chan []byte, self.outBuffer)
	self.outError = make(chan []byte, self.outBuffer)
	return nil
}

func (self *transportMock) SendReport(payload []byte) bool {
	return self.deliver(self.outReport, "report", payload)
}

func (self *transportMock) SendError(payload []byte) bool {
	return self.deliver(self.outError, "error", payload)
}

func (self *transportMock) deliver(ch chan []byte, kind string, payload []byte) bool {
	if atomic.AddInt32(&self.fail, -1) >= 0 {
		self.t.Logf("mock fail %s=%x", kind, payload)
		return false
	}
	select {
	case ch <- payload:
		self.t.Logf("mock delivered %s=%x", kind, payload)
	case <-time.After(self.networkTimeout):
		self.t.Logf("mock network timeout")
		return false
	}
	return true
}

func (self *transportMock) Close() { self.closed = true }
