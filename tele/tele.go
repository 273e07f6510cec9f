package tele

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/temoto/iotgw/log2"
	tele_config "github.com/temoto/iotgw/tele/config"
	"github.com/temoto/spq"
)

const (
	defaultNetworkTimeout = 30 * time.Second
	defaultRetryDelay     = 5 * time.Second
)

// spq item is tag byte followed by marshaled message
const (
	qReport byte = 1
	qError  byte = 2
)

type Tele struct { //nolint:maligned
	enabled   bool
	log       *log2.Log
	transport Transporter
	deviceID  string
	q         *spq.Queue
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	dropped   uint32

	// Now is replaceable clock for tests.
	Now        func() time.Time
	retryDelay time.Duration
}

var _ Teler = (*Tele)(nil)

func (self *Tele) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config) error {
	self.log = log.Clone(log2.LInfo)
	if teleConfig.LogDebug {
		self.log.SetLevel(log2.LDebug)
	}
	if self.Now == nil {
		self.Now = time.Now
	}
	if self.retryDelay == 0 {
		self.retryDelay = defaultRetryDelay
	}
	if !teleConfig.Enabled {
		return nil
	}
	if teleConfig.DeviceID == "" {
		return errors.NotValidf("tele.device_id empty")
	}
	if teleConfig.MqttBroker == "" {
		return errors.NotValidf("tele.mqtt_broker empty")
	}
	if teleConfig.PersistPath == "" {
		return errors.NotValidf("tele.persist_path empty")
	}
	self.deviceID = teleConfig.DeviceID

	var err error
	self.q, err = spq.Open(teleConfig.PersistPath)
	if err != nil {
		return errors.Annotatef(err, "tele queue path=%s", teleConfig.PersistPath)
	}

	// test code sets .transport
	if self.transport == nil { // production path
		self.transport = &transportMqtt{}
	}
	if err = self.transport.Init(ctx, self.log, teleConfig); err != nil {
		_ = self.q.Close()
		return errors.Annotate(err, "tele transport")
	}
	self.stopCh = make(chan struct{})
	self.enabled = true
	self.wg.Add(1)
	go self.qworker()
	return nil
}

// Close stops delivery. Undelivered messages stay in queue for next Init.
func (self *Tele) Close() {
	if !self.enabled {
		return
	}
	self.mu.Lock()
	if self.closed {
		self.mu.Unlock()
		return
	}
	self.closed = true
	close(self.stopCh)
	if err := self.q.Close(); err != nil {
		self.log.Infof("tele queue close err=%v", err)
	}
	self.mu.Unlock()
	self.wg.Wait()
	self.transport.Close()
}

// Dropped is number of messages lost to queue write errors.
func (self *Tele) Dropped() uint32 { return atomic.LoadUint32(&self.dropped) }

func (self *Tele) Report(r *Report) {
	if !self.enabled {
		return
	}
	if r.DeviceId == "" {
		r.DeviceId = self.deviceID
	}
	if r.Time == 0 {
		r.Time = self.Now().Unix()
	}
	self.log.Debugf("tele.Report %s", r.String())
	self.qpushTagProto(qReport, r)
}

// Error must not log at error level, it is called from log error hook.
func (self *Tele) Error(e error) {
	if !self.enabled || e == nil {
		return
	}
	self.log.Debugf("tele.Error e=%v", e)
	self.qpushTagProto(qError, &Error{
		DeviceId: self.deviceID,
		Time:     self.Now().Unix(),
		Message:  e.Error(),
	})
}

func (self *Tele) qpushTagProto(tag byte, pb proto.Message) {
	payload, err := proto.Marshal(pb)
	if err != nil {
		self.log.Infof("tele marshal tag=%d err=%v", tag, err)
		return
	}
	b := make([]byte, 0, 1+len(payload))
	b = append(b, tag)
	b = append(b, payload...)

	self.mu.RLock()
	defer self.mu.RUnlock()
	if self.closed {
		return
	}
	if err = self.q.Push(b); err != nil {
		atomic.AddUint32(&self.dropped, 1)
		self.log.Infof("tele queue push tag=%d err=%v", tag, err)
	}
}

func (self *Tele) qworker() {
	defer self.wg.Done()
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			b := box.Bytes()
			if self.qhandle(b) {
				err = self.q.Delete(box)
			} else {
				err = self.q.DeletePush(box)
				select {
				case <-self.stopCh:
				case <-time.After(self.retryDelay):
				}
			}
			if err != nil && !self.stopping() {
				self.log.Infof("tele queue b=%x err=%v", b, err)
			}

		case spq.ErrClosed:
			if !self.stopping() {
				self.log.Infof("CRITICAL tele queue closed unexpectedly")
			}
			return

		default:
			self.log.Infof("CRITICAL tele queue err=%v", err)
			select {
			case <-self.stopCh:
				return
			case <-time.After(self.retryDelay):
			}
		}
	}
}

// qhandle returns true when item should be removed from queue.
func (self *Tele) qhandle(b []byte) bool {
	if len(b) == 0 {
		self.log.Infof("tele queue peek=empty")
		return true
	}
	var ok bool
	switch b[0] {
	case qReport:
		ok = self.transport.SendReport(b[1:])
	case qError:
		ok = self.transport.SendError(b[1:])
	default:
		self.log.Infof("tele queue unknown tag=%d b=%x", b[0], b)
		return true
	}
	if !ok {
		self.log.Debugf("tele send failed tag=%d payload=%x", b[0], b[1:])
	}
	return ok
}

func (self *Tele) stopping() bool {
	select {
	case <-self.stopCh:
		return true
	default:
		return false
	}
}
