// Package engine is dispenser controller protocol state machine.
// Engine owns current state, error code and Store; all methods must be called
// from single goroutine, except Stat() readers.
package engine

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/iotgw/iot"
	"github.com/temoto/iotgw/log2"
	"github.com/temoto/iotgw/remote"
	"github.com/temoto/iotgw/tele"
	"github.com/temoto/iotgw/transport"
)

const DefaultIdleSleep = time.Millisecond

type Config struct {
	IdleSleepUs int `hcl:"idle_sleep_us"`
}

// Remoter is implemented by remote.Client.
type Remoter interface {
	BuildRequest(payload []byte) remote.Request
	Send(ctx context.Context, req *remote.Request) (remote.Reply, error)
}

type Engine struct {
	log       *log2.Log
	transport transport.Transporter
	remote    Remoter
	tele      tele.Teler
	idleSleep time.Duration

	state     State
	errorCode iot.ErrorCode
	rx        []byte
	store     Store
	stat      Stat
	remoteOK  bool
	callTime  time.Duration
	command   byte

	XXX_testHook func(current State, e Event, next State)
}

func New(config Config, t transport.Transporter, r Remoter, teler tele.Teler, log *log2.Log) *Engine {
	if teler == nil {
		teler = tele.Noop{}
	}
	idleSleep := DefaultIdleSleep
	if config.IdleSleepUs > 0 {
		idleSleep = time.Duration(config.IdleSleepUs) * time.Microsecond
	}
	return &Engine{
		log:       log,
		transport: t,
		remote:    r,
		tele:      teler,
		idleSleep: idleSleep,
		state:     StateIdle,
		rx:        make([]byte, 0, transport.XferBufferSize),
	}
}

func (self *Engine) State() State             { return self.state }
func (self *Engine) ErrorCode() iot.ErrorCode { return self.errorCode }
func (self *Engine) Store() *Store            { return &self.store }
func (self *Engine) Stat() *Stat              { return &self.stat }

// Run steps state machine until alive is stopped or ctx is done.
// Remote call in progress is never interrupted, stop takes effect after it.
func (self *Engine) Run(ctx context.Context, a *alive.Alive) error {
	if !a.Add(1) {
		return nil
	}
	defer a.Done()
	self.log.Debugf("engine run idle_sleep=%v", self.idleSleep)
	for a.IsRunning() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		self.Step(ctx)
	}
	self.log.Debugf("engine run end %s", self.stat.String())
	return nil
}

// Step executes side effects of current state and moves to next.
func (self *Engine) Step(ctx context.Context) State {
	current := self.state
	e := self.enter(ctx, current)
	next, ok := Transition(current, e)
	if !ok {
		self.log.Errorf("engine state=%s unexpected event=%s", current.String(), e.String())
	}
	if next != current {
		self.log.Debugf("engine %s --%s--> %s", current.String(), e.String(), next.String())
	}
	self.state = next
	if self.XXX_testHook != nil {
		self.XXX_testHook(current, e, next)
	}
	return next
}

// Cycle steps from Idle through complete frame processing back to Idle.
// Returns false when nothing was received.
func (self *Engine) Cycle(ctx context.Context) bool {
	if self.Step(ctx) == StateIdle {
		return false
	}
	for self.state != StateIdle {
		self.Step(ctx)
	}
	return true
}

func (self *Engine) enter(ctx context.Context, s State) Event {
	switch s {
	case StateIdle:
		return self.poll()

	case StateParseHeader:
		h, err := iot.DecodeHeader(self.rx)
		if err != nil {
			self.log.Debugf("engine header err=%v", err)
			return EventInvalidStartTag
		}
		switch h.Command {
		case iot.CommandReadEnable:
			return EventReadEnable
		case iot.CommandSend:
			return EventSendCommand
		default:
			return EventUnknownCommand
		}

	case StateErrorUnknownCommand:
		self.stat.inc(&self.stat.UnknownCommand)
		return self.flagError(iot.ErrorUnknownCmd, "unknown command")
	case StateErrorInvalidStartTag:
		self.stat.inc(&self.stat.InvalidStartTag)
		return self.flagError(iot.ErrorCmdProcessing, "invalid start tag")
	case StateErrorInvalidEndTag:
		self.stat.inc(&self.stat.InvalidEndTag)
		return self.flagError(iot.ErrorCmdProcessing, "invalid end tag")
	case StateErrorUnexpectedPayloadSize:
		self.stat.inc(&self.stat.UnexpectedPayloadSize)
		return self.flagError(iot.ErrorUnexpectedPlsz, "unexpected payload size")

	case StateParseSendCommand:
		c, err := iot.DecodeSendCommand(self.rx)
		switch errors.Cause(err) {
		case nil:
		case iot.ErrInvalidEndTag:
			self.log.Debugf("engine %v", err)
			return EventInvalidEndTag
		case iot.ErrUnexpectedPayloadSize:
			self.log.Debugf("engine %v", err)
			return EventUnexpectedPayloadSize
		default:
			self.log.Debugf("engine %v", err)
			return EventInvalidStartTag
		}
		self.errorCode = iot.ErrorOK
		self.command = iot.CommandSend
		self.store.SetSendCommand(c)
		self.log.Infof("engine %s", c.String())
		return EventValid

	case StateDisablePeripheral:
		if err := self.transport.Pause(); err != nil {
			self.log.Error(errors.Annotate(err, "engine transport pause"))
		}
		return EventDone

	case StateSendRemoteCall:
		self.remoteCall(ctx)
		self.discard()
		return EventDone

	case StateEnablePeripheral:
		if err := self.transport.Resume(); err != nil {
			self.log.Error(errors.Annotate(err, "engine transport resume"))
		}
		return EventDone

	case StateParseReadEnable:
		c, err := iot.DecodeReadEnable(self.rx)
		if err != nil {
			self.log.Warningf("engine read enable %v", err)
		} else {
			self.store.SetReadEnable(c)
		}
		self.command = iot.CommandReadEnable
		self.discard()
		return EventValid

	case StateBuildResponse:
		self.buildResponse()
		return EventDone

	default:
		self.log.Errorf("engine code error state=%s", s.String())
		return EventNone
	}
}

func (self *Engine) poll() Event {
	b, err := self.transport.Poll()
	if err != nil {
		if transport.IsTimeout(err) {
			self.stat.inc(&self.stat.TransportTimeouts)
			self.log.Warningf("engine transport %v", err)
			return EventTimeout
		}
		self.stat.inc(&self.stat.TransportErrors)
		self.log.Warningf("engine transport %v", err)
		time.Sleep(self.idleSleep)
		return EventTransportError
	}
	if len(b) == 0 {
		time.Sleep(self.idleSleep)
		return EventNoData
	}
	self.rx = append(self.rx[:0], b...)
	self.stat.inc(&self.stat.Received)
	self.stat.LastFrame.SetNow()
	self.log.Infof("engine received frame=%x", self.rx)
	return EventReceived
}

// flagError records error code and drops input. No reply is sent.
func (self *Engine) flagError(code iot.ErrorCode, what string) Event {
	self.errorCode = code
	self.log.Errorf("engine %s frame=%x error_code=%s", what, self.rx, code.String())
	self.discard()
	return EventDone
}

func (self *Engine) discard() { self.rx = self.rx[:0] }

func (self *Engine) remoteCall(ctx context.Context) {
	cmd := self.store.SendCommand()
	req := self.store.SetServerRequest(self.remote.BuildRequest(cmd.UplinkData()))
	// payload left from previous call must not leak into this reply
	self.store.SetDeckedReply(iot.DeckedReply{})

	tbegin := time.Now()
	reply, err := self.remote.Send(ctx, req)
	self.callTime = time.Since(tbegin)
	self.stat.LastRemoteCall.SetNow()
	if err != nil {
		self.remoteOK = false
		self.errorCode = iot.ErrorServerUnreach
		self.stat.inc(&self.stat.RemoteFailed)
		self.log.Errorf("engine remote call seq=%d duration=%v err=%v", req.Seq, self.callTime, err)
		return
	}
	self.remoteOK = true
	self.stat.inc(&self.stat.RemoteOK)
	self.log.Infof("engine remote call seq=%d duration=%v %s", req.Seq, self.callTime, reply.String())
	if reply.HasDownlink {
		self.store.SetDeckedReply(iot.DeckedReply{Payload: reply.Downlink})
	}
}

func (self *Engine) buildResponse() {
	cmd := self.store.SendCommand()
	var out []byte
	switch cmd.DownlinkIndicator {
	case iot.DownlinkNone:
		out = iot.EncodeEmptyReply(self.errorCode)
	case iot.DownlinkRequested:
		decked := self.store.DeckedReply()
		decked.ErrorCode = self.errorCode
		out = iot.EncodeDeckedReply(decked.ErrorCode, decked.Payload)
	default:
		self.log.Errorf("engine invalid downlink indicator=%02x", cmd.DownlinkIndicator)
		out = iot.EncodeEmptyReply(iot.ErrorInvalidCmd)
	}
	if err := self.transport.Send(out); err != nil {
		self.log.Error(errors.Annotate(err, "engine transport send"))
	} else {
		self.stat.inc(&self.stat.Replies)
	}
	self.log.Infof("engine reply=%x", out)

	r := &tele.Report{
		ErrorCode:         uint32(out[2]),
		DownlinkIndicator: uint32(cmd.DownlinkIndicator),
		Reply:             out,
		Command:           uint32(self.command),
	}
	// read enable replays stored reply, no remote call in this cycle
	if self.command != iot.CommandReadEnable {
		r.Seq = self.store.ServerRequest().Seq
		r.RemoteOk = self.remoteOK
		r.CallMs = uint32(self.callTime / time.Millisecond)
	}
	self.tele.Report(r)
}
