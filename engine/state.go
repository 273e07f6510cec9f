package engine

import "fmt"

type State uint32

const (
	StateIdle State = iota
	StateParseHeader
	StateErrorUnknownCommand
	StateErrorInvalidStartTag
	StateErrorInvalidEndTag
	StateErrorUnexpectedPayloadSize
	StateParseSendCommand
	StateParseReadEnable
	StateDisablePeripheral
	StateSendRemoteCall
	StateEnablePeripheral
	StateBuildResponse
)

var stateNames = [...]string{
	StateIdle:                       "Idle",
	StateParseHeader:                "ParseHeader",
	StateErrorUnknownCommand:        "ErrorUnknownCommand",
	StateErrorInvalidStartTag:       "ErrorInvalidStartTag",
	StateErrorInvalidEndTag:         "ErrorInvalidEndTag",
	StateErrorUnexpectedPayloadSize: "ErrorUnexpectedPayloadSize",
	StateParseSendCommand:           "ParseSendCommand",
	StateParseReadEnable:            "ParseReadEnable",
	StateDisablePeripheral:          "DisablePeripheral",
	StateSendRemoteCall:             "SendRemoteCall",
	StateEnablePeripheral:           "EnablePeripheral",
	StateBuildResponse:              "BuildResponse",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// Event is outcome of state side effects, input to Transition.
type Event uint32

const (
	EventNone Event = iota
	EventNoData
	EventTimeout
	EventTransportError
	EventReceived
	EventInvalidStartTag
	EventUnknownCommand
	EventReadEnable
	EventSendCommand
	EventInvalidEndTag
	EventUnexpectedPayloadSize
	EventValid
	EventDone
)

var eventNames = [...]string{
	EventNone:                  "None",
	EventNoData:                "NoData",
	EventTimeout:               "Timeout",
	EventTransportError:        "TransportError",
	EventReceived:              "Received",
	EventInvalidStartTag:       "InvalidStartTag",
	EventUnknownCommand:        "UnknownCommand",
	EventReadEnable:            "ReadEnable",
	EventSendCommand:           "SendCommand",
	EventInvalidEndTag:         "InvalidEndTag",
	EventUnexpectedPayloadSize: "UnexpectedPayloadSize",
	EventValid:                 "Valid",
	EventDone:                  "Done",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", uint32(e))
}

type transitionKey struct {
	s State
	e Event
}

var transitions = map[transitionKey]State{
	{StateIdle, EventNoData}:         StateIdle,
	{StateIdle, EventTimeout}:        StateIdle,
	{StateIdle, EventTransportError}: StateIdle,
	{StateIdle, EventReceived}:       StateParseHeader,

	{StateParseHeader, EventInvalidStartTag}: StateErrorInvalidStartTag,
	{StateParseHeader, EventUnknownCommand}:  StateErrorUnknownCommand,
	{StateParseHeader, EventReadEnable}:      StateParseReadEnable,
	{StateParseHeader, EventSendCommand}:     StateParseSendCommand,

	{StateErrorUnknownCommand, EventDone}:        StateIdle,
	{StateErrorInvalidStartTag, EventDone}:       StateIdle,
	{StateErrorInvalidEndTag, EventDone}:         StateIdle,
	{StateErrorUnexpectedPayloadSize, EventDone}: StateIdle,

	{StateParseSendCommand, EventInvalidStartTag}:       StateErrorInvalidStartTag,
	{StateParseSendCommand, EventInvalidEndTag}:         StateErrorInvalidEndTag,
	{StateParseSendCommand, EventUnexpectedPayloadSize}: StateErrorUnexpectedPayloadSize,
	{StateParseSendCommand, EventValid}:                 StateDisablePeripheral,

	{StateDisablePeripheral, EventDone}: StateSendRemoteCall,
	{StateSendRemoteCall, EventDone}:    StateEnablePeripheral,
	{StateEnablePeripheral, EventDone}:  StateBuildResponse,

	{StateParseReadEnable, EventValid}: StateBuildResponse,

	{StateBuildResponse, EventDone}: StateIdle,
}

// Transition is pure protocol state machine, no I/O.
// Unexpected (state, event) pair resets to Idle, ok=false.
func Transition(s State, e Event) (next State, ok bool) {
	next, ok = transitions[transitionKey{s, e}]
	if !ok {
		return StateIdle, false
	}
	return next, true
}
