package pipeline

import (
	"sync/atomic"

	"github.com/c360/eventflow/pkg/timestamp"
	"github.com/c360/eventflow/value"
)

// EventKind discriminates how an event travels through a pipeline.
type EventKind int

const (
	// KindNormal flows forward through operator links
	KindNormal EventKind = iota
	// KindSignal is broadcast to every operator that handles signals
	KindSignal
	// KindInsight flows backwards against the link direction
	KindInsight
)

// SignalKind discriminates signal events.
type SignalKind int

const (
	// SignalTick is the periodic tick from the signal generator
	SignalTick SignalKind = iota
	// SignalStart is sent once when a pipeline starts
	SignalStart
	// SignalStop is sent once before a pipeline stops
	SignalStop
)

// CBAction is the circuit-breaker instruction an insight carries.
type CBAction int

const (
	// CBNone carries no circuit-breaker instruction
	CBNone CBAction = iota
	// CBAck acknowledges successful downstream delivery
	CBAck
	// CBFail reports failed downstream delivery
	CBFail
	// CBTrigger closes the circuit: sources must pause
	CBTrigger
	// CBRestore opens the circuit: sources may resume
	CBRestore
)

func (a CBAction) String() string {
	switch a {
	case CBAck:
		return "ack"
	case CBFail:
		return "fail"
	case CBTrigger:
		return "trigger"
	case CBRestore:
		return "restore"
	default:
		return "none"
	}
}

// Event is the unit of data flowing through pipelines. Data and Meta
// are value trees; an event owns its trees exclusively, so operators
// may mutate them without cloning. Fan-out is the only place copies
// are made.
type Event struct {
	ID        uint64
	Data      any
	Meta      any
	IngestNS  uint64
	OriginURI string
	Kind      EventKind
	Signal    SignalKind
	CB        CBAction
	// OriginID identifies the pipeline that produced a signal, so a
	// pipeline can avoid forwarding its own ticks back to itself.
	OriginID string
	IsBatch  bool
}

var eventSeq atomic.Uint64

// NextEventID allocates a process-unique event id.
func NextEventID() uint64 { return eventSeq.Add(1) }

// NewEvent builds a normal event stamped with the current ingest time.
func NewEvent(data any, origin string) Event {
	return Event{
		ID:        NextEventID(),
		Data:      data,
		IngestNS:  timestamp.Now(),
		OriginURI: origin,
	}
}

// NewTick builds a tick signal originating from the given pipeline.
func NewTick(originID string) Event {
	return Event{
		ID:       NextEventID(),
		Kind:     KindSignal,
		Signal:   SignalTick,
		IngestNS: timestamp.Now(),
		OriginID: originID,
	}
}

// NewInsight builds a contraflow event carrying a circuit-breaker
// action.
func NewInsight(action CBAction) Event {
	return Event{
		ID:       NextEventID(),
		Kind:     KindInsight,
		CB:       action,
		IngestNS: timestamp.Now(),
	}
}

// Clone deep-copies the event's value trees. Used at fan-out, where
// all destinations but the last receive a copy.
func (e Event) Clone() Event {
	out := e
	out.Data = value.Clone(e.Data)
	out.Meta = value.Clone(e.Meta)
	return out
}
