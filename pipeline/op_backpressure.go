package pipeline

import (
	"time"

	"github.com/c360/eventflow/errors"
)

// backpressureOperator sheds load when downstream reports failure.
// Fail and trigger insights start an exponential backoff ladder;
// while backing off, events are diverted to the overflow port instead
// of the out port. Ack and restore insights reset the ladder, and a
// tick past the backoff closes the circuit from inside, raising a
// restore insight so paused sources resume.
type backpressureOperator struct {
	baseOperator
	timeout time.Duration
	steps   []time.Duration
	step    int   // -1 when the circuit is healthy
	nextOK  int64 // unix nanos when forwarding may resume
	now     func() int64
}

func newBackpressureOperator(id string, cfg map[string]any, _ OperatorDeps) (Operator, error) {
	timeoutMS := cfgInt(cfg, "timeout", 100)
	if timeoutMS <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "backpressureOperator", "new",
			"timeout must be positive")
	}
	timeout := time.Duration(timeoutMS) * time.Millisecond

	multipliers := []int{1, 10, 100}
	if raw, ok := cfg["steps"].([]any); ok && len(raw) > 0 {
		multipliers = multipliers[:0]
		for _, m := range raw {
			n := 0
			switch v := m.(type) {
			case int:
				n = v
			case int64:
				n = int(v)
			case float64:
				n = int(v)
			}
			if n <= 0 {
				return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "backpressureOperator", "new",
					"steps must be positive integers")
			}
			multipliers = append(multipliers, n)
		}
	}
	steps := make([]time.Duration, len(multipliers))
	for i, m := range multipliers {
		steps[i] = timeout * time.Duration(m)
	}
	return &backpressureOperator{
		baseOperator: baseOperator{id: id},
		timeout:      timeout,
		steps:        steps,
		step:         -1,
		now:          func() int64 { return time.Now().UnixNano() },
	}, nil
}

func (o *backpressureOperator) OnEvent(_ string, event Event) ([]PortEvent, error) {
	if o.step >= 0 && o.now() < o.nextOK {
		return []PortEvent{{Port: PortOverflow, Event: event}}, nil
	}
	return []PortEvent{{Port: PortOut, Event: event}}, nil
}

func (o *backpressureOperator) HandlesSignal() bool { return true }

// OnSignal closes an open circuit when a tick finds the backoff
// expired, publishing the restore upstream so paused sources resume.
func (o *backpressureOperator) OnSignal(signal *Event) ([]PortEvent, []Event, error) {
	if signal.Signal != SignalTick || o.step < 0 || o.now() < o.nextOK {
		return nil, nil, nil
	}
	o.step = -1
	o.nextOK = 0
	return nil, []Event{NewInsight(CBRestore)}, nil
}

func (o *backpressureOperator) HandlesContraflow() bool { return true }

func (o *backpressureOperator) OnContraflow(insight *Event) {
	switch insight.CB {
	case CBFail, CBTrigger:
		if o.step < len(o.steps)-1 {
			o.step++
		}
		o.nextOK = o.now() + int64(o.steps[o.step])
	case CBAck, CBRestore:
		o.step = -1
		o.nextOK = 0
	}
}
