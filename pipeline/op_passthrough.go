package pipeline

// passthroughOperator forwards every event unchanged to the out port.
// It exists so links can be shaped without transforming data.
type passthroughOperator struct {
	baseOperator
}

func newPassthroughOperator(id string, _ map[string]any, _ OperatorDeps) (Operator, error) {
	return &passthroughOperator{baseOperator{id: id}}, nil
}

func (o *passthroughOperator) OnEvent(_ string, event Event) ([]PortEvent, error) {
	return []PortEvent{{Port: PortOut, Event: event}}, nil
}
