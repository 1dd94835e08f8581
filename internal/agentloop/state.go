package agentloop

import (
	"fmt"

	"go.uber.org/zap"
)

// State is one of the six states spec.md §4.4 names.
type State string

const (
	StateIdle             State = "idle"
	StateComposing        State = "composing"
	StateWaiting          State = "waiting"
	StateStreaming        State = "streaming"
	StateDispatchingTools State = "dispatching_tools"
	StateContinuing       State = "continuing"
)

// validTransitions enumerates every edge spec.md §4.4's table allows.
// cancel() is handled separately since it is valid from any state.
var validTransitions = map[State]map[State]bool{
	StateIdle:             {StateComposing: true},
	StateComposing:        {StateWaiting: true, StateIdle: true},
	StateWaiting:          {StateStreaming: true, StateIdle: true},
	StateStreaming:        {StateIdle: true, StateDispatchingTools: true},
	StateDispatchingTools: {StateDispatchingTools: true, StateContinuing: true, StateIdle: true},
	StateContinuing:       {StateComposing: true},
}

func (l *AgentLoop) transition(to State) error {
	from := l.state
	allowed, ok := validTransitions[from]
	if !ok || !allowed[to] {
		err := fmt.Errorf("invalid agent loop transition: %s -> %s", from, to)
		l.logger.Error(err.Error())
		return err
	}
	l.logger.Debug("agent loop transition", zap.String("from", string(from)), zap.String("to", string(to)))
	l.state = to
	return nil
}
