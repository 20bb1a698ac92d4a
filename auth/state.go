package auth

import (
	"context"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

// Token lifecycle states.
const (
	StateUnconfigured    = "unconfigured"
	StateUnauthenticated = "unauthenticated"
	StateValid           = "valid"
	StateStale           = "stale"
)

const (
	eventConfigure = "configure"
	eventGrant     = "grant"
	eventExpire    = "expire"
	eventLogout    = "logout"
)

// stateMachine tracks which phase of the token lifecycle the auth object is
// in. Transitions are reported by the Initialize/EnsureToken/logout paths;
// the machine records them, it does not drive them.
type stateMachine struct {
	fsm    *fsm.FSM
	logger zerolog.Logger
}

func newStateMachine(logger zerolog.Logger) *stateMachine {
	m := &stateMachine{logger: logger}
	m.fsm = fsm.NewFSM(
		StateUnconfigured,
		fsm.Events{
			{Name: eventConfigure, Src: []string{StateUnconfigured}, Dst: StateUnauthenticated},
			{Name: eventGrant, Src: []string{StateUnauthenticated, StateStale}, Dst: StateValid},
			{Name: eventExpire, Src: []string{StateValid}, Dst: StateStale},
			{Name: eventLogout, Src: []string{StateValid, StateStale}, Dst: StateUnauthenticated},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if e.Src != e.Dst {
					m.logger.Debug().Str("from", e.Src).Str("to", e.Dst).Msg("auth state changed")
				}
			},
		},
	)
	return m
}

// transition fires an event, ignoring events that are not legal from the
// current state: callers report lifecycle facts unconditionally and the
// machine keeps whatever consistent view it can.
func (m *stateMachine) transition(event string) {
	if err := m.fsm.Event(context.Background(), event); err != nil {
		m.logger.Trace().Err(err).Str("event", event).Msg("auth state event ignored")
	}
}

func (m *stateMachine) current() string {
	return m.fsm.Current()
}
