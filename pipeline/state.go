package pipeline

import (
	"fmt"
	"time"
)

// State is a step of the dispatcher state machine.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateExecuting  State = "executing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

// allowed lists the legal successors of each state. Validation failures go
// straight to Failed without passing through Executing.
var allowed = map[State][]State{
	StateIdle:       {StateValidating},
	StateValidating: {StateExecuting, StateFailed},
	StateExecuting:  {StateCompleted, StateFailed},
}

// Transition records one state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// machine tracks the state of one operation.
type machine struct {
	state State
	log   []Transition
	now   func() time.Time
}

func newMachine(now func() time.Time) *machine {
	return &machine{state: StateIdle, now: now}
}

// advance moves to next. An illegal transition is a dispatcher bug and panics.
func (m *machine) advance(next State) {
	for _, s := range allowed[m.state] {
		if s == next {
			m.log = append(m.log, Transition{From: m.state, To: next, At: m.now()})
			m.state = next
			return
		}
	}
	panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", m.state, next))
}
