package queue

import "sync/atomic"

// State is the Adaptive Consumer's lifecycle state. Transitions are
// triggered by subscription events and the health sampler; message
// callbacks are only delivered while in Consuming.
type State int32

const (
	Connecting State = iota
	Consuming
	Paused
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Consuming:
		return "Consuming"
	case Paused:
		return "Paused"
	case Draining:
		return "Draining"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// stateCell is a small atomic state holder, matching this codebase's
// preference for an explicit state enum over a generic FSM library.
type stateCell struct {
	v int32
}

func (c *stateCell) load() State   { return State(atomic.LoadInt32(&c.v)) }
func (c *stateCell) store(s State) { atomic.StoreInt32(&c.v, int32(s)) }
func (c *stateCell) cas(old, next State) bool {
	return atomic.CompareAndSwapInt32(&c.v, int32(old), int32(next))
}
