package host

import "sync/atomic"

// Readiness is the module lifecycle as seen by the dispatcher.
type Readiness int32

const (
	Unloaded Readiness = iota
	Loading
	Ready
)

func (r Readiness) String() string {
	switch r {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "invalid"
	}
}

// State holds the readiness flag. Ready is terminal; a load that fails
// returns to Unloaded so a later load command can try again.
type State struct {
	v atomic.Int32
}

func (s *State) Load() Readiness {
	return Readiness(s.v.Load())
}

// Begin moves Unloaded to Loading. It reports false in any other state.
func (s *State) Begin() bool {
	return s.v.CompareAndSwap(int32(Unloaded), int32(Loading))
}

// Ready moves Loading to Ready.
func (s *State) Ready() bool {
	return s.v.CompareAndSwap(int32(Loading), int32(Ready))
}

// Abort moves Loading back to Unloaded.
func (s *State) Abort() bool {
	return s.v.CompareAndSwap(int32(Loading), int32(Unloaded))
}
