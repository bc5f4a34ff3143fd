package core

type compareState uint8

const (
	compareIdle compareState = iota
	compareRunning
	compareRunningWithPending
)

// compareScheduler coalesces compare requests. A request raised while a pass
// is running never starts a nested pass; it schedules exactly one more pass
// after the current one.
type compareScheduler struct {
	state compareState
}

// enter reports whether the caller should run passes.
func (s *compareScheduler) enter() bool {
	switch s.state {
	case compareIdle:
		s.state = compareRunning
		return true
	default:
		s.state = compareRunningWithPending
		return false
	}
}

// next is called after a pass and reports whether another pass is due.
func (s *compareScheduler) next() bool {
	if s.state == compareRunningWithPending {
		s.state = compareRunning
		return true
	}
	s.state = compareIdle
	return false
}

func (s *compareScheduler) reset() {
	s.state = compareIdle
}

func (s *compareScheduler) running() bool {
	return s.state != compareIdle
}
