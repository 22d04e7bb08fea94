package workflow

// subscriptions owns at most one block subscription at a time.
type subscriptions struct {
	release func()
}

// replace releases the current handle before acquiring the next one.
func (s *subscriptions) replace(acquire func() func()) {
	s.releaseCurrent()
	s.release = acquire()
}

func (s *subscriptions) releaseCurrent() {
	if s.release != nil {
		release := s.release
		s.release = nil
		release()
	}
}

func (s *subscriptions) active() bool {
	return s.release != nil
}
