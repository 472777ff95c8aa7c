package run

import (
	"sync"

	"github.com/CZERTAINLY/Herald/internal/model"
)

// Session is the mutable state of a single run. The orchestrator loop is
// its only writer; the mutex makes it safe to inspect from other
// goroutines, for example from tests or a watchdog callback.
type Session struct {
	mx      sync.Mutex
	active  *model.TestID
	success int
	fail    int
	final   bool
	state   model.RunState
	code    int
}

func NewSession() *Session {
	return &Session{}
}

// SetActive replaces the test in flight.
func (s *Session) SetActive(test model.TestID) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.active = &test
}

// ClearActive marks no test in flight.
func (s *Session) ClearActive() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.active = nil
}

// Active returns a copy of the test in flight or nil.
func (s *Session) Active() *model.TestID {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.active == nil {
		return nil
	}
	t := *s.active
	return &t
}

func (s *Session) AddSuccess() {
	s.mx.Lock()
	s.success++
	s.mx.Unlock()
}

func (s *Session) AddFail() {
	s.mx.Lock()
	s.fail++
	s.mx.Unlock()
}

// Counts returns success and fail counters.
func (s *Session) Counts() (success, fail int) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.success, s.fail
}

// Finalize sets the terminal state. Only the first call succeeds and
// returns true.
func (s *Session) Finalize(state model.RunState, code int) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.final {
		return false
	}
	s.final = true
	s.state = state
	s.code = code
	return true
}

// Terminal returns the terminal state, ok is false until Finalize.
func (s *Session) Terminal() (state model.RunState, code int, ok bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state, s.code, s.final
}
