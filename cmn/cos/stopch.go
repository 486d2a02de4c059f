package cos

import "sync"

// StopCh is a close-once broadcast signal: every Listen() call returns the
// same channel, which is closed exactly once by Close(). A closed channel
// IS the signal, and every goroutine selecting on it wakes up
// simultaneously (the housekeeper's stop signal is one such use).
type StopCh struct {
	ch   chan struct{}
	once sync.Once
}

func NewStopCh() *StopCh {
	s := &StopCh{}
	s.Init()
	return s
}

func (s *StopCh) Init() { s.ch = make(chan struct{}) }

func (s *StopCh) Listen() <-chan struct{} { return s.ch }

func (s *StopCh) Close() { s.once.Do(func() { close(s.ch) }) }

func (s *StopCh) IsClosed() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
