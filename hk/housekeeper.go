// Package hk provides a single shared ticker that periodic subsystems
// (statistics gatherer, probe keep-alive) register a callback with, instead
// of each owning its own time.Ticker.
package hk

import (
	"sync"
	"time"

	"github.com/mediaconduit/txcore/cmn/cos"
	"github.com/mediaconduit/txcore/cmn/nlog"
)

const dfltTick = 20 * time.Millisecond

type (
	// request is a callback registered under name, fired no more often than
	// every interval; a zero return from f reschedules at the same interval.
	request struct {
		f        func() time.Duration
		name     string
		interval time.Duration
		due      time.Time
	}

	HK struct {
		mu       sync.Mutex
		requests map[string]*request
		tick     time.Duration
		stopCh   cos.StopCh
		startedC chan struct{}
		started  bool
	}
)

// DefaultHK is the process-wide housekeeper; every connection and
// subsystem in this module shares it rather than spinning its own ticker.
var DefaultHK = New()

func New() *HK {
	hk := &HK{
		requests: make(map[string]*request, 8),
		tick:     dfltTick,
		startedC: make(chan struct{}),
	}
	hk.stopCh.Init()
	return hk
}

// TestInit resets DefaultHK to a fresh state for test isolation.
func TestInit() { DefaultHK = New() }

// Reg registers f to be invoked no more often than interval; f's return
// value becomes the next interval (so a callback can back off or speed up).
func Reg(name string, f func() time.Duration, interval time.Duration) {
	DefaultHK.reg(name, f, interval)
}

func Unreg(name string) { DefaultHK.unreg(name) }

func (hk *HK) reg(name string, f func() time.Duration, interval time.Duration) {
	hk.mu.Lock()
	hk.requests[name] = &request{f: f, name: name, interval: interval, due: time.Now().Add(interval)}
	hk.mu.Unlock()
}

func (hk *HK) unreg(name string) {
	hk.mu.Lock()
	delete(hk.requests, name)
	hk.mu.Unlock()
}

func (*HK) Name() string { return "housekeeper" }

// Run is the housekeeper's main loop; callers start it in its own goroutine
// and wait on WaitStarted before relying on registered callbacks firing.
func (hk *HK) Run() error {
	ticker := time.NewTicker(hk.tick)
	defer ticker.Stop()

	hk.mu.Lock()
	if !hk.started {
		hk.started = true
		close(hk.startedC)
	}
	hk.mu.Unlock()

	for {
		select {
		case now := <-ticker.C:
			hk.do(now)
		case <-hk.stopCh.Listen():
			return nil
		}
	}
}

func (hk *HK) Stop(err error) {
	nlog.Infof("stopping housekeeper, err: %v", err)
	hk.stopCh.Close()
}

func (hk *HK) do(now time.Time) {
	hk.mu.Lock()
	due := make([]*request, 0, 4)
	for _, r := range hk.requests {
		if !now.Before(r.due) {
			due = append(due, r)
		}
	}
	hk.mu.Unlock()

	for _, r := range due {
		next := r.f()
		if next <= 0 {
			next = r.interval
		}
		hk.mu.Lock()
		if cur, ok := hk.requests[r.name]; ok && cur == r {
			cur.due = now.Add(next)
		}
		hk.mu.Unlock()
	}
}

// WaitStarted blocks until DefaultHK.Run has entered its loop.
func WaitStarted() { <-DefaultHK.startedC }
