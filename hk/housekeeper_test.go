package hk_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/mediaconduit/txcore/hk"
)

func TestRegFires(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.WaitStarted()
	defer hk.DefaultHK.Stop(nil)

	var n int32
	hk.Reg("counter", func() time.Duration {
		atomic.AddInt32(&n, 1)
		return 5 * time.Millisecond
	}, 5*time.Millisecond)

	deadline := time.Now().Add(500 * time.Millisecond)
	for atomic.LoadInt32(&n) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&n) < 3 {
		t.Fatalf("expected registered callback to fire at least 3 times, got %d", n)
	}
}

func TestUnreg(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.WaitStarted()
	defer hk.DefaultHK.Stop(nil)

	var n int32
	hk.Reg("once", func() time.Duration {
		atomic.AddInt32(&n, 1)
		return time.Millisecond
	}, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	hk.Unreg("once")
	after := atomic.LoadInt32(&n)
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&n) > after+1 {
		t.Fatalf("expected callback to stop firing after Unreg")
	}
}
