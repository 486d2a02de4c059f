//go:build debug

// Package debug provides assertion utilities that are active when the repo
// is built with -tags debug, and compile away to no-ops otherwise.
package debug

import (
	"fmt"
	"sync"
)

func ON() bool { return true }

func Infof(format string, a ...any) { fmt.Printf("[debug] "+format+"\n", a...) }

func Func(f func()) { f() }

func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
	}
}

func AssertFunc(f func() bool, args ...any) { Assert(f(), args...) }

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

func Assertf(cond bool, format string, a ...any) {
	if !cond {
		panic(fmt.Sprintf(format, a...))
	}
}

// AssertMutexLocked and friends are best-effort: sync.Mutex exposes no
// public "is locked" query, so these rely on TryLock, which is the only
// portable signal stdlib offers.
func AssertMutexLocked(mu *sync.Mutex) {
	if mu.TryLock() {
		mu.Unlock()
		panic("mutex must be held")
	}
}

func AssertRWMutexLocked(mu *sync.RWMutex) {
	if mu.TryLock() {
		mu.Unlock()
		panic("rw-mutex must be held (write)")
	}
}

func AssertRWMutexRLocked(mu *sync.RWMutex) {
	if mu.TryLock() {
		mu.Unlock()
		panic("rw-mutex must be held (read)")
	}
}
