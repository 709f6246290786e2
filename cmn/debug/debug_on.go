//go:build debug

package debug

import (
	"fmt"
	"sync"
)

func ON() bool { return true }

func Infof(format string, args ...any) { fmt.Printf("[debug] "+format+"\n", args...) }

func Func(f func()) { f() }

func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprintln(append([]any{"assertion failed"}, args...)...))
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(fmt.Sprintf("assertion failed: unexpected error: %v", err))
	}
}

func AssertFunc(f func() bool, args ...any) {
	Assert(f(), args...)
}

// AssertMutexLocked and AssertRWMutexLocked are best-effort: sync.Mutex
// does not expose lock state publicly, so these rely on TryLock, which
// is itself racy under contention; acceptable for a debug-only check.
func AssertMutexLocked(m *sync.Mutex) {
	if m.TryLock() {
		m.Unlock()
		panic("assertion failed: mutex not locked")
	}
}

func AssertRWMutexLocked(m *sync.RWMutex) {
	if m.TryLock() {
		m.Unlock()
		panic("assertion failed: rwmutex not locked")
	}
}

func AssertRWMutexRLocked(m *sync.RWMutex) {
	if m.TryLock() {
		m.Unlock()
		panic("assertion failed: rwmutex not locked")
	}
}
