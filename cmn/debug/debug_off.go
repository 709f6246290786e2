//go:build !debug

// Package debug provides build-tag gated invariant checks used throughout
// the connection core (segment ownership, dispatcher map injectivity,
// Fault monotonicity, ...). With the default build every function here is
// a no-op; build with -tags=debug to turn them into real assertions.
package debug

import "sync"

func ON() bool { return false }

func Infof(_ string, _ ...any) {}

func Func(_ func()) {}

func Assert(_ bool, _ ...any)            {}
func AssertFunc(_ func() bool, _ ...any) {}
func AssertNoErr(_ error)                {}
func Assertf(_ bool, _ string, _ ...any) {}

func AssertMutexLocked(_ *sync.Mutex)      {}
func AssertRWMutexLocked(_ *sync.RWMutex)  {}
func AssertRWMutexRLocked(_ *sync.RWMutex) {}
