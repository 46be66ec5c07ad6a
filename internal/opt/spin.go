package opt

import (
	_ "unsafe" // for linkname
)

// CanSpin reports whether active spinning is worthwhile at iteration i:
// multicore machine, other running Ps, and i below the runtime's limit.
func CanSpin(i int) bool {
	return runtime_canSpin(i)
}

// DoSpin executes a short busy loop without yielding the P.
func DoSpin() {
	runtime_doSpin()
}

// nolint:all
//
//go:linkname runtime_canSpin sync.runtime_canSpin
//goland:noinspection ALL
func runtime_canSpin(i int) bool

// nolint:all
//
//go:linkname runtime_doSpin sync.runtime_doSpin
//goland:noinspection ALL
func runtime_doSpin()
