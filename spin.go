package rally

import (
	"runtime"

	"github.com/gythreading/rally/internal/opt"
)

// noCopy may be added to structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
//
// Note that it must not be embedded, due to the Lock and Unlock methods.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

func trySpin(spins *int) bool {
	if opt.CanSpin(*spins) {
		*spins++
		opt.DoSpin()
		return true
	}
	return false
}

// yield backs off inside a retry loop. The windows it covers are a few
// instructions wide (an opener between its CAS and closing the drain gate,
// a closer between opening the drain gate and publishing the next
// generation), so it never sleeps.
func yield(spins *int) {
	if trySpin(spins) {
		return
	}
	*spins = 0
	runtime.Gosched()
}
