package connector

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// setPriority changes the scheduling priority of the current thread by delta
// and locks the goroutine to it. The returned function restores the priority
// and unlocks the goroutine. If the priority cannot be restored, the thread
// stays locked and is discarded when the goroutine exits.
func setPriority(delta int) (func(), error) {
	if delta == 0 {
		return func() {}, nil
	}

	runtime.LockOSThread()
	tid := unix.Gettid()
	// the raw syscall returns 20-nice
	raw, err := unix.Getpriority(unix.PRIO_PROCESS, tid)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	nice := 20 - raw
	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, min(19, max(-20, nice-delta))); err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	return func() {
		if unix.Setpriority(unix.PRIO_PROCESS, tid, nice) == nil {
			runtime.UnlockOSThread()
		}
	}, nil
}
