//go:build !linux

package rwlock

import (
	"runtime"
	"sync/atomic"
)

// futexWait is a portable fallback for platforms without a futex syscall:
// spin with Gosched until the word changes. Correct but busier than the
// Linux futex path; this build tag mirrors caddyserver/caddy's
// listen_linux.go / listen_unix.go split for OS-specific primitives.
func futexWait(addr *uint32, expect uint32) {
	for atomic.LoadUint32(addr) == expect {
		runtime.Gosched()
	}
}

func futexWake(addr *uint32) {}
