//go:build linux

package rwlock

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// futexWait parks the calling thread on addr's kernel futex until another
// thread wakes it or the word no longer equals expect.
func futexWait(addr *uint32, expect uint32) {
	for {
		_, _, errno := unix.Syscall6(
			unix.SYS_FUTEX,
			uintptr(unsafe.Pointer(addr)),
			uintptr(unix.FUTEX_WAIT),
			uintptr(expect),
			0, 0, 0,
		)
		switch errno {
		case 0, unix.EAGAIN, unix.EINTR:
			return
		}
	}
}

// futexWake wakes every thread parked on addr.
func futexWake(addr *uint32) {
	unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAKE),
		uintptr(1<<31-1),
		0, 0, 0,
	)
}
