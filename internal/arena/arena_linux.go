//go:build linux

package arena

import "golang.org/x/sys/unix"

// reserve maps an anonymous, private region of n bytes, advising the
// kernel to back it with huge pages where supported (spec §4.1: "advises
// the OS to back with huge pages where supported").
func reserve(n int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	_ = unix.Madvise(mem, unix.MADV_HUGEPAGE)
	return mem, nil
}

func release(mem []byte) error {
	return unix.Munmap(mem)
}

// adviseWillNeed marks pages as about to be touched, the "watermark moves
// forward" advisory from spec §4.1.
func adviseWillNeed(mem []byte) {
	if len(mem) == 0 {
		return
	}
	_ = unix.Madvise(mem, unix.MADV_WILLNEED)
}

// adviseDontNeed lets the kernel discard the physical pages behind mem
// once the watermark has fallen a full page behind (spec §4.1).
func adviseDontNeed(mem []byte) {
	if len(mem) == 0 {
		return
	}
	_ = unix.Madvise(mem, unix.MADV_DONTNEED)
}

func pageSize() int {
	return unix.Getpagesize()
}
