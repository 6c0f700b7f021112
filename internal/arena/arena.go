// Package arena implements the stack-discipline slab allocator described in
// spec §4.1: a reserved, page-aligned block of memory split into
// fixed-size elements, referenced only by 32-bit index (never by pointer),
// that allocates the next free index and frees only the most recently
// allocated one.
//
// Index 0 is always reserved to mean "absent", mirroring node/route index 0
// in spec §3. Callers that need to delete an element that is not the last
// one allocated must copy the last element's bytes into the freed slot,
// repair every back-reference to the old last index, and only then call
// FreeLast — the engines in internal/trieengine and internal/hashengine do
// exactly this dance.
package arena

import (
	"errors"
	"fmt"
	"unsafe"
)

// Index is a 1-based slot reference into an Arena. Index 0 means "none".
type Index uint32

// Nil is the reserved "absent" index.
const Nil Index = 0

var (
	// ErrFull is returned by Alloc once max_elements slots are in use.
	ErrFull = errors.New("arena: capacity exceeded")
	// ErrEmpty is returned by FreeLast/LastIndex on an empty arena.
	ErrEmpty = errors.New("arena: empty")
)

// Arena is a typed, index-addressed slab of T, backed by a single
// reservation of virtual memory sized for maxElements+1 records (slot 0 is
// the permanent "none" sentinel and is never handed out by Alloc).
type Arena[T any] struct {
	mem      []byte
	elemSize uintptr
	max      uint32 // usable elements, not counting slot 0
	next     uint32 // next index Alloc will hand out
	prealloc bool
	wmBytes  uintptr // physical-backing watermark, in bytes from the start
}

// New reserves storage for up to maxElements elements of T. When prealloc
// is true the whole reservation is advised resident up front and never
// released; otherwise pages are advised in and out as the stack grows and
// shrinks.
func New[T any](maxElements uint32, prealloc bool) (*Arena[T], error) {
	var zero T
	elemSize := unsafe.Sizeof(zero)
	if elemSize == 0 {
		elemSize = 1
	}
	total := elemSize * uintptr(maxElements+1)
	mem, err := reserve(int(total))
	if err != nil {
		return nil, fmt.Errorf("arena: reserve %d bytes: %w", total, err)
	}
	a := &Arena[T]{
		mem:      mem,
		elemSize: elemSize,
		max:      maxElements,
		next:     1,
		prealloc: prealloc,
	}
	if prealloc {
		adviseWillNeed(a.mem)
		a.wmBytes = uintptr(len(a.mem))
	}
	return a, nil
}

// Alloc returns the next free index, or ErrFull once max_elements are in
// use.
func (a *Arena[T]) Alloc() (Index, error) {
	if a.next > a.max {
		return Nil, ErrFull
	}
	idx := a.next
	a.next++
	if !a.prealloc {
		a.growWatermark()
	}
	*a.Get(Index(idx)) = *new(T)
	return Index(idx), nil
}

// FreeLast decrements next_index, undoing the most recent Alloc.
func (a *Arena[T]) FreeLast() error {
	if a.next <= 1 {
		return ErrEmpty
	}
	a.next--
	if !a.prealloc {
		a.shrinkWatermark()
	}
	return nil
}

// LastIndex returns next_index-1, the most recently allocated slot.
func (a *Arena[T]) LastIndex() (Index, error) {
	if a.next <= 1 {
		return Nil, ErrEmpty
	}
	return Index(a.next - 1), nil
}

// Len reports the number of live elements (excluding slot 0).
func (a *Arena[T]) Len() uint32 {
	return a.next - 1
}

// Get returns a pointer to element i's storage. Index 0 aliases the
// reserved sentinel slot and must not be dereferenced as live data by
// callers.
func (a *Arena[T]) Get(i Index) *T {
	off := uintptr(i) * a.elemSize
	return (*T)(unsafe.Pointer(&a.mem[off]))
}

// PhysBytes estimates the currently-backed physical footprint.
func (a *Arena[T]) PhysBytes() uint64 {
	if a.prealloc {
		return uint64(len(a.mem))
	}
	return uint64(a.wmBytes)
}

// VirtBytes is the full virtual reservation.
func (a *Arena[T]) VirtBytes() uint64 {
	return uint64(len(a.mem))
}

// Close releases the reservation back to the OS.
func (a *Arena[T]) Close() error {
	if a.mem == nil {
		return nil
	}
	err := release(a.mem)
	a.mem = nil
	return err
}

func (a *Arena[T]) growWatermark() {
	needed := uintptr(a.next) * a.elemSize
	if needed <= a.wmBytes {
		return
	}
	ps := uintptr(pageSize())
	newWM := ((needed + ps - 1) / ps) * ps
	if newWM > uintptr(len(a.mem)) {
		newWM = uintptr(len(a.mem))
	}
	adviseWillNeed(a.mem[a.wmBytes:newWM])
	a.wmBytes = newWM
}

func (a *Arena[T]) shrinkWatermark() {
	needed := uintptr(a.next) * a.elemSize
	ps := uintptr(pageSize())
	newWM := ((needed + ps - 1) / ps) * ps
	if a.wmBytes <= newWM+ps {
		return
	}
	adviseDontNeed(a.mem[newWM:a.wmBytes])
	a.wmBytes = newWM
}
