package hashengine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/flowbase/lpmtable/internal/arena"
	"github.com/flowbase/lpmtable/internal/lpmerr"
)

// defaultMaxFlows bounds the IPv6 destination-address flow cache when the
// caller doesn't set one explicitly: spec.md §6 fixes the default at
// 2,097,152 entries.
const defaultMaxFlows = 2097152

// flowSlot is one entry of the IPv6 flow cache: a destination address, the
// winning route index, a per-slot try-lock, a last-touched timestamp for
// the ager, and the table-wide correlator value this entry was learned
// under (spec §4.6's "stale-correlator-invalidate" state).
type flowSlot struct {
	locked      atomic.Bool
	valid       atomic.Bool
	addr        [16]byte
	routeIdx    uint32
	length      uint8
	correlator  uint32
	lastTouched atomic.Int64
}

func flowHash(addr [16]byte, n int) int {
	h := uint32(0x811c9dc5)
	for i := 0; i < 16; i++ {
		h ^= uint32(addr[i])
		h *= 0x01000193
	}
	if n <= 0 {
		return 0
	}
	return int(h % uint32(n))
}

// tryLock attempts the per-slot try-lock without blocking; when it fails,
// LPMv6 skips the cache and takes the slow path instead of waiting.
func (s *flowSlot) tryLock() bool { return s.locked.CompareAndSwap(false, true) }
func (s *flowSlot) unlock()       { s.locked.Store(false) }

// LPMv6 implements spec §4.6's destination-address flow cache lookup: try
// the slot, classify its state, and only fall through to the full
// descending active-length scan on a miss, collision, or stale entry —
// releasing the slot lock before doing the slow walk, then re-acquiring it
// only to publish the learned result.
func (h *Hash) LPMv6(addr [16]byte) (length int, userData uint64, err error) {
	if !h.ipv6Flow {
		l, ud, idx, lerr := h.lpmSlow(addr)
		if lerr == nil {
			h.touchRoute(idx)
		}
		return l, ud, lerr
	}
	slot := &h.flows[flowHash(addr, len(h.flows))]

	if slot.tryLock() {
		valid := slot.valid.Load()
		current := h.flowCorrelator.Load()
		if valid && slot.addr == addr && slot.correlator == current {
			idx := slot.routeIdx
			l := slot.length
			slot.lastTouched.Store(time.Now().Unix())
			slot.unlock()
			if idx == 0 {
				return 0, 0, lpmerr.ErrNotFound
			}
			h.touchRoute(idx)
			return int(l), h.routes.Get(arena.Index(idx)).UserData, nil
		}
		slot.unlock()
	}

	h.flowNotFound.Add(1)
	if h.metrics != nil {
		h.metrics.FlowCacheMisses.Inc()
	}
	l, ud, idx, lerr := h.lpmSlow(addr)
	if lerr == nil {
		h.touchRoute(idx)
	}

	if slot.tryLock() {
		current := h.flowCorrelator.Load()
		// A slot holding a different, still-current address is a genuine
		// collision (spec §4.4: "no match, no learn") — leave the
		// occupant undisturbed rather than evicting it for this miss.
		collision := slot.valid.Load() && slot.addr != addr && slot.correlator == current
		if !collision {
			slot.addr = addr
			slot.correlator = current
			slot.lastTouched.Store(time.Now().Unix())
			if lerr == nil {
				slot.routeIdx = idx
				slot.length = uint8(l)
			} else {
				slot.routeIdx = 0
				slot.length = 0
			}
			slot.valid.Store(true)
		}
		slot.unlock()
	}
	return l, ud, lerr
}

func (h *Hash) touchRoute(idx uint32) {
	if !h.hitCount {
		return
	}
	r := h.routes.Get(arena.Index(idx))
	atomic.AddUint64(&r.HitCount, 1)
	if h.metrics != nil {
		h.metrics.Hits.Inc()
	}
}

// flowAgerLoop periodically evicts flow-cache entries neither learned nor
// hit for longer than maxAge, scanning the cache every maxAge/4 (spec
// §4.6's "flow ager"). Per spec §4.6 step 2 and
// §5's shared-resource policy ("the flow cache is written under the
// reader lock but each slot under its own try-lock"), every slot is
// visited under the table's reader lock before its own try-lock is
// attempted.
func (h *Hash) flowAgerLoop(ctx context.Context, maxAge time.Duration) {
	defer h.wg.Done()
	ticker := time.NewTicker(maxAge / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cutoff := time.Now().Unix() - int64(maxAge/time.Second)
		for i := range h.flows {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s := &h.flows[i]
			h.lock.RLock()
			if s.valid.Load() && s.lastTouched.Load() < cutoff && s.tryLock() {
				s.valid.Store(false)
				s.unlock()
			}
			h.lock.RUnlock()
		}
	}
}
