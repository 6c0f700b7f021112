package hashengine

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/flowbase/lpmtable/internal/arena"
)

// ruleTableSize is the IPv4 DIR-24 accelerator: one slot per possible
// 24-bit address prefix (spec §4.5).
const ruleTableSize = 1 << 24

// ruleMiss marks a ruleTable slot with no matching route of length <=24.
const ruleMiss = ^uint32(0)

// ruleGeneratorLoop is the cooperative background worker from spec §4.5:
// whenever a write touches a route of length <=24, new_rules is raised and
// rules_ready is dropped; the worker rebuilds the whole 16M-entry table
// from scratch, taking and releasing the reader lock on every entry (spec
// §4.5: "so route mutations proceed during the ~tens of seconds needed to
// fill the rule table at high route counts") and republishes rules_ready,
// restarting from the top if another write invalidated it mid-scan.
func (h *Hash) ruleGeneratorLoop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !h.newRules.Load() {
			continue
		}
		start := time.Now()
	outer:
		for {
			h.newRules.Store(false)
			for i24 := 0; i24 < ruleTableSize; i24++ {
				select {
				case <-ctx.Done():
					return
				default:
				}
				h.lock.RLock()
				if h.newRules.Load() {
					h.lock.RUnlock()
					continue outer
				}
				h.ruleTable[i24] = h.computeRuleFor(uint32(i24))
				h.lock.RUnlock()
			}
			break
		}
		// Writers raise newRules under the write lock, so checking it under
		// the reader lock keeps a write that landed after the last entry
		// from being published as ready; the next tick rebuilds instead.
		h.lock.RLock()
		converged := !h.newRules.Load()
		if converged {
			h.rulesReady.Store(true)
		}
		h.lock.RUnlock()
		if !converged {
			continue
		}
		if h.metrics != nil {
			h.metrics.RuleConvergences.Observe(time.Since(start).Seconds())
		}
		h.logger.Debug("ipv4 rule table rebuilt")
	}
}

// computeRuleFor finds the longest active length <=24 whose masked prefix
// matches the 24-bit address i24<<8, returning the winning route's index
// or ruleMiss.
func (h *Hash) computeRuleFor(i24 uint32) uint32 {
	var addr [16]byte
	binary.BigEndian.PutUint32(addr[:4], i24<<8)
	for _, length := range h.active {
		if length > 24 {
			continue
		}
		masked := maskAddr(addr, length)
		b := hashKey(masked, length, true, h.nBuckets())
		cur := h.buckets.get(b)
		for cur != 0 {
			r := h.routes.Get(arena.Index(cur))
			if r.Length == length && r.Addr == masked {
				return cur
			}
			cur = r.Next
		}
	}
	return ruleMiss
}

func maskAddr(addr [16]byte, length uint8) [16]byte {
	var out [16]byte
	full := int(length) / 8
	copy(out[:full], addr[:full])
	if rem := length % 8; rem != 0 && full < 16 {
		mask := byte(0xFF << (8 - rem))
		out[full] = addr[full] & mask
	}
	return out
}

// lpmRestricted24 consults the rule table for an IPv4 address, per spec
// §4.4's LPM algorithm: once the descending active-length scan reaches a
// length <=24 with rules_ready true, the rule table already encodes the
// best answer across every length <=24, so it is consulted exactly once
// in place of the remaining shorter lengths.
func (h *Hash) lpmRestricted24(addr [16]byte) (routeIdx uint32, ok bool) {
	if !h.rulesReady.Load() {
		return 0, false
	}
	i24 := binary.BigEndian.Uint32(addr[:4]) >> 8
	v := h.ruleTable[i24]
	if v == ruleMiss {
		return 0, true
	}
	return v, true
}
