package hashengine

import (
	"github.com/flowbase/lpmtable/internal/arena"
	"github.com/flowbase/lpmtable/internal/lpmerr"
)

// lpmSlow is the shared descending active-length scan from spec §4.4: walk
// active lengths longest-first, hashing the address masked to each length,
// and return the first chain match. For IPv4 tables with the rule table
// armed, the scan short-circuits the moment it reaches the first active
// length <=24, since the rule table already encodes the best answer across
// every remaining length.
func (h *Hash) lpmSlow(addr [16]byte) (length int, userData uint64, routeIdx uint32, err error) {
	for _, l := range h.active {
		if h.isV4 && h.ipv4Rules && l <= 24 {
			if idx, ready := h.lpmRestricted24(addr); ready {
				if idx == 0 {
					return 0, 0, 0, lpmerr.ErrNotFound
				}
				r := h.routes.Get(arena.Index(idx))
				return int(r.Length), r.UserData, idx, nil
			}
		}
		masked := maskAddr(addr, l)
		b := hashKey(masked, l, h.isV4, h.nBuckets())
		cur := h.buckets.get(b)
		for cur != 0 {
			r := h.routes.Get(arena.Index(cur))
			if r.Length == l && r.Addr == masked {
				return int(l), r.UserData, cur, nil
			}
			cur = r.Next
		}
	}
	return 0, 0, 0, lpmerr.ErrNotFound
}

// LPM is the IPv4 longest-prefix-match entry point (spec §4.5). IPv6
// tables use LPMv6 instead, which adds the destination flow cache.
func (h *Hash) LPM(addr [16]byte) (length int, userData uint64, err error) {
	length, userData, routeIdx, err := h.lpmSlow(addr)
	if err == nil {
		h.touchRoute(routeIdx)
	}
	return length, userData, err
}
