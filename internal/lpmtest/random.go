// Package lpmtest adapts gaissmai/bart's random-prefix generators
// (internal/tests/random) into helpers for fuzz-style coverage of Table
// without depending on a production package from test code.
package lpmtest

import (
	"math/rand/v2"
	"net/netip"
)

// RandomPrefix4 returns a masked, randomly-bitted IPv4 prefix.
func RandomPrefix4(prng *rand.Rand) netip.Prefix {
	bits := prng.IntN(33)
	return netip.PrefixFrom(RandomAddr4(prng), bits).Masked()
}

// RandomPrefix6 returns a masked, randomly-bitted IPv6 prefix.
func RandomPrefix6(prng *rand.Rand) netip.Prefix {
	bits := prng.IntN(129)
	return netip.PrefixFrom(RandomAddr6(prng), bits).Masked()
}

// RandomAddr4 returns a uniformly random IPv4 address.
func RandomAddr4(prng *rand.Rand) netip.Addr {
	var b [4]byte
	for i := range b {
		b[i] = byte(prng.UintN(256))
	}
	return netip.AddrFrom4(b)
}

// RandomAddr6 returns a uniformly random IPv6 address.
func RandomAddr6(prng *rand.Rand) netip.Addr {
	var b [16]byte
	for i := range b {
		b[i] = byte(prng.UintN(256))
	}
	return netip.AddrFrom16(b)
}

// DistinctPrefixes4 returns n distinct masked IPv4 prefixes with bit
// lengths in [minBits, maxBits], suitable for populating a table without
// hitting accidental duplicate-insert errors.
func DistinctPrefixes4(prng *rand.Rand, n, minBits, maxBits int) []netip.Prefix {
	set := make(map[netip.Prefix]struct{}, n)
	out := make([]netip.Prefix, 0, n)
	for len(out) < n {
		bits := minBits + prng.IntN(maxBits-minBits+1)
		pfx := netip.PrefixFrom(RandomAddr4(prng), bits).Masked()
		if _, ok := set[pfx]; ok {
			continue
		}
		set[pfx] = struct{}{}
		out = append(out, pfx)
	}
	return out
}

// DistinctPrefixes6 is DistinctPrefixes4 for IPv6.
func DistinctPrefixes6(prng *rand.Rand, n, minBits, maxBits int) []netip.Prefix {
	set := make(map[netip.Prefix]struct{}, n)
	out := make([]netip.Prefix, 0, n)
	for len(out) < n {
		bits := minBits + prng.IntN(maxBits-minBits+1)
		pfx := netip.PrefixFrom(RandomAddr6(prng), bits).Masked()
		if _, ok := set[pfx]; ok {
			continue
		}
		set[pfx] = struct{}{}
		out = append(out, pfx)
	}
	return out
}
