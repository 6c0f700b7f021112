// Package lpmtable implements a Longest Prefix Match routing table over
// IPv4 and IPv6 prefixes, with two interchangeable storage engines (a
// binary radix trie and a hash-per-prefix-length table) and their
// acceleration layers: per-route atomic hit counters, an IPv4 24-bit
// direct-lookup rule table, and an IPv6 destination-address flow cache.
//
// A Table is embedded into a host process — for example a software
// router's data plane — that issues concurrent LPM lookups against a
// table independently mutated by a control plane.
package lpmtable

import (
	"fmt"
	"net/netip"

	"github.com/flowbase/lpmtable/internal/hashengine"
	"github.com/flowbase/lpmtable/internal/key"
	"github.com/flowbase/lpmtable/internal/lpmerr"
	"github.com/flowbase/lpmtable/internal/metrics"
	"github.com/flowbase/lpmtable/internal/ordered"
	"github.com/flowbase/lpmtable/internal/rwlock"
	"github.com/flowbase/lpmtable/internal/trieengine"
)

// Engine selects the storage engine backing a Table.
type Engine int

const (
	// Trie selects the binary radix trie engine (spec.md §4.3).
	Trie Engine = iota
	// Hash selects the hash-per-prefix-length engine (spec.md §4.4).
	Hash
)

func (e Engine) String() string {
	if e == Trie {
		return "trie"
	}
	return "hash"
}

// Family selects the IP address family a Table holds routes for.
type Family int

const (
	// V4 selects IPv4 (max prefix length 32).
	V4 Family = iota
	// V6 selects IPv6 (max prefix length 128).
	V6
)

func (f Family) String() string {
	if f == V4 {
		return "v4"
	}
	return "v6"
}

// Numeric limits from spec.md §6.
const (
	TrieMaxRoutes = 2_000_000
	HashMaxRoutes = 10_000_000
)

// Info reports the counters spec.md §6's `info` operation exposes, plus
// the num_blocks/active_lengths detail SPEC_FULL.md supplements.
type Info struct {
	NumRoutes     uint32
	NumNodes      uint32
	NumBlocks     int
	PhysBytes     uint64
	VirtBytes     uint64
	FlowMisses    uint64
	RulesReady    bool
	ActiveLengths []uint8
}

// Table is the façade described in spec.md §4.7: it routes calls to the
// selected engine, enforces argument limits, and converts between the
// public netip types and the engines' internal key representation. It
// holds no state of its own beyond engine selection and the optional
// secondary ordered index.
type Table struct {
	engine Engine
	family Family
	lock   *rwlock.RWLock

	trie *trieengine.Trie
	hash *hashengine.Hash

	idx     *ordered.Index
	nextGet bool
	metrics *metrics.Recorder
}

// New creates a Table for the given engine and address family with room
// for maxRoutes routes, configured by opts.
func New(engine Engine, family Family, maxRoutes uint32, opts ...Option) (*Table, error) {
	if maxRoutes == 0 {
		return nil, fmt.Errorf("lpmtable: %w: max_routes must be > 0", lpmerr.ErrArg)
	}
	switch engine {
	case Trie:
		if maxRoutes > TrieMaxRoutes {
			return nil, fmt.Errorf("lpmtable: %w: max_routes exceeds trie limit %d", lpmerr.ErrArg, TrieMaxRoutes)
		}
	case Hash:
		if maxRoutes > HashMaxRoutes {
			return nil, fmt.Errorf("lpmtable: %w: max_routes exceeds hash limit %d", lpmerr.ErrArg, HashMaxRoutes)
		}
	default:
		return nil, fmt.Errorf("lpmtable: %w: unknown engine", lpmerr.ErrArg)
	}
	if family != V4 && family != V6 {
		return nil, fmt.Errorf("lpmtable: %w: unknown family", lpmerr.ErrArg)
	}

	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &Table{
		engine:  engine,
		family:  family,
		lock:    rwlock.New(),
		metrics: cfg.metrics,
		nextGet: cfg.nextGet,
	}
	if cfg.nextGet {
		t.idx = &ordered.Index{}
	}

	isV4 := family == V4
	switch engine {
	case Trie:
		tr, err := trieengine.New(trieengine.Config{
			MaxRoutes: maxRoutes,
			IsV4:      isV4,
			HitCount:  cfg.hitCount,
			Prealloc:  cfg.memPrealloc,
			OnFatal:   cfg.onFatal,
		})
		if err != nil {
			return nil, err
		}
		t.trie = tr
	case Hash:
		h, err := hashengine.New(hashengine.Config{
			MaxRoutes:    maxRoutes,
			IsV4:         isV4,
			HitCount:     cfg.hitCount,
			Prealloc:     cfg.memPrealloc,
			HashPrealloc: cfg.hashPrealloc,
			IPv4Rules:    isV4 && cfg.ipv4Rules,
			IPv6Flow:     !isV4 && cfg.ipv6Flow,
			IPv6MaxFlows: cfg.ipv6MaxFlows,
			IPv6FlowAge:  cfg.ipv6FlowAgeTime,
			Logger:       cfg.logger,
			Metrics:      cfg.metrics,
			OnFatal:      cfg.onFatal,
		}, t.lock)
		if err != nil {
			return nil, err
		}
		t.hash = h
	}
	return t, nil
}

// Close releases the table's arenas and stops its background workers.
func (t *Table) Close() error {
	if t.trie != nil {
		return t.trie.Close()
	}
	return t.hash.Close()
}

func (t *Table) toKey(p netip.Prefix) (key.Key, error) {
	k, ok := key.FromPrefix(p)
	if !ok || k.IsV4 != (t.family == V4) {
		return key.Key{}, lpmerr.ErrArg
	}
	if int(k.Length) > k.MaxBits() {
		return key.Key{}, lpmerr.ErrArg
	}
	return k, nil
}

// Add installs (prefix, user_data). Returns ErrExists if already present,
// ErrCapacity at max_routes.
func (t *Table) Add(prefix netip.Prefix, userData uint64) error {
	k, err := t.toKey(prefix)
	if err != nil {
		return err
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.trie != nil {
		err = t.trie.Insert(k, userData)
	} else {
		err = t.hash.Insert(k, userData)
	}
	if err != nil {
		return err
	}
	if t.nextGet {
		t.idx.Insert(k, userData)
	}
	if t.metrics != nil {
		t.metrics.Routes.Inc()
	}
	return nil
}

// Delete removes the route at prefix.
func (t *Table) Delete(prefix netip.Prefix) error {
	k, err := t.toKey(prefix)
	if err != nil {
		return err
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.trie != nil {
		err = t.trie.Delete(k)
	} else {
		err = t.hash.Delete(k)
	}
	if err != nil {
		return err
	}
	if t.nextGet {
		t.idx.Delete(k)
	}
	if t.metrics != nil {
		t.metrics.Routes.Dec()
	}
	return nil
}

// Set overwrites user_data for an existing route.
func (t *Table) Set(prefix netip.Prefix, userData uint64) error {
	k, err := t.toKey(prefix)
	if err != nil {
		return err
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.trie != nil {
		err = t.trie.Set(k, userData)
	} else {
		err = t.hash.Set(k, userData)
	}
	if err != nil {
		return err
	}
	if t.nextGet {
		t.idx.Update(k, userData)
	}
	return nil
}

// Get returns user_data and hit_count for an exact match, optionally
// clearing hit_count atomically.
func (t *Table) Get(prefix netip.Prefix, clearHit bool) (userData uint64, hitCount uint64, err error) {
	k, err := t.toKey(prefix)
	if err != nil {
		return 0, 0, err
	}
	t.lock.RLock()
	defer t.lock.RUnlock()

	if t.trie != nil {
		return t.trie.Get(k, clearHit)
	}
	return t.hash.Get(k, clearHit)
}

// LPM finds the longest matching prefix for addr and returns its length
// and user_data.
func (t *Table) LPM(addr netip.Addr) (length int, userData uint64, err error) {
	k, ok := key.FromAddr(addr)
	if !ok || k.IsV4 != (t.family == V4) {
		return 0, 0, lpmerr.ErrArg
	}

	t.lock.RLock()
	defer t.lock.RUnlock()

	if t.trie != nil {
		length, userData, err = t.trie.LPM(k)
	} else if t.family == V4 {
		length, userData, err = t.hash.LPM(k.Addr)
	} else {
		length, userData, err = t.hash.LPMv6(k.Addr)
	}
	if t.metrics != nil {
		t.metrics.ObserveLookup(err == nil)
	}
	return length, userData, err
}

// Walk performs an engine-native traversal under the reader lock, calling
// fn(prefix, user_data) for each route until fn returns false or routes
// are exhausted.
func (t *Table) Walk(fn func(prefix netip.Prefix, userData uint64) bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	cb := func(k key.Key, userData uint64) bool {
		return fn(k.ToPrefix(), userData)
	}
	if t.trie != nil {
		t.trie.Walk(cb)
		return
	}
	t.hash.Walk(cb)
}

// Next returns the smallest indexed route strictly greater than prefix,
// for hosts using WithNextGet's ordered-iteration contract.
func (t *Table) Next(prefix netip.Prefix) (next netip.Prefix, userData uint64, ok bool) {
	if !t.nextGet {
		return netip.Prefix{}, 0, false
	}
	k, err := t.toKey(prefix)
	if err != nil {
		return netip.Prefix{}, 0, false
	}
	t.lock.RLock()
	defer t.lock.RUnlock()

	e, ok := t.idx.Next(k)
	if !ok {
		return netip.Prefix{}, 0, false
	}
	return e.Key.ToPrefix(), e.UserData, true
}

// Info reports the counters described in spec.md §6's `info` operation.
func (t *Table) Info() Info {
	t.lock.RLock()
	defer t.lock.RUnlock()

	if t.trie != nil {
		return Info{
			NumRoutes: t.trie.NumRoutes(),
			NumNodes:  t.trie.NumNodes(),
			PhysBytes: t.trie.PhysBytes(),
			VirtBytes: t.trie.VirtBytes(),
		}
	}
	return Info{
		NumRoutes:     t.hash.NumRoutes(),
		NumBlocks:     t.hash.NumBlocks(),
		PhysBytes:     t.hash.PhysBytes(),
		VirtBytes:     t.hash.VirtBytes(),
		FlowMisses:    t.hash.FlowMisses(),
		RulesReady:    t.hash.RulesReady(),
		ActiveLengths: t.hash.ActiveLengths(),
	}
}
