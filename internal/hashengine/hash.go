// Package hashengine implements the hash-per-prefix-length table engine
// from spec §4.4: one open-addressing-by-chaining hash table keyed by
// (masked prefix, length), online rehashing, an IPv4 24-bit rule
// accelerator and an IPv6 destination-address flow cache.
package hashengine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/flowbase/lpmtable/internal/arena"
	"github.com/flowbase/lpmtable/internal/key"
	"github.com/flowbase/lpmtable/internal/lpmerr"
	"github.com/flowbase/lpmtable/internal/metrics"
	"github.com/flowbase/lpmtable/internal/rwlock"
)

// Route is the hash-bucket route record from spec §3: a masked key plus a
// doubly-linked chain position within its bucket.
type Route struct {
	Addr     [16]byte
	Length   uint8
	_        [3]byte
	Next     uint32
	Prev     uint32
	HitCount uint64
	UserData uint64
}

// Config configures a new Hash engine.
type Config struct {
	MaxRoutes    uint32
	IsV4         bool
	HitCount     bool
	Prealloc     bool
	HashPrealloc bool
	IPv4Rules    bool
	IPv6Flow     bool
	IPv6MaxFlows uint32
	IPv6FlowAge  time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Recorder
	OnFatal      func(error)
}

// Hash is the engine described in spec §4.4-§4.6.
type Hash struct {
	lock *rwlock.RWLock

	routes  *arena.Arena[Route]
	buckets buckets

	isV4         bool
	hitCount     bool
	hashPrealloc bool

	nRoutes     uint32
	countPerLen [129]uint32
	active      []uint8 // descending

	ipv4Rules  bool
	ruleTable  []uint32
	rulesReady atomic.Bool
	newRules   atomic.Bool

	ipv6Flow       bool
	flows          []flowSlot
	flowCorrelator atomic.Uint32
	flowNotFound   atomic.Uint64

	logger  *zap.Logger
	metrics *metrics.Recorder
	onFatal func(error)
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an empty Hash engine and starts whichever background worker
// its configuration calls for (spec §4.5/§4.6: "started at table
// creation, stopped at destruction").
func New(cfg Config, lock *rwlock.RWLock) (*Hash, error) {
	routes, err := arena.New[Route](cfg.MaxRoutes, cfg.Prealloc)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onFatal := cfg.OnFatal
	if onFatal == nil {
		onFatal = func(err error) { panic(err) }
	}
	h := &Hash{
		lock:         lock,
		routes:       routes,
		isV4:         cfg.IsV4,
		hitCount:     cfg.HitCount,
		hashPrealloc: cfg.HashPrealloc,
		ipv4Rules:    cfg.IsV4 && cfg.IPv4Rules,
		ipv6Flow:     !cfg.IsV4 && cfg.IPv6Flow,
		logger:       logger,
		metrics:      cfg.Metrics,
		onFatal:      onFatal,
	}
	initialBlocks := 1
	if cfg.HashPrealloc {
		initialBlocks = blocksNeeded(cfg.MaxRoutes)
	}
	h.buckets.grow(initialBlocks)

	if h.ipv4Rules {
		h.ruleTable = make([]uint32, ruleTableSize)
	}
	if h.ipv6Flow {
		n := cfg.IPv6MaxFlows
		if n == 0 {
			n = defaultMaxFlows
		}
		h.flows = make([]flowSlot, n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	age := cfg.IPv6FlowAge
	if age == 0 {
		age = 30 * time.Second
	}
	if h.ipv4Rules {
		h.wg.Add(1)
		go h.ruleGeneratorLoop(ctx)
	}
	if h.ipv6Flow {
		h.wg.Add(1)
		go h.flowAgerLoop(ctx, age)
	}
	return h, nil
}

// Close stops the background workers and releases the route arena.
func (h *Hash) Close() error {
	h.cancel()
	h.wg.Wait()
	return h.routes.Close()
}

func (h *Hash) nBuckets() int { return h.buckets.capacity() }

// NumRoutes/NumBlocks/PhysBytes/VirtBytes back Table.Info().
func (h *Hash) NumRoutes() uint32  { return h.nRoutes }
func (h *Hash) NumBlocks() int     { return h.buckets.numBlocks() }
func (h *Hash) PhysBytes() uint64  { return h.routes.PhysBytes() + uint64(h.buckets.capacity())*4 }
func (h *Hash) VirtBytes() uint64  { return h.routes.VirtBytes() + uint64(h.buckets.capacity())*4 }
func (h *Hash) RulesReady() bool   { return h.rulesReady.Load() }
func (h *Hash) FlowMisses() uint64 { return h.flowNotFound.Load() }
func (h *Hash) ActiveLengths() []uint8 {
	out := make([]uint8, len(h.active))
	copy(out, h.active)
	return out
}

// hashKey mixes the masked key bytewise with FNV-1a, folding in length,
// per spec §4.4.
func hashKey(addr [16]byte, length uint8, isV4 bool, nBuckets int) int {
	n := 16
	if isV4 {
		n = 4
	}
	h := uint32(0x811c9dc5)
	for i := 0; i < n; i++ {
		h ^= uint32(addr[i])
		h *= 0x01000193
	}
	h ^= uint32(length)
	if nBuckets <= 0 {
		return 0
	}
	return int(h % uint32(nBuckets))
}

func (h *Hash) insertActiveLength(length uint8) {
	i := 0
	for i < len(h.active) && h.active[i] > length {
		i++
	}
	h.active = append(h.active, 0)
	copy(h.active[i+1:], h.active[i:])
	h.active[i] = length
}

func (h *Hash) removeActiveLength(length uint8) {
	for i, l := range h.active {
		if l == length {
			h.active = append(h.active[:i], h.active[i+1:]...)
			return
		}
	}
}

func (h *Hash) find(k key.Key) uint32 {
	b := hashKey(k.Addr, k.Length, h.isV4, h.nBuckets())
	cur := h.buckets.get(b)
	for cur != 0 {
		r := h.routes.Get(arena.Index(cur))
		if r.Length == k.Length && r.Addr == k.Addr {
			return cur
		}
		cur = r.Next
	}
	return 0
}

// Insert adds (k, userData), rehashing online if the load factor demands
// more capacity (spec §4.4 step 4).
func (h *Hash) Insert(k key.Key, userData uint64) error {
	k = k.Masked()
	if h.find(k) != 0 {
		return lpmerr.ErrExists
	}

	if !h.hashPrealloc {
		needed := blocksNeeded(h.nRoutes + 1)
		if needed > h.buckets.numBlocks() {
			h.rehash(needed)
		}
	}

	idx, err := h.routes.Alloc()
	if err != nil {
		return lpmerr.ErrCapacity
	}
	r := h.routes.Get(idx)
	r.Addr = k.Addr
	r.Length = k.Length
	r.UserData = userData
	r.HitCount = 0

	b := hashKey(k.Addr, k.Length, h.isV4, h.nBuckets())
	head := h.buckets.get(b)
	r.Next = head
	r.Prev = 0
	if head != 0 {
		h.routes.Get(arena.Index(head)).Prev = uint32(idx)
	}
	h.buckets.set(b, uint32(idx))

	h.nRoutes++
	h.countPerLen[k.Length]++
	if h.countPerLen[k.Length] == 1 {
		h.insertActiveLength(k.Length)
	}
	h.signalRouteSetChanged(k.Length)
	return nil
}

// unlink removes idx from its bucket chain using its own Next/Prev fields.
func (h *Hash) unlink(idx uint32, bucket int) {
	r := h.routes.Get(arena.Index(idx))
	if r.Prev != 0 {
		h.routes.Get(arena.Index(r.Prev)).Next = r.Next
	} else {
		h.buckets.set(bucket, r.Next)
	}
	if r.Next != 0 {
		h.routes.Get(arena.Index(r.Next)).Prev = r.Prev
	}
}

// Delete removes the route at (prefix, length). Per spec §9's Open
// Question, the bucket head is re-derived by hash after compaction rather
// than trusted from the moved route's stale chain pointers.
func (h *Hash) Delete(k key.Key) error {
	k = k.Masked()
	idx := h.find(k)
	if idx == 0 {
		return lpmerr.ErrNotFound
	}
	r := h.routes.Get(arena.Index(idx))
	length := r.Length
	bucket := hashKey(r.Addr, r.Length, h.isV4, h.nBuckets())
	h.unlink(idx, bucket)

	last, err := h.routes.LastIndex()
	if err != nil {
		return err
	}
	if uint32(last) != idx {
		moved := *h.routes.Get(last)
		*h.routes.Get(arena.Index(idx)) = moved
		if moved.Prev != 0 {
			h.routes.Get(arena.Index(moved.Prev)).Next = idx
		} else {
			mb := hashKey(moved.Addr, moved.Length, h.isV4, h.nBuckets())
			h.buckets.set(mb, idx)
		}
		if moved.Next != 0 {
			h.routes.Get(arena.Index(moved.Next)).Prev = idx
		}
		// The moved route's index changed, so a rule table entry that
		// named it is stale.
		h.signalRouteSetChanged(moved.Length)
	}
	if err := h.routes.FreeLast(); err != nil {
		return err
	}

	h.nRoutes--
	h.countPerLen[length]--
	if h.countPerLen[length] == 0 {
		h.removeActiveLength(length)
	}
	h.signalRouteSetChanged(length)

	if !h.hashPrealloc {
		needed := blocksNeeded(h.nRoutes)
		if needed <= h.buckets.numBlocks()-2 {
			h.rehash(needed)
		}
	}
	return nil
}

// signalRouteSetChanged implements spec §4.4 steps 5/6: an IPv4 route of
// length <=24 invalidates the rule table; any IPv6 change invalidates
// every cached flow via the correlator trick (spec §9).
func (h *Hash) signalRouteSetChanged(length uint8) {
	if h.isV4 {
		if h.ipv4Rules && length <= 24 {
			h.newRules.Store(true)
			h.rulesReady.Store(false)
		}
		return
	}
	if h.ipv6Flow {
		h.flowCorrelator.Add(1)
	}
}

// rehash clears the bucket array, grows or shrinks to newBlocks, and
// re-inserts every live route's chain under the new bucket count (spec
// §4.4 "Rehash").
func (h *Hash) rehash(newBlocks int) {
	if h.metrics != nil {
		h.metrics.Rehashes.Inc()
	}
	if newBlocks < 1 {
		newBlocks = 1
	}
	if newBlocks > h.buckets.numBlocks() {
		h.buckets.grow(newBlocks)
	} else {
		h.buckets.shrink(newBlocks)
	}
	h.buckets.clear()

	n := h.routes.Len()
	nb := h.nBuckets()
	for i := uint32(1); i <= n; i++ {
		r := h.routes.Get(arena.Index(i))
		r.Next, r.Prev = 0, 0
	}
	for i := uint32(1); i <= n; i++ {
		r := h.routes.Get(arena.Index(i))
		b := hashKey(r.Addr, r.Length, h.isV4, nb)
		head := h.buckets.get(b)
		r.Next = head
		if head != 0 {
			h.routes.Get(arena.Index(head)).Prev = i
		}
		h.buckets.set(b, i)
	}
}

// Get returns user_data and hit_count for an exact match.
func (h *Hash) Get(k key.Key, clearHit bool) (userData uint64, hitCount uint64, err error) {
	k = k.Masked()
	idx := h.find(k)
	if idx == 0 {
		return 0, 0, lpmerr.ErrNotFound
	}
	r := h.routes.Get(arena.Index(idx))
	hc := atomic.LoadUint64(&r.HitCount)
	if clearHit {
		atomic.StoreUint64(&r.HitCount, 0)
	}
	return r.UserData, hc, nil
}

// Set overwrites user_data for an exact match.
func (h *Hash) Set(k key.Key, userData uint64) error {
	k = k.Masked()
	idx := h.find(k)
	if idx == 0 {
		return lpmerr.ErrNotFound
	}
	h.routes.Get(arena.Index(idx)).UserData = userData
	return nil
}

// Walk visits every bucket chain in bucket-index order, matching spec
// §4.7's iteration contract. Routes are not grouped or ordered by length.
func (h *Hash) Walk(fn func(k key.Key, userData uint64) bool) {
	n := h.nBuckets()
	for i := 0; i < n; i++ {
		cur := h.buckets.get(i)
		for cur != 0 {
			r := h.routes.Get(arena.Index(cur))
			k := key.Key{Addr: r.Addr, Length: r.Length, IsV4: h.isV4}
			if !fn(k, r.UserData) {
				return
			}
			cur = r.Next
		}
	}
}
