// Package trieengine implements the binary radix trie engine from spec
// §4.3: nodes and routes held in index-addressed arenas, walked bit by bit
// MSB-first, with stack-discipline delete compaction.
//
// The node/child/parent shape is grounded on gaissmai/bart's node type
// (bartnode.go), re-expressed with 32-bit arena indices instead of Go
// pointers so the graph is pointer-free per spec §9.
package trieengine

import (
	"sync/atomic"

	"github.com/flowbase/lpmtable/internal/arena"
	"github.com/flowbase/lpmtable/internal/key"
	"github.com/flowbase/lpmtable/internal/lpmerr"
)

// Node is the 16-byte trie node record from spec §3: indices, never
// pointers. Node 0 is reserved.
type Node struct {
	RouteIdx uint32
	Left     uint32
	Right    uint32
	Parent   uint32
}

// Route is the payload record hanging off a node. HitCount is accessed
// with the sync/atomic free functions so a raw uint64 field can live in
// arena-backed memory that the Go runtime never scans.
type Route struct {
	Addr     [16]byte
	Length   uint8
	_        [3]byte
	Parent   uint32 // owning node index
	HitCount uint64
	UserData uint64
}

// Config configures a new Trie.
type Config struct {
	MaxRoutes uint32
	IsV4      bool
	HitCount  bool
	Prealloc  bool
	// OnFatal is invoked when freeing a node during Delete's compaction
	// fails; if it returns, Delete returns that error. Arena exhaustion on
	// Insert is reported as ErrCapacity and does not reach OnFatal. The
	// default handler panics.
	OnFatal func(error)
}

// Trie is the engine described in spec §4.3.
type Trie struct {
	nodes    *arena.Arena[Node]
	routes   *arena.Arena[Route]
	root     uint32
	isV4     bool
	hitCount bool
	maxBits  int
	onFatal  func(error)
}

// New creates an empty Trie. The node arena is sized for the worst case
// of MaxRoutes*maxBits+1 nodes (every route on its own full-depth path),
// so an insert below MaxRoutes never fails for lack of nodes.
func New(cfg Config) (*Trie, error) {
	maxBits := 128
	if cfg.IsV4 {
		maxBits = 32
	}
	nodeCap := cfg.MaxRoutes*uint32(maxBits) + 1
	nodes, err := arena.New[Node](nodeCap, cfg.Prealloc)
	if err != nil {
		return nil, err
	}
	routes, err := arena.New[Route](cfg.MaxRoutes, cfg.Prealloc)
	if err != nil {
		nodes.Close()
		return nil, err
	}
	onFatal := cfg.OnFatal
	if onFatal == nil {
		onFatal = func(err error) { panic(err) }
	}
	return &Trie{
		nodes:    nodes,
		routes:   routes,
		isV4:     cfg.IsV4,
		hitCount: cfg.HitCount,
		maxBits:  maxBits,
		onFatal:  onFatal,
	}, nil
}

// Close releases both arenas.
func (t *Trie) Close() error {
	if err := t.routes.Close(); err != nil {
		return err
	}
	return t.nodes.Close()
}

// NumRoutes returns the live route count.
func (t *Trie) NumRoutes() uint32 { return t.routes.Len() }

// NumNodes returns the live internal-node count.
func (t *Trie) NumNodes() uint32 { return t.nodes.Len() }

// PhysBytes/VirtBytes sum both arenas' footprints.
func (t *Trie) PhysBytes() uint64 { return t.nodes.PhysBytes() + t.routes.PhysBytes() }
func (t *Trie) VirtBytes() uint64 { return t.nodes.VirtBytes() + t.routes.VirtBytes() }

// walk descends from root consuming up to k.Length bits. It returns the
// deepest node reached, how many bits were consumed to reach it, and
// whether that node sits at exactly depth k.Length (an exact match).
func (t *Trie) walk(k key.Key) (node uint32, depth int, exact bool) {
	if t.root == 0 {
		return 0, 0, false
	}
	cur := t.root
	for d := 0; d < int(k.Length); d++ {
		n := t.nodes.Get(arena.Index(cur))
		next := n.Left
		if k.Bit(d) == 1 {
			next = n.Right
		}
		if next == 0 {
			return cur, d, false
		}
		cur = next
	}
	return cur, int(k.Length), true
}

func (t *Trie) findExact(k key.Key) (uint32, bool) {
	node, depth, exact := t.walk(k)
	if !exact || depth != int(k.Length) {
		return 0, false
	}
	return node, true
}

// Insert adds (k, userData). Returns ErrExists if the key is already
// present, ErrCapacity if node or route arenas are exhausted.
func (t *Trie) Insert(k key.Key, userData uint64) error {
	if int(k.Length) > t.maxBits {
		return lpmerr.ErrArg
	}
	node, depth, exact := t.walk(k)
	if exact {
		n := t.nodes.Get(arena.Index(node))
		if n.RouteIdx != 0 {
			return lpmerr.ErrExists
		}
		return t.attachRoute(node, k, userData)
	}

	parent := node
	if t.root == 0 {
		r, err := t.allocNode(0)
		if err != nil {
			return err
		}
		t.root = r
		parent = r
		depth = 0
	}

	for d := depth; d < int(k.Length); d++ {
		child, err := t.allocNode(parent)
		if err != nil {
			return err
		}
		pn := t.nodes.Get(arena.Index(parent))
		if k.Bit(d) == 0 {
			pn.Left = child
		} else {
			pn.Right = child
		}
		parent = child
	}
	return t.attachRoute(parent, k, userData)
}

func (t *Trie) allocNode(parent uint32) (uint32, error) {
	idx, err := t.nodes.Alloc()
	if err != nil {
		return 0, lpmerr.ErrCapacity
	}
	t.nodes.Get(idx).Parent = parent
	return uint32(idx), nil
}

func (t *Trie) attachRoute(nodeIdx uint32, k key.Key, userData uint64) error {
	idx, err := t.routes.Alloc()
	if err != nil {
		return lpmerr.ErrCapacity
	}
	r := t.routes.Get(idx)
	r.Addr = k.Addr
	r.Length = k.Length
	r.Parent = nodeIdx
	r.UserData = userData
	r.HitCount = 0
	t.nodes.Get(arena.Index(nodeIdx)).RouteIdx = uint32(idx)
	return nil
}

// Delete removes the route at (prefix, length), pruning any internal nodes
// left with neither a route nor children.
func (t *Trie) Delete(k key.Key) error {
	nodeIdx, ok := t.findExact(k)
	if !ok {
		return lpmerr.ErrNotFound
	}
	n := t.nodes.Get(arena.Index(nodeIdx))
	if n.RouteIdx == 0 {
		return lpmerr.ErrNotFound
	}
	if err := t.freeRoute(n.RouteIdx); err != nil {
		return err
	}
	n.RouteIdx = 0

	cur := nodeIdx
	for cur != 0 {
		nd := t.nodes.Get(arena.Index(cur))
		if nd.RouteIdx != 0 || nd.Left != 0 || nd.Right != 0 {
			break
		}
		parent := nd.Parent
		if parent != 0 {
			pn := t.nodes.Get(arena.Index(parent))
			switch cur {
			case pn.Left:
				pn.Left = 0
			case pn.Right:
				pn.Right = 0
			}
		}
		moved, err := t.freeNode(cur)
		if err != nil {
			t.onFatal(err)
			return err
		}
		if cur == t.root {
			t.root = 0
		}
		if parent == moved {
			parent = cur
		}
		cur = parent
	}
	return nil
}

// freeRoute implements the compaction dance from spec §4.3/§9: if idx is
// not the last-allocated route, copy the last route into idx and repair
// the node that owns it, then free the (now-vacant) top slot.
func (t *Trie) freeRoute(idx uint32) error {
	last, err := t.routes.LastIndex()
	if err != nil {
		return err
	}
	if uint32(last) != idx {
		moved := *t.routes.Get(last)
		*t.routes.Get(arena.Index(idx)) = moved
		t.nodes.Get(arena.Index(moved.Parent)).RouteIdx = idx
	}
	return t.routes.FreeLast()
}

// freeNode compacts the node arena the same way, fixing up every place a
// node index can appear: the parent's child pointer, each child's parent
// pointer, the owning route's parent_node, and root_node. It returns the
// index the last-allocated node moved from (0 if no move happened) so
// callers holding a stale reference to that index can redirect it.
func (t *Trie) freeNode(idx uint32) (movedFrom uint32, err error) {
	last, err := t.nodes.LastIndex()
	if err != nil {
		return 0, err
	}
	if uint32(last) != idx {
		moved := *t.nodes.Get(last)
		*t.nodes.Get(arena.Index(idx)) = moved
		if moved.Parent != 0 {
			p := t.nodes.Get(arena.Index(moved.Parent))
			switch uint32(last) {
			case p.Left:
				p.Left = idx
			case p.Right:
				p.Right = idx
			}
		}
		if moved.Left != 0 {
			t.nodes.Get(arena.Index(moved.Left)).Parent = idx
		}
		if moved.Right != 0 {
			t.nodes.Get(arena.Index(moved.Right)).Parent = idx
		}
		if moved.RouteIdx != 0 {
			t.routes.Get(arena.Index(moved.RouteIdx)).Parent = idx
		}
		if t.root == uint32(last) {
			t.root = idx
		}
		movedFrom = uint32(last)
	}
	if err := t.nodes.FreeLast(); err != nil {
		return 0, err
	}
	return movedFrom, nil
}

// Get returns the user_data and hit_count for an exact (prefix, length)
// match, optionally clearing hit_count atomically.
func (t *Trie) Get(k key.Key, clearHit bool) (userData uint64, hitCount uint64, err error) {
	nodeIdx, ok := t.findExact(k)
	if !ok {
		return 0, 0, lpmerr.ErrNotFound
	}
	n := t.nodes.Get(arena.Index(nodeIdx))
	if n.RouteIdx == 0 {
		return 0, 0, lpmerr.ErrNotFound
	}
	r := t.routes.Get(arena.Index(n.RouteIdx))
	hc := atomic.LoadUint64(&r.HitCount)
	if clearHit {
		atomic.StoreUint64(&r.HitCount, 0)
	}
	return r.UserData, hc, nil
}

// Set overwrites user_data for an exact match.
func (t *Trie) Set(k key.Key, userData uint64) error {
	nodeIdx, ok := t.findExact(k)
	if !ok {
		return lpmerr.ErrNotFound
	}
	n := t.nodes.Get(arena.Index(nodeIdx))
	if n.RouteIdx == 0 {
		return lpmerr.ErrNotFound
	}
	t.routes.Get(arena.Index(n.RouteIdx)).UserData = userData
	return nil
}

// LPM walks from the root tracking the deepest route seen, per spec §4.3.
func (t *Trie) LPM(addr key.Key) (length int, userData uint64, err error) {
	cur := t.root
	bestRoute := uint32(0)
	bestDepth := -1
	depth := 0
	for cur != 0 {
		n := t.nodes.Get(arena.Index(cur))
		if n.RouteIdx != 0 {
			bestRoute = n.RouteIdx
			bestDepth = depth
		}
		if depth >= t.maxBits {
			break
		}
		next := n.Left
		if addr.Bit(depth) == 1 {
			next = n.Right
		}
		cur = next
		depth++
	}
	if bestDepth < 0 {
		return 0, 0, lpmerr.ErrNotFound
	}
	r := t.routes.Get(arena.Index(bestRoute))
	if t.hitCount {
		atomic.AddUint64(&r.HitCount, 1)
	}
	return bestDepth, r.UserData, nil
}

// Walk performs a pre-order traversal of every route in the trie, calling
// fn(prefix, userData) for each until fn returns false. This is the
// "contract an ordered index can be layered on" from spec §4.7/§1.
func (t *Trie) Walk(fn func(k key.Key, userData uint64) bool) {
	if t.root == 0 {
		return
	}
	t.walkNode(t.root, key.Key{IsV4: t.isV4}, 0, fn)
}

func (t *Trie) walkNode(idx uint32, prefix key.Key, depth int, fn func(key.Key, uint64) bool) bool {
	n := t.nodes.Get(arena.Index(idx))
	if n.RouteIdx != 0 {
		r := t.routes.Get(arena.Index(n.RouteIdx))
		k := prefix
		k.Length = uint8(depth)
		if !fn(k, r.UserData) {
			return false
		}
	}
	if n.Left != 0 {
		if !t.walkNode(n.Left, prefix, depth+1, fn) {
			return false
		}
	}
	if n.Right != 0 {
		child := prefix
		child.SetBit(depth)
		if !t.walkNode(n.Right, child, depth+1, fn) {
			return false
		}
	}
	return true
}
