package lpmtable

import (
	"time"

	"go.uber.org/zap"

	"github.com/flowbase/lpmtable/internal/metrics"
)

// config collects every recognized configuration option from spec.md §6.
type config struct {
	hitCount        bool
	nextGet         bool
	memPrealloc     bool
	hashPrealloc    bool
	ipv4Rules       bool
	ipv6Flow        bool
	ipv6MaxFlows    uint32
	ipv6FlowAgeTime time.Duration
	logger          *zap.Logger
	metrics         *metrics.Recorder
	onFatal         func(error)
}

// Option configures a Table at construction time, the same functional-
// options shape gaissmai/bart's Table.New(opts ...Option) uses.
type Option func(*config)

// WithHitCount enables per-route atomic hit counters (~1% LPM slowdown).
func WithHitCount() Option { return func(c *config) { c.hitCount = true } }

// WithNextGet enables ordered iteration via the secondary index described
// in SPEC_FULL.md's supplemented ordered-iteration contract.
func WithNextGet() Option { return func(c *config) { c.nextGet = true } }

// WithMemPrealloc allocates all physical memory at creation; no page
// release on shrink.
func WithMemPrealloc() Option { return func(c *config) { c.memPrealloc = true } }

// WithHashPrealloc allocates the full hash bucket array at creation and
// disables online rehashing. Hash engine only.
func WithHashPrealloc() Option { return func(c *config) { c.hashPrealloc = true } }

// WithIPv4Rules enables the 24-bit rule accelerator. Hash engine, IPv4
// family only.
func WithIPv4Rules() Option { return func(c *config) { c.ipv4Rules = true } }

// WithIPv6Flow enables the destination-address flow cache. Hash engine,
// IPv6 family only.
func WithIPv6Flow() Option { return func(c *config) { c.ipv6Flow = true } }

// WithIPv6MaxFlows sets the flow-cache capacity; 0 selects the spec
// default of 2,097,152.
func WithIPv6MaxFlows(n uint32) Option { return func(c *config) { c.ipv6MaxFlows = n } }

// WithIPv6FlowAgeTime sets how long a flow-cache entry may go without
// being learned or hit before the background ager evicts it; the ager
// scans the cache every quarter of this period. 0 selects 30 seconds.
func WithIPv6FlowAgeTime(d time.Duration) Option { return func(c *config) { c.ipv6FlowAgeTime = d } }

// WithLogger attaches a zap.Logger. The only event logged is the hash
// engine's IPv4 rule table completing a rebuild, at Debug level; worker
// start/stop and rehashes are not logged. Defaults to zap.NewNop() — the
// lookup fast path never logs regardless.
func WithLogger(logger *zap.Logger) Option { return func(c *config) { c.logger = logger } }

// WithMetrics attaches a Prometheus recorder. Defaults to nil, in which
// case observations are no-ops.
func WithMetrics(rec *metrics.Recorder) Option { return func(c *config) { c.metrics = rec } }

// WithOnFatal overrides the panic-by-default handler that the trie engine
// invokes when freeing a node during Delete's compaction fails. The hash
// engine never invokes it, and arena exhaustion on Add is reported as
// ErrCapacity rather than through this handler.
func WithOnFatal(fn func(error)) Option { return func(c *config) { c.onFatal = fn } }
