// Package cache implements the composite, in-process lookup layer the
// redirect handler consults before ever reaching storage: an object cache,
// a negative cache, and a Bloom filter short-circuit for obvious misses.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/penshort/shortlinker/internal/model"
)

// Result classifies the outcome of a Get.
type Result int

const (
	// Unknown means neither cache layer nor the Bloom filter can answer;
	// the caller must consult storage.
	Unknown Result = iota
	// Found means the object cache holds a live, non-expired link.
	Found
	// KnownAbsent means the code is confirmed not to exist, either via the
	// negative cache or a Bloom-filter miss.
	KnownAbsent
)

func (r Result) String() string {
	switch r {
	case Found:
		return "found"
	case KnownAbsent:
		return "known_absent"
	default:
		return "unknown"
	}
}

type objectEntry struct {
	link      *model.ShortLink
	expiresAt time.Time
}

func (e *objectEntry) expired() bool {
	return !e.expiresAt.IsZero() && !time.Now().Before(e.expiresAt)
}

type negativeEntry struct {
	expiresAt time.Time
}

func (e *negativeEntry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// Config controls TTLs and Bloom sizing.
type Config struct {
	DefaultTTL        time.Duration
	NegativeTTL       time.Duration
	NegativeCapacity  int
	BloomCapacity     uint
	BloomFalsePosRate float64
}

// Cache is the composite lookup layer. Reads never block on storage and
// never return an error; only Reconfigure can fail.
type Cache struct {
	objects   sync.Map // code -> *objectEntry
	negatives sync.Map // code -> *negativeEntry
	negCount  atomic.Int64

	bloom atomic.Pointer[bloom.BloomFilter]
	// primed flips to true once Load has populated the Bloom filter with a
	// full catalog. Until then the filter cannot promise zero false
	// negatives, so the Bloom short-circuit answers Unknown instead.
	primed atomic.Bool
	mu     sync.RWMutex // guards swap of bloom pointer during reconfigure/load

	cfg Config
}

// New constructs a Cache with the given config and an initial empty Bloom
// filter.
func New(cfg Config) (*Cache, error) {
	if cfg.BloomCapacity == 0 {
		cfg.BloomCapacity = 100_000
	}
	if cfg.BloomFalsePosRate <= 0 {
		cfg.BloomFalsePosRate = 0.01
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 30 * time.Second
	}
	if cfg.NegativeCapacity <= 0 {
		cfg.NegativeCapacity = 100_000
	}

	c := &Cache{cfg: cfg}
	filter := bloom.NewWithEstimates(cfg.BloomCapacity, cfg.BloomFalsePosRate)
	c.bloom.Store(filter)
	return c, nil
}

// Get answers a lookup without ever touching storage.
//
// Order matters: a negative-cache hit always wins over an object-cache hit
// (a prior Invalidate must have preceded any later Insert; observing both
// populated for the same code is a caller bug, not handled here), then the
// object cache, then the Bloom filter.
func (c *Cache) Get(code string) Result {
	if v, ok := c.negatives.Load(code); ok {
		entry := v.(*negativeEntry)
		if !entry.expired() {
			return KnownAbsent
		}
		c.dropNegative(code)
	}

	if v, ok := c.objects.Load(code); ok {
		entry := v.(*objectEntry)
		if !entry.expired() {
			return Found
		}
		c.objects.Delete(code)
	}

	if c.primed.Load() {
		c.mu.RLock()
		filter := c.bloom.Load()
		absent := filter != nil && !filter.TestString(code)
		c.mu.RUnlock()
		if absent {
			return KnownAbsent
		}
	}

	return Unknown
}

// Peek returns the cached link if Get would report Found. Separated from
// Get so callers that only need the classification never pay for a second
// map lookup.
func (c *Cache) Peek(code string) (*model.ShortLink, bool) {
	v, ok := c.objects.Load(code)
	if !ok {
		return nil, false
	}
	entry := v.(*objectEntry)
	if entry.expired() {
		c.objects.Delete(code)
		return nil, false
	}
	return entry.link, true
}

// Insert adds or replaces code in the object cache, clears any negative
// entry, and records it as present in the Bloom filter.
//
// TTL selection: if link.ExpiresAt is set and in the future, the effective
// TTL is min(DefaultTTL, time until expiry); if set and already past,
// Insert caches nothing and invalidates the code instead, as a delete
// would; otherwise DefaultTTL applies.
func (c *Cache) Insert(link *model.ShortLink) {
	ttl := c.cfg.DefaultTTL
	if link.ExpiresAt != nil {
		until := time.Until(*link.ExpiresAt)
		if until <= 0 {
			c.Invalidate(link.Code)
			return
		}
		if until < ttl {
			ttl = until
		}
	}

	c.dropNegative(link.Code)
	c.objects.Store(link.Code, &objectEntry{link: link.Clone(), expiresAt: time.Now().Add(ttl)})

	// the filter's bitset is not safe for concurrent writers, so adds take
	// the write lock; Get's membership tests share the read side.
	c.mu.Lock()
	if filter := c.bloom.Load(); filter != nil {
		filter.AddString(link.Code)
	}
	c.mu.Unlock()
}

// Invalidate removes code from the object cache and clears any negative
// entry. Bloom bits are never cleared — Bloom filters support no selective
// removal, so a Reconfigure+Load cycle is the only way to shrink the set.
func (c *Cache) Invalidate(code string) {
	c.objects.Delete(code)
	c.dropNegative(code)
}

// MarkAbsent records code as confirmed absent in storage, with the
// configured negative TTL. Best-effort: once the negative cache is at
// capacity, new absences are simply not recorded until entries age out.
func (c *Cache) MarkAbsent(code string) {
	entry := &negativeEntry{expiresAt: time.Now().Add(c.cfg.NegativeTTL)}
	if _, ok := c.negatives.Load(code); ok {
		c.negatives.Store(code, entry)
		return
	}
	if c.negCount.Load() >= int64(c.cfg.NegativeCapacity) {
		// entries normally fall out lazily on read; codes that are never
		// queried again would otherwise pin the bound forever, so reclaim
		// the dead ones before giving up.
		c.sweepNegatives()
		if c.negCount.Load() >= int64(c.cfg.NegativeCapacity) {
			return
		}
	}
	if _, existed := c.negatives.LoadOrStore(code, entry); !existed {
		c.negCount.Add(1)
	}
}

// sweepNegatives drops every TTL-expired negative entry.
func (c *Cache) sweepNegatives() {
	c.negatives.Range(func(k, v any) bool {
		if v.(*negativeEntry).expired() {
			c.dropNegative(k.(string))
		}
		return true
	})
}

// dropNegative removes code's negative entry, keeping the size counter in
// step so the capacity bound stays meaningful.
func (c *Cache) dropNegative(code string) {
	if _, existed := c.negatives.LoadAndDelete(code); existed {
		c.negCount.Add(-1)
	}
}

// Reconfigure rebuilds the Bloom filter with new sizing parameters, empty.
// The caller is expected to follow with Load to repopulate it; until that
// Load completes, the Bloom short-circuit is suspended and unseen codes
// read as Unknown rather than KnownAbsent.
func (c *Cache) Reconfigure(capacity uint, fpRate float64) error {
	if capacity == 0 {
		return fmt.Errorf("cache: bloom capacity must be positive")
	}
	if fpRate <= 0 || fpRate >= 1 {
		return fmt.Errorf("cache: bloom false positive rate must be in (0, 1), got %v", fpRate)
	}

	filter := bloom.NewWithEstimates(capacity, fpRate)

	c.mu.Lock()
	c.cfg.BloomCapacity = capacity
	c.cfg.BloomFalsePosRate = fpRate
	c.primed.Store(false)
	c.bloom.Store(filter)
	c.mu.Unlock()
	return nil
}

// Load bulk-populates the cache from a fresh catalog snapshot: the object
// and negative caches are cleared first, then every link is inserted
// (respecting its TTL) and its Bloom bits are set. Intended to follow
// Reconfigure during a reload, but usable standalone to refresh the object
// cache without touching Bloom sizing.
func (c *Cache) Load(links map[string]*model.ShortLink) {
	c.objects.Range(func(k, _ any) bool {
		c.objects.Delete(k)
		return true
	})
	c.negatives.Range(func(k, _ any) bool {
		c.negatives.Delete(k)
		return true
	})
	c.negCount.Store(0)

	// every catalog code gets its membership bits, expired or not: an
	// expired link is still registered, and the filter must never report
	// a registered code absent. Only the object-cache entry honors TTLs.
	c.mu.Lock()
	if filter := c.bloom.Load(); filter != nil {
		for code := range links {
			filter.AddString(code)
		}
	}
	c.mu.Unlock()

	for _, link := range links {
		c.Insert(link)
	}
	c.primed.Store(true)
}
