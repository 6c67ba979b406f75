package inspect

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/simplelru"
	"golang.org/x/sync/singleflight"

	"anyback-go/internal/archive"
)

// DefaultCacheBytes is the preview cache budget when none is configured.
const DefaultCacheBytes int64 = 200 << 20

// promotionQueue bounds pending recency updates from cache hits.
const promotionQueue = 256

// Preview is the rendered content of one object.
type Preview struct {
	ID   string
	Kind Kind
	Data []byte
}

func (p *Preview) size() int64 { return int64(len(p.Data)) }

// RenderFunc renders the preview of one object.
type RenderFunc func(id string) (*Preview, error)

// CacheStats is a point-in-time view of the cache counters.
type CacheStats struct {
	Entries int
	Bytes   int64
	Budget  int64
	Hits    int64
	Misses  int64
	Renders int64
}

// PreviewCache is an LRU of rendered previews bounded by total bytes.
//
// Hits only take the read lock; the recency update they imply is queued and
// applied by the next writer. Concurrent misses for one id share a single
// render.
type PreviewCache struct {
	mu     sync.RWMutex
	lru    *simplelru.LRU
	bytes  int64
	budget int64

	promote chan string
	group   singleflight.Group
	render  RenderFunc

	hits    atomic.Int64
	misses  atomic.Int64
	renders atomic.Int64
}

// NewPreviewCache creates a cache holding at most budget bytes of previews.
func NewPreviewCache(budget int64, render RenderFunc) (*PreviewCache, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("%w: cache budget must be positive", archive.ErrInvalid)
	}
	c := &PreviewCache{
		budget:  budget,
		promote: make(chan string, promotionQueue),
		render:  render,
	}
	// Entry count is unbounded; the byte budget does the evicting.
	lru, err := simplelru.NewLRU(math.MaxInt32, func(_ interface{}, value interface{}) {
		c.bytes -= value.(*Preview).size()
	})
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}
	c.lru = lru
	return c, nil
}

// Get returns the preview of id, rendering it on a miss.
func (c *PreviewCache) Get(id string) (*Preview, error) {
	if p, ok := c.peek(id); ok {
		c.hits.Add(1)
		c.requestPromotion(id)
		return p, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(id, func() (interface{}, error) {
		if p, ok := c.peek(id); ok {
			return p, nil
		}
		c.renders.Add(1)
		p, err := c.render(id)
		if err != nil {
			return nil, err
		}
		c.insert(id, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Preview), nil
}

func (c *PreviewCache) peek(id string) (*Preview, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.lru.Peek(id)
	if !ok {
		return nil, false
	}
	return v.(*Preview), true
}

func (c *PreviewCache) requestPromotion(id string) {
	select {
	case c.promote <- id:
	default:
	}
}

// applyPromotions drains queued hits into LRU order. Callers hold c.mu.
func (c *PreviewCache) applyPromotions() {
	for {
		select {
		case id := <-c.promote:
			c.lru.Get(id)
		default:
			return
		}
	}
}

// insert stores p, evicting the oldest entries until it fits. Previews larger
// than the whole budget are not stored.
func (c *PreviewCache) insert(id string, p *Preview) {
	size := p.size()
	if size > c.budget {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.applyPromotions()
	c.lru.Remove(id)
	for c.bytes+size > c.budget && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
	c.lru.Add(id, p)
	c.bytes += size
}

// Stats returns the current counters.
func (c *PreviewCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Entries: c.lru.Len(),
		Bytes:   c.bytes,
		Budget:  c.budget,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Renders: c.renders.Load(),
	}
}

var cacheSizePattern = regexp.MustCompile(`^(\d+)\s*([a-z]*)$`)

// ParseCacheSize parses a --max-cache value: digits with an optional k, kb,
// m, mb, g or gb suffix. A bare number is in megabytes.
func ParseCacheSize(s string) (int64, error) {
	m := cacheSizePattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("%w: cache size %q", archive.ErrInvalid, s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: cache size %q must be a positive number", archive.ErrInvalid, s)
	}

	var unit int64
	switch m[2] {
	case "k", "kb":
		unit = 1 << 10
	case "", "m", "mb":
		unit = 1 << 20
	case "g", "gb":
		unit = 1 << 30
	default:
		return 0, fmt.Errorf("%w: unknown cache size unit %q", archive.ErrInvalid, m[2])
	}
	if n > math.MaxInt64/unit {
		return 0, fmt.Errorf("%w: cache size %q is too large", archive.ErrInvalid, s)
	}
	return n * unit, nil
}
