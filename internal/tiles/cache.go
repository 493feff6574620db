package tiles

import (
	"container/list"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a concurrent LRU of tile bodies keyed by source, URL template and
// tile, with a TTL. Invalidate drops a whole source when its URL is replaced
// and advances the source's generation, so a fetch that started before the
// invalidation cannot store its body afterwards.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	gens    map[string]uint64
	lru     *list.List // front = most recent
	max     int
	ttl     time.Duration
	now     func() time.Time
	hits    atomic.Int64
	misses  atomic.Int64
	evicted atomic.Int64
}

// Key identifies one cached tile body.
type Key struct {
	Source   string
	Template string
	Tile     Tile
}

func (k Key) String() string {
	t := k.Tile
	return k.Source + "\x00" + k.Template + "\x00" + strconv.Itoa(t.Z) + "/" + strconv.Itoa(t.X) + "/" + strconv.Itoa(t.Y)
}

type cacheItem struct {
	key    string
	data   []byte
	stored time.Time
}

// CacheStats reports cache counters.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evicted    int64   `json:"evicted"`
	HitRate    float64 `json:"hit_rate"`
}

// NewCache returns a cache holding at most maxEntries tiles for ttl.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		items: make(map[string]*list.Element),
		gens:  make(map[string]uint64),
		lru:   list.New(),
		max:   max(1, maxEntries),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns a cached tile body, or nil on a miss or an expired entry.
func (c *Cache) Get(k Key) []byte {
	key := k.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}
	item := el.Value.(*cacheItem)
	if c.ttl > 0 && c.now().Sub(item.stored) > c.ttl {
		c.lru.Remove(el)
		delete(c.items, key)
		c.misses.Add(1)
		return nil
	}
	c.lru.MoveToFront(el)
	c.hits.Add(1)
	return item.data
}

// Generation returns the current generation of source. Pass it to Put.
func (c *Cache) Generation(source string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[source]
}

// Put stores a tile body read at generation gen, evicting the least
// recently used entries. It reports false and stores nothing when the
// source was invalidated since gen.
func (c *Cache) Put(k Key, gen uint64, data []byte) bool {
	key := k.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[k.Source] != gen {
		return false
	}
	if el, ok := c.items[key]; ok {
		el.Value = &cacheItem{key: key, data: data, stored: c.now()}
		c.lru.MoveToFront(el)
		return true
	}
	for c.lru.Len() >= c.max {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
		c.evicted.Add(1)
	}
	c.items[key] = c.lru.PushFront(&cacheItem{key: key, data: data, stored: c.now()})
	return true
}

// Invalidate drops every tile of source, advances its generation and
// returns how many tiles were removed.
func (c *Cache) Invalidate(source string) int {
	prefix := source + "\x00"

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[source]++

	n := 0
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(el)
			delete(c.items, key)
			n++
		}
	}
	return n
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	entries := c.lru.Len()
	c.mu.Unlock()

	s := CacheStats{
		Entries:    entries,
		MaxEntries: c.max,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evicted:    c.evicted.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
