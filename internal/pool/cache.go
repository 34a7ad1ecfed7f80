package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"tokpool/internal/common/fsutil"
	"tokpool/internal/tokenizer"
	"tokpool/pkg/types"
)

// entry is one cached adapter tokenizer. lastUsed, inUse and resident are
// guarded by adapterCache.mu; the rest never changes.
type entry struct {
	id     string
	source string
	// key is source in the form invalidateSource matches on.
	key      string
	epoch    uint64
	tok      tokenizer.Tokenizer
	maxInput int
	lastUsed time.Time
	inUse    int
	resident bool
}

// lease pins a tokenizer for the duration of one request. A pinned entry is
// never chosen for eviction.
type lease struct {
	tok      tokenizer.Tokenizer
	maxInput int
	once     sync.Once
	done     func()
}

func (l *lease) release() {
	if l.done != nil {
		l.once.Do(l.done)
	}
}

// adapterCache holds up to capacity adapter tokenizers in LRU order and
// deduplicates concurrent loads of the same adapter.
type adapterCache struct {
	mu       sync.Mutex
	capacity int
	entries  *lru.LRU[string, *entry]
	// epochs counts invalidations per adapter id. A load records the epoch
	// it started in; its result is cached only if no invalidation of that
	// id happened meanwhile.
	epochs map[string]uint64
	// loading maps ids with a load in flight to their source key.
	loading   map[string]string
	closed    bool
	loads     uint64
	evictions uint64

	group  singleflight.Group
	sem    *semaphore.Weighted
	loader tokenizer.Loader
	// ctx is the pool lifetime; loads run on it rather than on any caller's context.
	ctx context.Context
	log zerolog.Logger
	pub EventPublisher
	now func() time.Time
}

func newAdapterCache(ctx context.Context, capacity, maxLoading int, loader tokenizer.Loader, log zerolog.Logger, pub EventPublisher) (*adapterCache, error) {
	entries, err := lru.NewLRU[string, *entry](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &adapterCache{
		capacity: capacity,
		entries:  entries,
		epochs:   map[string]uint64{},
		loading:  map[string]string{},
		sem:      semaphore.NewWeighted(int64(maxLoading)),
		loader:   loader,
		ctx:      ctx,
		log:      log,
		pub:      pub,
		now:      time.Now,
	}, nil
}

// get returns a lease on the tokenizer for ref, loading it when absent. A
// caller whose ctx ends stops waiting; the shared load keeps running for the
// other waiters and still populates the cache.
//
// A caller that joins a load started before the id was invalidated waits for
// it to finish and then loads again, so at most one load per id is ever in
// flight and no caller receives a tokenizer older than its own request.
func (c *adapterCache) get(ctx context.Context, ref AdapterRef, reqID string) (*lease, error) {
	if ref.ID() == "" {
		return nil, ErrAdapterLoad(ref.ID(), ref.Source(), errors.New("empty adapter id"))
	}
	l, epoch := c.hit(ref.ID())
	if l != nil {
		return l, nil
	}
	for {
		ch := c.group.DoChan(ref.ID(), func() (any, error) {
			return c.load(ref, reqID)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			e := res.Val.(*entry)
			if e.epoch < epoch {
				continue
			}
			return c.pin(e), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// hit pins a resident entry and refreshes its recency. On a miss it returns
// the id's current epoch.
func (c *adapterCache) hit(id string) (*lease, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(id)
	if !ok {
		return nil, c.epochs[id]
	}
	return c.pinLocked(e), e.epoch
}

func (c *adapterCache) pin(e *entry) *lease {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.resident {
		c.entries.Get(e.id)
	}
	return c.pinLocked(e)
}

func (c *adapterCache) pinLocked(e *entry) *lease {
	e.inUse++
	e.lastUsed = c.now()
	return &lease{
		tok:      e.tok,
		maxInput: e.maxInput,
		done: func() {
			c.mu.Lock()
			e.inUse--
			c.mu.Unlock()
		},
	}
}

// load runs once per adapter id at a time, inside the single-flight group.
// The returned error is the one value every waiter observes.
func (c *adapterCache) load(ref AdapterRef, reqID string) (*entry, error) {
	key := sourceKey(ref.Source())
	c.mu.Lock()
	if e, ok := c.entries.Peek(ref.ID()); ok {
		c.mu.Unlock()
		return e, nil
	}
	epoch := c.epochs[ref.ID()]
	c.loading[ref.ID()] = key
	c.loads++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.loading, ref.ID())
		c.mu.Unlock()
	}()

	log := c.log.With().Str("adapter_id", ref.ID()).Str("source", ref.Source()).Str("request_id", reqID).Logger()
	if err := c.sem.Acquire(c.ctx, 1); err != nil {
		adapterLoadsTotal.WithLabelValues("error").Inc()
		return nil, ErrAdapterLoad(ref.ID(), ref.Source(), err)
	}
	defer c.sem.Release(1)

	c.pub.Publish(Event{Name: EventAdapterLoadStart, AdapterID: ref.ID(), Fields: map[string]any{"source": ref.Source(), "request_id": reqID}})
	log.Debug().Str("event", EventAdapterLoadStart).Msg("loading adapter tokenizer")
	start := time.Now()
	tok, err := callLoader(c.ctx, c.loader, ref.Source())
	took := time.Since(start)
	adapterLoadDuration.Observe(took.Seconds())
	if err != nil {
		adapterLoadsTotal.WithLabelValues("error").Inc()
		c.pub.Publish(Event{Name: EventAdapterLoadFailed, AdapterID: ref.ID(), Fields: map[string]any{"error": err.Error()}})
		log.Warn().Err(err).Str("event", EventAdapterLoadFailed).Dur("took", took).Msg("adapter tokenizer load failed")
		return nil, ErrAdapterLoad(ref.ID(), ref.Source(), err)
	}
	adapterLoadsTotal.WithLabelValues("ok").Inc()

	e := &entry{id: ref.ID(), source: ref.Source(), key: key, epoch: epoch, tok: tok, maxInput: tok.MaxInputLength()}
	c.mu.Lock()
	if !c.closed && epoch == c.epochs[ref.ID()] {
		c.insertLocked(e)
	}
	resident := e.resident
	c.mu.Unlock()

	c.pub.Publish(Event{Name: EventAdapterLoaded, AdapterID: ref.ID(), Fields: map[string]any{"took_ms": took.Milliseconds(), "resident": resident}})
	log.Info().Str("event", EventAdapterLoaded).Str("tokenizer", tok.Name()).Dur("took", took).Bool("resident", resident).Msg("adapter tokenizer loaded")
	return e, nil
}

// insertLocked makes room by evicting least recently used entries that are
// not pinned, then inserts e. When every resident entry is pinned e is not
// inserted; its waiters still receive it.
func (c *adapterCache) insertLocked(e *entry) {
	for c.entries.Len() >= c.capacity {
		victim := c.oldestIdleLocked()
		if victim == nil {
			c.log.Warn().Str("adapter_id", e.id).Int("capacity", c.capacity).Msg("adapter cache full of in-use tokenizers; serving without caching")
			return
		}
		c.entries.Remove(victim.id)
		victim.resident = false
		c.evictions++
		adapterEvictionsTotal.Inc()
		c.pub.Publish(Event{Name: EventAdapterEvicted, AdapterID: victim.id})
		c.log.Info().Str("event", EventAdapterEvicted).Str("adapter_id", victim.id).Msg("adapter tokenizer evicted")
	}
	e.resident = true
	e.lastUsed = c.now()
	c.entries.Add(e.id, e)
	adapterCacheEntries.Set(float64(c.entries.Len()))
}

func (c *adapterCache) oldestIdleLocked() *entry {
	for _, k := range c.entries.Keys() {
		if e, ok := c.entries.Peek(k); ok && e.inUse == 0 {
			return e
		}
	}
	return nil
}

// invalidate drops the entry for id and keeps a load of id already in flight
// from being cached. Requests already holding the entry finish with the old
// tokenizer.
func (c *adapterCache) invalidate(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochs[id]++
	e, ok := c.entries.Peek(id)
	if !ok {
		return false
	}
	c.entries.Remove(id)
	e.resident = false
	adapterCacheEntries.Set(float64(c.entries.Len()))
	return true
}

// invalidateSource invalidates every id cached or loading from source and
// returns those ids.
func (c *adapterCache) invalidateSource(source string) []string {
	key := sourceKey(source)
	c.mu.Lock()
	var ids []string
	seen := map[string]bool{}
	for _, k := range c.entries.Keys() {
		if e, ok := c.entries.Peek(k); ok && e.key == key {
			ids = append(ids, k)
			seen[k] = true
		}
	}
	for id, k := range c.loading {
		if k == key && !seen[id] {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.invalidate(id)
	}
	return ids
}

func (c *adapterCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, k := range c.entries.Keys() {
		if e, ok := c.entries.Peek(k); ok {
			e.resident = false
		}
	}
	c.entries.Purge()
	adapterCacheEntries.Set(0)
}

func (c *adapterCache) contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Contains(id)
}

// keys returns cached adapter ids, least recently used first.
func (c *adapterCache) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Keys()
}

func (c *adapterCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *adapterCache) snapshot() ([]types.AdapterStatus, uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.AdapterStatus, 0, c.entries.Len())
	for _, k := range c.entries.Keys() {
		e, ok := c.entries.Peek(k)
		if !ok {
			continue
		}
		out = append(out, types.AdapterStatus{
			AdapterID:      e.id,
			Source:         e.source,
			Tokenizer:      e.tok.Name(),
			MaxInputLength: e.maxInput,
			LastUsed:       e.lastUsed.UnixMilli(),
			InUse:          e.inUse,
		})
	}
	return out, c.loads, c.evictions
}

// callLoader invokes the loader, turning a panic or a nil handle into an error.
func callLoader(ctx context.Context, loader tokenizer.Loader, source string) (tok tokenizer.Tokenizer, err error) {
	defer func() {
		if r := recover(); r != nil {
			tok, err = nil, fmt.Errorf("loader panic: %v", r)
		}
	}()
	tok, err = loader.Load(ctx, source)
	if err == nil && tok == nil {
		err = errors.New("loader returned no tokenizer")
	}
	return tok, err
}

// sourceKey returns the form sources are matched on: descriptor paths are made
// absolute, anything else (a builtin name) is used as is.
func sourceKey(source string) string {
	if !tokenizer.IsDescriptorPath(source) {
		return source
	}
	abs, err := fsutil.AbsPath(source)
	if err != nil {
		return source
	}
	return abs
}
