package pool

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tokpool/internal/tokenizer"
)

func TestCache_ConcurrentRequestsShareOneLoad(t *testing.T) {
	l := newFakeLoader()
	p := newTestPool(t, Config{PoolSize: 2, Loader: l})
	gate := make(chan struct{})
	l.mu.Lock()
	l.gate = gate
	l.mu.Unlock()

	const n = 10
	var started, done sync.WaitGroup
	errs := make([]error, n)
	results := make([][]int, n)
	for i := 0; i < n; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], errs[i] = p.Encode(context.Background(), Request{Prompt: "hi", Adapter: Adapter("new", "")})
		}(i)
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(gate)
	done.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if len(results[i]) != 2 {
			t.Fatalf("request %d: tokens %v", i, results[i])
		}
	}
	if got := l.count("new"); got != 1 {
		t.Fatalf("expected exactly one load, got %d", got)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	p := newTestPool(t, Config{PoolSize: 2, Loader: newFakeLoader()})
	for _, id := range []string{"A", "B", "C"} {
		encodeOK(t, p, Request{Prompt: "x", Adapter: Adapter(id, "")})
	}
	if got := p.CachedAdapters(); !equalKeys(got, []string{"B", "C"}) {
		t.Fatalf("cached = %v, want [B C]", got)
	}
	if p.IsCached("A") {
		t.Fatalf("A should have been evicted")
	}
}

func TestCache_HitRefreshesRecency(t *testing.T) {
	l := newFakeLoader()
	p := newTestPool(t, Config{PoolSize: 2, Loader: l})
	for _, id := range []string{"A", "B", "A", "C"} {
		encodeOK(t, p, Request{Prompt: "x", Adapter: Adapter(id, "")})
	}
	if got := p.CachedAdapters(); !equalKeys(got, []string{"A", "C"}) {
		t.Fatalf("cached = %v, want [A C]", got)
	}
	if got := l.count("A"); got != 1 {
		t.Fatalf("A loaded %d times, want 1", got)
	}
}

func TestCache_InUseEntryNotEvicted(t *testing.T) {
	p := newTestPool(t, Config{PoolSize: 1, Loader: newFakeLoader()})
	held, err := p.cache.get(context.Background(), Adapter("A", ""), "")
	if err != nil {
		t.Fatalf("get A: %v", err)
	}
	// B is served but cannot displace the pinned A.
	encodeOK(t, p, Request{Prompt: "x", Adapter: Adapter("B", "")})
	if got := p.CachedAdapters(); !equalKeys(got, []string{"A"}) {
		t.Fatalf("cached = %v, want [A]", got)
	}
	held.release()
	held.release()
	encodeOK(t, p, Request{Prompt: "x", Adapter: Adapter("C", "")})
	if got := p.CachedAdapters(); !equalKeys(got, []string{"C"}) {
		t.Fatalf("cached = %v, want [C]", got)
	}
}

func TestCache_CapacityNeverExceeded(t *testing.T) {
	p := newTestPool(t, Config{PoolSize: 3, MaxLoadingConcurrency: 3, Loader: newFakeLoader()})
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%8))
			_, _ = p.Encode(context.Background(), Request{Prompt: "x", Adapter: Adapter(id, "")})
		}(i)
	}
	wg.Wait()
	if n := p.cache.size(); n > 3 {
		t.Fatalf("cache holds %d entries, capacity 3", n)
	}
}

func TestCache_LoadFailureFansOutThenRetries(t *testing.T) {
	l := newFakeLoader()
	p := newTestPool(t, Config{Loader: l})
	boom := errors.New("descriptor corrupt")
	gate := make(chan struct{})
	l.mu.Lock()
	l.fail["bad"] = boom
	l.gate = gate
	l.mu.Unlock()

	const n = 5
	var started, done sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			_, errs[i] = p.Encode(context.Background(), Request{Prompt: "x", Adapter: Adapter("bad", "")})
		}(i)
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(gate)
	done.Wait()

	for i, err := range errs {
		if !IsAdapterLoad(err) || !errors.Is(err, boom) {
			t.Fatalf("waiter %d: expected adapter load error wrapping cause, got %v", i, err)
		}
		if err != errs[0] {
			t.Fatalf("waiter %d observed a different error value", i)
		}
	}
	if p.IsCached("bad") {
		t.Fatalf("failed load must not be cached")
	}
	if got := l.count("bad"); got != 1 {
		t.Fatalf("expected one shared load, got %d", got)
	}

	encodeOK(t, p, Request{Prompt: "x", Adapter: Adapter("bad", "")})
	if got := l.count("bad"); got != 2 {
		t.Fatalf("retry should load again, got %d loads", got)
	}
}

func TestCache_CancelledWaiterDoesNotAbortLoad(t *testing.T) {
	l := newFakeLoader()
	p := newTestPool(t, Config{Loader: l})
	gate := make(chan struct{})
	l.mu.Lock()
	l.gate = gate
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Encode(ctx, Request{Prompt: "x", Adapter: Adapter("slow", "")})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(gate)
	waitFor(t, 2*time.Second, func() bool { return p.IsCached("slow") })
	encodeOK(t, p, Request{Prompt: "x", Adapter: Adapter("slow", "")})
	if got := l.count("slow"); got != 1 {
		t.Fatalf("expected the abandoned load to be reused, got %d loads", got)
	}
}

func TestCache_Invalidate(t *testing.T) {
	l := newFakeLoader()
	p := newTestPool(t, Config{Loader: l})
	encodeOK(t, p, Request{Prompt: "x", Adapter: Adapter("A", "/adapters/a.yaml")})
	if !p.Invalidate("A") {
		t.Fatalf("Invalidate should report a cached entry")
	}
	if p.IsCached("A") || p.Invalidate("A") {
		t.Fatalf("A should be gone")
	}
	encodeOK(t, p, Request{Prompt: "x", Adapter: Adapter("A", "/adapters/a.yaml")})
	if got := l.count("/adapters/a.yaml"); got != 2 {
		t.Fatalf("expected reload after invalidate, got %d loads", got)
	}
	ids := p.InvalidateSource("/adapters/a.yaml")
	if !equalKeys(ids, []string{"A"}) {
		t.Fatalf("InvalidateSource = %v", ids)
	}
}

func TestCache_EmptyAdapterID(t *testing.T) {
	p := newTestPool(t, Config{Loader: newFakeLoader()})
	_, err := p.Encode(context.Background(), Request{Prompt: "x", Adapter: Adapter("", "")})
	if !IsAdapterLoad(err) {
		t.Fatalf("expected adapter load error, got %v", err)
	}
}

func TestCache_LoaderPanicBecomesLoadError(t *testing.T) {
	loader := loaderFunc(func(source string) {
		if source == "explode" {
			panic("bad descriptor")
		}
	})
	p := newTestPool(t, Config{Loader: loader})
	_, err := p.Encode(context.Background(), Request{Prompt: "x", Adapter: Adapter("explode", "")})
	if !IsAdapterLoad(err) {
		t.Fatalf("expected adapter load error, got %v", err)
	}
}

func TestCache_EventsPublished(t *testing.T) {
	pub := NewMemoryPublisher()
	p := newTestPool(t, Config{PoolSize: 1, Loader: newFakeLoader(), Publisher: pub})
	encodeOK(t, p, Request{Prompt: "x", Adapter: Adapter("A", "")})
	encodeOK(t, p, Request{Prompt: "x", Adapter: Adapter("B", "")})
	_, _ = p.Encode(context.Background(), Request{Prompt: "x", Adapter: Adapter("m", "missing")})
	if pub.Count(EventAdapterLoadStart) != 3 || pub.Count(EventAdapterLoaded) != 2 {
		t.Fatalf("unexpected load events: %+v", pub.Events())
	}
	if pub.Count(EventAdapterEvicted) != 1 || pub.Count(EventAdapterLoadFailed) != 1 {
		t.Fatalf("unexpected eviction/failure events: %+v", pub.Events())
	}
}

func TestCache_InvalidateDuringLoadKeepsOneLoadInFlight(t *testing.T) {
	l := newFakeLoader()
	p := newTestPool(t, Config{Loader: l})
	gate := make(chan struct{})
	l.mu.Lock()
	l.gate = gate
	l.mu.Unlock()

	errs := make(chan error, 2)
	go func() {
		_, err := p.Encode(context.Background(), Request{Prompt: "x", Adapter: Adapter("D", "")})
		errs <- err
	}()
	waitFor(t, 2*time.Second, func() bool { return l.count("D") == 1 })

	p.Invalidate("D")
	go func() {
		_, err := p.Encode(context.Background(), Request{Prompt: "x", Adapter: Adapter("D", "")})
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	if got := l.count("D"); got != 1 {
		t.Fatalf("loads started for D while the first is in flight: %d", got)
	}

	close(gate)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("encode %d: %v", i, err)
		}
	}
	// The request issued after Invalidate waits for the old load, then loads again.
	if got := l.count("D"); got != 2 {
		t.Fatalf("expected a reload after the invalidated load, got %d loads", got)
	}
	if !p.IsCached("D") {
		t.Fatalf("the reloaded tokenizer should be cached")
	}
}

func TestCache_InvalidateOtherIDStillCachesLoad(t *testing.T) {
	l := newFakeLoader()
	p := newTestPool(t, Config{Loader: l})
	gate := make(chan struct{})
	l.mu.Lock()
	l.gate = gate
	l.mu.Unlock()

	errc := make(chan error, 1)
	go func() {
		_, err := p.Encode(context.Background(), Request{Prompt: "x", Adapter: Adapter("Y", "")})
		errc <- err
	}()
	waitFor(t, 2*time.Second, func() bool { return l.count("Y") == 1 })
	p.Invalidate("X")
	close(gate)
	if err := <-errc; err != nil {
		t.Fatalf("encode Y: %v", err)
	}
	if !p.IsCached("Y") {
		t.Fatalf("invalidating X must not keep Y out of the cache")
	}
	encodeOK(t, p, Request{Prompt: "x", Adapter: Adapter("Y", "")})
	if got := l.count("Y"); got != 1 {
		t.Fatalf("Y loaded %d times, want 1", got)
	}
}

// peakLoader records how many loads run at once.
type peakLoader struct {
	mu    sync.Mutex
	cur   int
	peak  int
	total int
}

func (l *peakLoader) Load(ctx context.Context, source string) (tokenizer.Tokenizer, error) {
	l.mu.Lock()
	l.cur++
	l.total++
	if l.cur > l.peak {
		l.peak = l.cur
	}
	l.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	l.mu.Lock()
	l.cur--
	l.mu.Unlock()
	return &fakeTokenizer{name: source}, nil
}

func TestCache_MaxLoadingConcurrencyBoundsDistinctLoads(t *testing.T) {
	l := &peakLoader{}
	p := newTestPool(t, Config{PoolSize: 8, MaxLoadingConcurrency: 2, Loader: l})
	l.mu.Lock()
	l.peak = 0
	l.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_, errs[i] = p.GetTokenizer(context.Background(), Adapter(id, ""))
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.peak > 2 {
		t.Fatalf("max concurrent loads = %d, bound 2", l.peak)
	}
	// eight adapters plus the base tokenizer
	if l.total != 9 {
		t.Fatalf("expected 9 loads, got %d", l.total)
	}
}

func TestCache_RelativeDescriptorSourceMatchesAbsolute(t *testing.T) {
	p := newTestPool(t, Config{Loader: newFakeLoader()})
	encodeOK(t, p, Request{Prompt: "x", Adapter: Adapter("sql", "adapters/sql.yaml")})
	abs, err := filepath.Abs("adapters/sql.yaml")
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	if ids := p.InvalidateSource(abs); !equalKeys(ids, []string{"sql"}) {
		t.Fatalf("InvalidateSource(%s) = %v, want [sql]", abs, ids)
	}

	encodeOK(t, p, Request{Prompt: "x", Adapter: Adapter("sql", abs)})
	if ids := p.InvalidateSource("adapters/../adapters/sql.yaml"); !equalKeys(ids, []string{"sql"}) {
		t.Fatalf("relative InvalidateSource = %v, want [sql]", ids)
	}
}

func TestCache_LoadsConcurrentWithInvalidateAndClose(t *testing.T) {
	p, err := FromConfig(Config{PoolSize: 1, MaxLoadingConcurrency: 4, BaseTokenizer: "base", Loader: newFakeLoader()})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	ids := []string{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = p.GetTokenizer(context.Background(), Adapter(ids[i%len(ids)], ""))
		}(i)
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, id := range ids {
			p.Invalidate(id)
		}
	}()
	go func() {
		defer wg.Done()
		_ = p.Close()
	}()
	wg.Wait()
	if n := p.cache.size(); n != 0 {
		t.Fatalf("closed cache holds %d entries", n)
	}
}
