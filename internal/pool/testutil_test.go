package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tokpool/internal/tokenizer"
)

const panicPrompt = "__panic__"

// fakeTokenizer maps each byte to its value. It can be told to panic on a
// prompt or to block until released.
type fakeTokenizer struct {
	name     string
	maxInput int
	// blockOn prompts wait on release after signalling entered.
	blockOn string
	entered chan struct{}
	release chan struct{}
}

func (f *fakeTokenizer) Encode(text string) ([]int, error) {
	if text == panicPrompt {
		panic("tokenizer exploded")
	}
	if f.blockOn != "" && text == f.blockOn {
		f.entered <- struct{}{}
		<-f.release
	}
	out := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		out[i] = int(text[i])
	}
	return out, nil
}

func (f *fakeTokenizer) Decode(tokens []int) (string, error) {
	b := make([]byte, len(tokens))
	for i, t := range tokens {
		b[i] = byte(t)
	}
	return string(b), nil
}

func (f *fakeTokenizer) VocabSize() int      { return 256 }
func (f *fakeTokenizer) Name() string        { return f.name }
func (f *fakeTokenizer) MaxInputLength() int { return f.maxInput }

// fakeLoader counts loads per source. Sources listed in fail return their
// error once; a non-nil gate holds every load until it is closed.
type fakeLoader struct {
	mu     sync.Mutex
	calls  map[string]int
	fail   map[string]error
	limits map[string]int
	gate   chan struct{}
	toks   map[string]*fakeTokenizer
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		calls:  map[string]int{},
		fail:   map[string]error{},
		limits: map[string]int{},
		toks:   map[string]*fakeTokenizer{},
	}
}

func (l *fakeLoader) Load(ctx context.Context, source string) (tokenizer.Tokenizer, error) {
	l.mu.Lock()
	l.calls[source]++
	gate := l.gate
	err, failing := l.fail[source]
	if failing {
		delete(l.fail, source)
	}
	l.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failing {
		return nil, err
	}
	if source == "missing" {
		return nil, errors.New("no such adapter")
	}
	if source == tokenizer.EncodingByteLevel {
		return tokenizer.NewByteLevel()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.toks[source]; ok {
		return t, nil
	}
	return &fakeTokenizer{name: source, maxInput: l.limits[source]}, nil
}

func (l *fakeLoader) count(source string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[source]
}

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 2
	}
	if cfg.MaxLoadingConcurrency == 0 {
		cfg.MaxLoadingConcurrency = 2
	}
	if cfg.BaseTokenizer == "" {
		cfg.BaseTokenizer = "base"
	}
	p, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func encodeOK(t *testing.T, g TokenizerGroup, req Request) []int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	toks, err := g.Encode(ctx, req)
	if err != nil {
		t.Fatalf("Encode(%s): %v", req.Adapter, err)
	}
	return toks
}

func equalKeys(a, b []string) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

// loaderFunc wraps a fakeLoader with a hook that runs before every load.
func loaderFunc(hook func(source string)) *hookLoader {
	return &hookLoader{fakeLoader: newFakeLoader(), hook: hook}
}

type hookLoader struct {
	*fakeLoader
	hook func(source string)
}

func (l *hookLoader) Load(ctx context.Context, source string) (tokenizer.Tokenizer, error) {
	l.hook(source)
	return l.fakeLoader.Load(ctx, source)
}
