package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tokpool/internal/tokenizer"
)

// encodeFunc turns a prompt into token ids with an already resolved tokenizer.
type encodeFunc func(ctx context.Context, tok tokenizer.Tokenizer, prompt, reqID string) ([]int, error)

// core resolves tokenizers and enforces length bounds for both TokenizerGroup
// variants.
type core struct {
	cfg     Config
	base    tokenizer.Tokenizer
	cache   *adapterCache
	log     zerolog.Logger
	pub     EventPublisher
	started time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newCore(cfg Config) (*core, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger.With().Str("component", "tokpool").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	base, err := callLoader(ctx, cfg.Loader, cfg.BaseTokenizer)
	if err != nil {
		cancel()
		return nil, ErrConfiguration("load base tokenizer "+cfg.BaseTokenizer, err)
	}
	cache, err := newAdapterCache(ctx, cfg.PoolSize, cfg.MaxLoadingConcurrency, cfg.Loader, log, cfg.Publisher)
	if err != nil {
		cancel()
		return nil, ErrConfiguration("adapter cache", err)
	}
	log.Info().
		Str("base_tokenizer", base.Name()).
		Int("pool_size", cfg.PoolSize).
		Int("max_loading_concurrency", cfg.MaxLoadingConcurrency).
		Int("max_input_length", cfg.MaxInputLength).
		Msg("tokenizer pool ready")
	return &core{
		cfg:     cfg,
		base:    base,
		cache:   cache,
		log:     log,
		pub:     cfg.Publisher,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// acquire returns a lease on the tokenizer ref names.
func (c *core) acquire(ctx context.Context, ref AdapterRef, reqID string) (*lease, error) {
	if ref.IsBase() {
		return &lease{tok: c.base}, nil
	}
	if err := c.ctx.Err(); err != nil {
		return nil, ErrPoolUnhealthy("pool closed", nil)
	}
	return c.cache.get(ctx, ref, reqID)
}

// limitFor returns the bound for a resolved tokenizer: the adapter's own
// bound, else the pool default, else unbounded.
func (c *core) limitFor(l *lease) (int, bool) {
	if l.maxInput > 0 {
		return l.maxInput, true
	}
	if c.cfg.MaxInputLength > 0 {
		return c.cfg.MaxInputLength, true
	}
	return 0, false
}

func (c *core) defaultLimit() (int, bool) {
	if c.cfg.MaxInputLength > 0 {
		return c.cfg.MaxInputLength, true
	}
	return 0, false
}

// maxInputLength loads an adapter that is not cached yet so its own bound is
// known. When that load fails the pool default applies.
func (c *core) maxInputLength(ctx context.Context, ref AdapterRef) (int, bool) {
	if ref.IsBase() {
		return c.defaultLimit()
	}
	l, err := c.acquire(ctx, ref, "")
	if err != nil {
		c.log.Debug().Err(err).Str("adapter_id", ref.ID()).Msg("max input length falls back to pool default")
		return c.defaultLimit()
	}
	defer l.release()
	return c.limitFor(l)
}

// encode resolves the tokenizer, runs enc while holding it and rejects a
// result longer than the bound. An over-long result is discarded, never
// truncated.
func (c *core) encode(ctx context.Context, req Request, enc encodeFunc) ([]int, error) {
	reqID := req.RequestID
	if reqID == "" {
		reqID = uuid.NewString()
	}
	target := "base"
	if !req.Adapter.IsBase() {
		target = "adapter"
	}
	start := time.Now()
	tokens, err := c.encodeLeased(ctx, req, reqID, enc)
	if err != nil {
		encodeErrorsTotal.WithLabelValues(errorReason(err)).Inc()
		c.log.Debug().Err(err).Str("request_id", reqID).Str("adapter", req.Adapter.String()).Msg("encode failed")
		return nil, err
	}
	encodeDuration.WithLabelValues(target).Observe(time.Since(start).Seconds())
	return tokens, nil
}

func (c *core) encodeLeased(ctx context.Context, req Request, reqID string, enc encodeFunc) ([]int, error) {
	l, err := c.acquire(ctx, req.Adapter, reqID)
	if err != nil {
		return nil, err
	}
	defer l.release()
	tokens, err := enc(ctx, l.tok, req.Prompt, reqID)
	if err != nil {
		return nil, err
	}
	if limit, ok := c.limitFor(l); ok && len(tokens) > limit {
		return nil, ErrContextLengthExceeded(req.Adapter, len(tokens), limit)
	}
	return tokens, nil
}

// tokenizerFor returns the handle for ref. Handles are immutable, so the
// returned value stays valid after the pin is dropped, even if the cache
// evicts it.
func (c *core) tokenizerFor(ctx context.Context, ref AdapterRef) (tokenizer.Tokenizer, error) {
	l, err := c.acquire(ctx, ref, "")
	if err != nil {
		return nil, err
	}
	l.release()
	return l.tok, nil
}

// Invalidate drops the cached tokenizer of adapter id so the next request
// loads it again. It reports whether an entry was cached.
func (c *core) Invalidate(id string) bool {
	ok := c.cache.invalidate(id)
	if ok {
		c.log.Info().Str("adapter_id", id).Msg("adapter tokenizer invalidated")
	}
	return ok
}

// InvalidateSource drops every cached tokenizer loaded from source.
func (c *core) InvalidateSource(source string) []string {
	ids := c.cache.invalidateSource(source)
	if len(ids) > 0 {
		c.log.Info().Strs("adapter_ids", ids).Str("source", source).Msg("adapter tokenizers invalidated")
	}
	return ids
}

// CachedAdapters returns cached adapter ids, least recently used first.
func (c *core) CachedAdapters() []string { return c.cache.keys() }

// IsCached reports whether adapter id currently has a cached tokenizer.
func (c *core) IsCached(id string) bool { return c.cache.contains(id) }

func (c *core) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.cache.purge()
	})
}

func encodeAsync(ctx context.Context, req Request, encode func(context.Context, Request) ([]int, error)) <-chan EncodeResult {
	out := make(chan EncodeResult, 1)
	go func() {
		tokens, err := encode(ctx, req)
		out <- EncodeResult{Tokens: tokens, Err: err}
	}()
	return out
}

func tokenizerAsync(ctx context.Context, ref AdapterRef, get func(context.Context, AdapterRef) (tokenizer.Tokenizer, error)) <-chan TokenizerResult {
	out := make(chan TokenizerResult, 1)
	go func() {
		tok, err := get(ctx, ref)
		out <- TokenizerResult{Tokenizer: tok, Err: err}
	}()
	return out
}
