package pool

import (
	"context"

	"tokpool/internal/tokenizer"
)

// Inline is a TokenizerGroup without workers: encoding runs on the calling
// goroutine. It shares the adapter cache and length enforcement of Pool and
// has no health to report.
type Inline struct {
	*core
}

// NewInline constructs an Inline group. Worker and health settings in cfg are
// ignored.
func NewInline(cfg Config) (*Inline, error) {
	c, err := newCore(cfg)
	if err != nil {
		return nil, err
	}
	return &Inline{core: c}, nil
}

// Ping always reports true.
func (g *Inline) Ping(context.Context) bool { return true }

// CheckHealth always returns nil.
func (g *Inline) CheckHealth(context.Context) error { return nil }

func (g *Inline) GetMaxInputLength(ctx context.Context, ref AdapterRef) (int, bool) {
	return g.maxInputLength(ctx, ref)
}

func (g *Inline) Encode(ctx context.Context, req Request) ([]int, error) {
	return g.encode(ctx, req, encodeInline)
}

func (g *Inline) EncodeAsync(ctx context.Context, req Request) <-chan EncodeResult {
	return encodeAsync(ctx, req, g.Encode)
}

func (g *Inline) GetTokenizer(ctx context.Context, ref AdapterRef) (tokenizer.Tokenizer, error) {
	return g.tokenizerFor(ctx, ref)
}

func (g *Inline) GetTokenizerAsync(ctx context.Context, ref AdapterRef) <-chan TokenizerResult {
	return tokenizerAsync(ctx, ref, g.GetTokenizer)
}

func (g *Inline) Close() error {
	g.core.close()
	return nil
}

func encodeInline(ctx context.Context, tok tokenizer.Tokenizer, prompt, _ string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tok.Encode(prompt)
}
