package pool

import (
	"context"

	"tokpool/internal/tokenizer"
)

// State is the coarse pool state reported by Status.
type State string

const (
	StateReady    State = "ready"
	StateDegraded State = "degraded"
	StateStopped  State = "stopped"
)

// AdapterRef names the tokenizer a request needs: the base tokenizer or an
// adapter's. The zero value refers to the base tokenizer.
type AdapterRef struct {
	adapter bool
	id      string
	source  string
}

// Base refers to the always-resident base tokenizer.
func Base() AdapterRef { return AdapterRef{} }

// Adapter refers to the tokenizer of adapter id, loaded from source on first
// use. An empty source means id is itself the load source.
func Adapter(id, source string) AdapterRef {
	if source == "" {
		source = id
	}
	return AdapterRef{adapter: true, id: id, source: source}
}

// IsBase reports whether r refers to the base tokenizer.
func (r AdapterRef) IsBase() bool { return !r.adapter }

// ID returns the adapter id, or "" for the base reference.
func (r AdapterRef) ID() string { return r.id }

// Source returns the adapter load source, or "" for the base reference.
func (r AdapterRef) Source() string { return r.source }

func (r AdapterRef) String() string {
	if !r.adapter {
		return "base"
	}
	return "adapter:" + r.id
}

// Request is one encode request.
type Request struct {
	Prompt string
	// RequestID is used for log and event correlation only. One is generated
	// when empty.
	RequestID string
	Adapter   AdapterRef
}

// EncodeResult is delivered by EncodeAsync.
type EncodeResult struct {
	Tokens []int
	Err    error
}

// TokenizerResult is delivered by GetTokenizerAsync.
type TokenizerResult struct {
	Tokenizer tokenizer.Tokenizer
	Err       error
}

// TokenizerGroup is the capability set an inference server uses to encode
// prompts. Implementations are safe for concurrent use.
type TokenizerGroup interface {
	// Ping reports whether every worker answers a probe in time. It never errors.
	Ping(ctx context.Context) bool
	// CheckHealth returns a pool-unhealthy error when Ping would be false.
	CheckHealth(ctx context.Context) error
	// GetMaxInputLength returns the token bound for ref, or false when unbounded.
	GetMaxInputLength(ctx context.Context, ref AdapterRef) (int, bool)
	Encode(ctx context.Context, req Request) ([]int, error)
	// EncodeAsync delivers exactly one result on the returned channel.
	EncodeAsync(ctx context.Context, req Request) <-chan EncodeResult
	GetTokenizer(ctx context.Context, ref AdapterRef) (tokenizer.Tokenizer, error)
	GetTokenizerAsync(ctx context.Context, ref AdapterRef) <-chan TokenizerResult
	Close() error
}

var (
	_ TokenizerGroup = (*Pool)(nil)
	_ TokenizerGroup = (*Inline)(nil)
)
