package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const (
	// EncodingCL100kBase is the encoding used by GPT-4 and GPT-3.5-turbo.
	EncodingCL100kBase = tiktoken.MODEL_CL100K_BASE
	// EncodingO200kBase is the encoding used by GPT-4o.
	EncodingO200kBase = tiktoken.MODEL_O200K_BASE
	// EncodingP50kBase is the encoding used by GPT-3 and Codex.
	EncodingP50kBase = tiktoken.MODEL_P50K_BASE
	// EncodingP50kEdit is the encoding used by the edit models.
	EncodingP50kEdit = tiktoken.MODEL_P50K_EDIT
	// EncodingR50kBase is the encoding used by older GPT-3 models.
	EncodingR50kBase = tiktoken.MODEL_R50K_BASE
)

// vocabSizes holds the vocabulary size of each builtin encoding, special
// tokens included. tiktoken-go does not expose it.
var vocabSizes = map[string]int{
	EncodingCL100kBase: 100277,
	EncodingO200kBase:  200019,
	EncodingP50kBase:   50281,
	EncodingP50kEdit:   50284,
	EncodingR50kBase:   50257,
}

var offlineOnce sync.Once

// useOfflineRanks makes tiktoken-go read rank tables from the embedded
// offline loader instead of downloading them.
func useOfflineRanks() {
	offlineOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
}

// TikToken wraps a pkoukk/tiktoken-go encoding.
type TikToken struct {
	encoding  *tiktoken.Tiktoken
	name      string
	vocabSize int
	maxInput  int
}

// NewTikToken creates a TikToken tokenizer for a builtin encoding name.
func NewTikToken(encodingName string) (*TikToken, error) {
	if _, ok := vocabSizes[encodingName]; !ok {
		return nil, fmt.Errorf("unknown tiktoken encoding %q", encodingName)
	}
	useOfflineRanks()
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encodingName, err)
	}
	return &TikToken{
		encoding:  encoding,
		name:      encodingName,
		vocabSize: vocabSizes[encodingName],
	}, nil
}

// NewTikTokenFromRanks builds a tokenizer from mergeable ranks, special
// tokens and a split pattern. An <|endoftext|> special token is added when
// specials is empty, because tiktoken-go requires at least one.
func NewTikTokenFromRanks(name string, ranks, specials map[string]int, pattern string) (*TikToken, error) {
	if len(ranks) == 0 {
		return nil, fmt.Errorf("tokenizer %q: empty rank table", name)
	}
	if pattern == "" {
		pattern = defaultPattern
	}
	sp := make(map[string]int, len(specials)+1)
	for k, v := range specials {
		sp[k] = v
	}
	if len(sp) == 0 {
		sp[tiktoken.ENDOFTEXT] = len(ranks)
	}
	bpe, err := tiktoken.NewCoreBPE(ranks, sp, pattern)
	if err != nil {
		return nil, fmt.Errorf("tokenizer %q: %w", name, err)
	}
	set := make(map[string]any, len(sp))
	for k := range sp {
		set[k] = true
	}
	enc := &tiktoken.Encoding{
		Name:           name,
		PatStr:         pattern,
		MergeableRanks: ranks,
		SpecialTokens:  sp,
	}
	return &TikToken{
		encoding:  tiktoken.NewTiktoken(bpe, enc, set),
		name:      name,
		vocabSize: len(ranks) + len(sp),
	}, nil
}

// Encode converts text to token IDs. Special tokens present in the text are
// encoded as their special ids.
func (t *TikToken) Encode(text string) ([]int, error) {
	return t.encoding.Encode(text, []string{"all"}, nil), nil
}

// Decode converts token IDs back to text.
func (t *TikToken) Decode(tokens []int) (string, error) {
	return t.encoding.Decode(tokens), nil
}

// VocabSize returns the total vocabulary size.
func (t *TikToken) VocabSize() int { return t.vocabSize }

// Name returns the encoding name.
func (t *TikToken) Name() string { return t.name }

// MaxInputLength returns the bound set by WithMaxInputLength, or 0.
func (t *TikToken) MaxInputLength() int { return t.maxInput }

// TokenID reports the id of token when it encodes to exactly one id.
func (t *TikToken) TokenID(token string) (int, bool) {
	ids := t.encoding.Encode(token, []string{"all"}, nil)
	if len(ids) != 1 {
		return 0, false
	}
	return ids[0], true
}

// WithMaxInputLength returns a copy of t that reports n as its input bound.
// The underlying encoding is shared; it is never mutated.
func (t *TikToken) WithMaxInputLength(n int) *TikToken {
	c := *t
	c.maxInput = n
	return &c
}
