package tokenizer

// Tokenizer is a loaded, immutable tokenizer handle.
//
// Implementations must be safe for concurrent use: Encode and Decode never
// mutate the handle.
type Tokenizer interface {
	// Encode converts text to token IDs.
	Encode(text string) ([]int, error)

	// Decode converts token IDs back to text.
	Decode(tokens []int) (string, error)

	// VocabSize returns the total vocabulary size, special tokens included.
	VocabSize() int

	// Name identifies the vocabulary (encoding name or descriptor path).
	Name() string

	// MaxInputLength returns the tokenizer's own input bound, or 0 when the
	// tokenizer does not define one.
	MaxInputLength() int
}

// TokenID looks up the id of an exact token string, special tokens included.
// It reports false when the vocabulary has no such token.
type TokenID interface {
	TokenID(token string) (int, bool)
}
