package tokenizer

import (
	"sort"
	"sync"
)

// EncodingByteLevel names the builtin byte vocabulary: one token per byte,
// ids 0..255, <|endoftext|> = 256. It needs no rank files.
const EncodingByteLevel = "byte_level"

// defaultPattern splits text into whitespace and non-whitespace runs.
const defaultPattern = `\s+|\S+`

var (
	byteLevelOnce sync.Once
	byteLevel     *TikToken
	byteLevelErr  error
)

// NewByteLevel returns the shared byte_level tokenizer.
func NewByteLevel() (*TikToken, error) {
	byteLevelOnce.Do(func() {
		ranks := make(map[string]int, 256)
		for b := 0; b < 256; b++ {
			ranks[string([]byte{byte(b)})] = b
		}
		byteLevel, byteLevelErr = NewTikTokenFromRanks(EncodingByteLevel, ranks, nil, defaultPattern)
	})
	return byteLevel, byteLevelErr
}

// Builtin loads a builtin encoding by name.
func Builtin(name string) (*TikToken, error) {
	if name == EncodingByteLevel {
		return NewByteLevel()
	}
	return NewTikToken(name)
}

// IsBuiltin reports whether name is a builtin encoding.
func IsBuiltin(name string) bool {
	if name == EncodingByteLevel {
		return true
	}
	_, ok := vocabSizes[name]
	return ok
}

// BuiltinNames lists the builtin encodings in sorted order.
func BuiltinNames() []string {
	out := []string{EncodingByteLevel}
	for k := range vocabSizes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
