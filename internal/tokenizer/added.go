package tokenizer

import (
	"fmt"
	"sort"
	"strings"
)

// withAddedTokens layers extra whole-string tokens over a base vocabulary,
// the way adapters extend a base model's tokenizer. An added token is always
// emitted as its own id; the text between added tokens goes to the base.
type withAddedTokens struct {
	base     Tokenizer
	name     string
	ids      map[string]int
	byID     map[int]string
	ordered  []string // longest first so overlapping tokens match greedily
	maxInput int
}

func newWithAddedTokens(base Tokenizer, name string, added map[string]int, maxInput int) (*withAddedTokens, error) {
	w := &withAddedTokens{
		base:     base,
		name:     name,
		ids:      make(map[string]int, len(added)),
		byID:     make(map[int]string, len(added)),
		maxInput: maxInput,
	}
	for tok, id := range added {
		if tok == "" {
			return nil, fmt.Errorf("tokenizer %q: empty added token", name)
		}
		if id < base.VocabSize() {
			return nil, fmt.Errorf("tokenizer %q: added token %q id %d collides with base vocabulary (size %d)", name, tok, id, base.VocabSize())
		}
		if prev, dup := w.byID[id]; dup {
			return nil, fmt.Errorf("tokenizer %q: added tokens %q and %q share id %d", name, prev, tok, id)
		}
		w.ids[tok] = id
		w.byID[id] = tok
		w.ordered = append(w.ordered, tok)
	}
	sort.Slice(w.ordered, func(i, j int) bool {
		if len(w.ordered[i]) != len(w.ordered[j]) {
			return len(w.ordered[i]) > len(w.ordered[j])
		}
		return w.ordered[i] < w.ordered[j]
	})
	return w, nil
}

// nextAdded finds the earliest added token in s, preferring the longest at a tie.
func (w *withAddedTokens) nextAdded(s string) (int, string) {
	best, bestTok := -1, ""
	for _, tok := range w.ordered {
		i := strings.Index(s, tok)
		if i < 0 {
			continue
		}
		if best < 0 || i < best {
			best, bestTok = i, tok
		}
	}
	return best, bestTok
}

func (w *withAddedTokens) Encode(text string) ([]int, error) {
	var out []int
	for len(text) > 0 {
		i, tok := w.nextAdded(text)
		if i < 0 {
			ids, err := w.base.Encode(text)
			if err != nil {
				return nil, err
			}
			return append(out, ids...), nil
		}
		if i > 0 {
			ids, err := w.base.Encode(text[:i])
			if err != nil {
				return nil, err
			}
			out = append(out, ids...)
		}
		out = append(out, w.ids[tok])
		text = text[i+len(tok):]
	}
	if out == nil {
		out = []int{}
	}
	return out, nil
}

func (w *withAddedTokens) Decode(tokens []int) (string, error) {
	var b strings.Builder
	run := make([]int, 0, len(tokens))
	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		s, err := w.base.Decode(run)
		if err != nil {
			return err
		}
		b.WriteString(s)
		run = run[:0]
		return nil
	}
	for _, id := range tokens {
		if tok, ok := w.byID[id]; ok {
			if err := flush(); err != nil {
				return "", err
			}
			b.WriteString(tok)
			continue
		}
		run = append(run, id)
	}
	if err := flush(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (w *withAddedTokens) VocabSize() int { return w.base.VocabSize() + len(w.ids) }
func (w *withAddedTokens) Name() string { return w.name }
func (w *withAddedTokens) MaxInputLength() int { return w.maxInput }

func (w *withAddedTokens) TokenID(token string) (int, bool) {
	if id, ok := w.ids[token]; ok {
		return id, true
	}
	if l, ok := w.base.(TokenID); ok {
		return l.TokenID(token)
	}
	return 0, false
}
