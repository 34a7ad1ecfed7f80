package tokenizer

import (
	"context"
	"fmt"
	"path/filepath"
)

// Loader turns a load source into a tokenizer handle. The pool decides when
// to call it and caches the result; the loader only decides how a source is
// located and materialized.
type Loader interface {
	Load(ctx context.Context, source string) (Tokenizer, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, source string) (Tokenizer, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, source string) (Tokenizer, error) {
	return f(ctx, source)
}

// fileLoader resolves builtin encoding names and descriptor files.
type fileLoader struct{}

// DefaultLoader returns the loader used when none is configured. A source is
// either a builtin encoding name or a path to a descriptor file.
func DefaultLoader() Loader { return fileLoader{} }

func (fileLoader) Load(ctx context.Context, source string) (Tokenizer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if source == "" {
		return nil, fmt.Errorf("empty tokenizer source")
	}
	if IsBuiltin(source) {
		return Builtin(source)
	}
	if !IsDescriptorPath(source) {
		return nil, fmt.Errorf("unknown tokenizer source %q (want one of %v or a descriptor file)", source, BuiltinNames())
	}
	d, err := LoadDescriptor(source)
	if err != nil {
		return nil, err
	}
	return d.Build(source, filepath.Dir(source))
}
