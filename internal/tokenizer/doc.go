// Package tokenizer provides the tokenizer handles served by the pool.
//
// A handle is an immutable, loaded tokenizer. The package does not implement
// byte-pair encoding itself; it wraps github.com/pkoukk/tiktoken-go and adds
// the pieces the pool needs on top of it:
//   - builtin encodings (cl100k_base, o200k_base, p50k_base, p50k_edit,
//     r50k_base) resolved from the offline rank tables, plus byte_level, a
//     256-entry vocabulary that needs no rank files at all
//   - adapter descriptors (.yaml/.yml/.json/.toml) that pick a base encoding
//     or a .tiktoken ranks file, add tokens and set a max input length
//   - a Loader that turns a load source (builtin name or descriptor path)
//     into a handle
//
// Example usage:
//
//	tok, err := tokenizer.DefaultLoader().Load(ctx, "cl100k_base")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ids, err := tok.Encode("Hello, world!")
package tokenizer
