package tokenizer

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Descriptor describes an adapter tokenizer on disk.
//
// Exactly one of Encoding or RanksFile selects the base vocabulary. RanksFile
// is resolved relative to the descriptor's directory.
type Descriptor struct {
	Encoding       string         `json:"encoding" yaml:"encoding" toml:"encoding"`
	RanksFile      string         `json:"ranks_file" yaml:"ranks_file" toml:"ranks_file"`
	Pattern        string         `json:"pattern" yaml:"pattern" toml:"pattern"`
	SpecialTokens  map[string]int `json:"special_tokens" yaml:"special_tokens" toml:"special_tokens"`
	AddedTokens    map[string]int `json:"added_tokens" yaml:"added_tokens" toml:"added_tokens"`
	MaxInputLength int            `json:"max_input_length" yaml:"max_input_length" toml:"max_input_length"`
}

// IsDescriptorPath reports whether path has a descriptor file extension.
func IsDescriptorPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json", ".toml":
		return true
	}
	return false
}

// LoadDescriptor reads a descriptor file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func LoadDescriptor(path string) (Descriptor, error) {
	var d Descriptor
	if path == "" {
		return d, fmt.Errorf("empty descriptor path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &d)
	case ".json":
		err = json.Unmarshal(b, &d)
	case ".toml":
		err = toml.Unmarshal(b, &d)
	default:
		return d, fmt.Errorf("unsupported descriptor extension: %s", ext)
	}
	if err != nil {
		return d, fmt.Errorf("parse descriptor %s: %w", path, err)
	}
	return d, d.validate()
}

func (d Descriptor) validate() error {
	switch {
	case d.Encoding == "" && d.RanksFile == "":
		return fmt.Errorf("descriptor needs encoding or ranks_file")
	case d.Encoding != "" && d.RanksFile != "":
		return fmt.Errorf("descriptor sets both encoding and ranks_file")
	case d.Encoding != "" && !IsBuiltin(d.Encoding):
		return fmt.Errorf("unknown encoding %q", d.Encoding)
	case d.Encoding != "" && len(d.SpecialTokens) > 0:
		return fmt.Errorf("special_tokens only apply with ranks_file; use added_tokens")
	case d.MaxInputLength < 0:
		return fmt.Errorf("max_input_length must be >= 0, got %d", d.MaxInputLength)
	}
	return nil
}

// Build materializes the tokenizer a descriptor describes. dir is the
// directory relative paths are resolved against.
func (d Descriptor) Build(name, dir string) (Tokenizer, error) {
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("tokenizer %q: %w", name, err)
	}
	var base *TikToken
	var err error
	if d.Encoding != "" {
		base, err = Builtin(d.Encoding)
	} else {
		p := d.RanksFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		var ranks map[string]int
		ranks, err = ReadRanksFile(p)
		if err == nil {
			base, err = NewTikTokenFromRanks(name, ranks, d.SpecialTokens, d.Pattern)
		}
	}
	if err != nil {
		return nil, err
	}
	if len(d.AddedTokens) == 0 {
		return base.WithMaxInputLength(d.MaxInputLength), nil
	}
	return newWithAddedTokens(base, name, d.AddedTokens, d.MaxInputLength)
}

// ReadRanksFile parses a .tiktoken rank table: one "<base64 token> <rank>"
// pair per line.
func ReadRanksFile(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ranks := make(map[string]int)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		parts := strings.Fields(text)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%s:%d: expected \"<token> <rank>\"", path, line)
		}
		tok, err := base64.StdEncoding.DecodeString(parts[0])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		rank, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		ranks[string(tok)] = rank
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ranks, nil
}
