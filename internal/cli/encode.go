package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tokpool/internal/config"
	"tokpool/internal/pool"
	"tokpool/internal/registry"
)

type encodeOutput struct {
	Adapter   string `json:"adapter,omitempty"`
	Tokens    []int  `json:"tokens"`
	Count     int    `json:"count"`
	MaxInput  int    `json:"max_input_length,omitempty"`
	Tokenizer string `json:"tokenizer"`
}

func newEncodeCmd(g *globals) *cobra.Command {
	var (
		pf      poolFlags
		adapter string
		inline  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:     "encode [flags] <prompt>",
		Short:   "Encode a prompt once and print the token ids as JSON",
		Example: "  tokpoold encode --base-tokenizer byte_level hello\n  tokpoold encode --adapters-dir ./adapters --adapter sql \"select 1\"\n  tokpoold encode --adapter sql=./adapters/sql.yaml \"select 1\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			pf.apply(cmd.Flags(), &cfg)
			ref, err := resolveAdapter(adapter, cfg.AdaptersDir)
			if err != nil {
				return err
			}
			pc := poolConfig(cfg, g.log)
			var group pool.TokenizerGroup
			if inline {
				group, err = pool.NewInline(pc)
			} else {
				group, err = pool.FromConfig(pc)
			}
			if err != nil {
				return err
			}
			defer group.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			tokens, err := group.Encode(ctx, pool.Request{Prompt: strings.Join(args, " "), Adapter: ref})
			if err != nil {
				return err
			}
			tok, err := group.GetTokenizer(ctx, ref)
			if err != nil {
				return err
			}
			out := encodeOutput{Adapter: ref.ID(), Tokens: tokens, Count: len(tokens), Tokenizer: tok.Name()}
			if n, ok := group.GetMaxInputLength(ctx, ref); ok {
				out.MaxInput = n
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(out)
		},
	}
	fs := cmd.Flags()
	pf.register(fs)
	fs.StringVar(&adapter, "adapter", "", "Adapter as id (looked up in --adapters-dir) or id=source")
	fs.BoolVar(&inline, "inline", false, "Encode on the calling goroutine instead of a worker")
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "Overall deadline")
	return cmd
}

// resolveAdapter turns the --adapter flag into a reference. An empty value is
// the base tokenizer.
func resolveAdapter(v, adaptersDir string) (pool.AdapterRef, error) {
	if v == "" {
		return pool.Base(), nil
	}
	if id, source, ok := strings.Cut(v, "="); ok {
		if id == "" || source == "" {
			return pool.AdapterRef{}, fmt.Errorf("invalid --adapter %q: want id=source", v)
		}
		return pool.Adapter(id, source), nil
	}
	if adaptersDir == "" {
		return pool.Adapter(v, ""), nil
	}
	adapters, err := registry.LoadDir(adaptersDir)
	if err != nil {
		return pool.AdapterRef{}, err
	}
	a, ok := registry.Lookup(adapters, v)
	if !ok {
		return pool.AdapterRef{}, fmt.Errorf("adapter %q not found in %s", v, adaptersDir)
	}
	return pool.Adapter(a.ID, a.Source), nil
}
