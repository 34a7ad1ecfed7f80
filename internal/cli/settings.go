package cli

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"tokpool/internal/config"
	"tokpool/internal/pool"
)

// CLI defaults for settings the pool requires.
const (
	defaultAddr                  = ":8080"
	defaultPoolSize              = 4
	defaultMaxLoadingConcurrency = 2
	defaultBaseTokenizer         = "cl100k_base"
)

// poolFlags binds the pool tunables shared by serve and encode.
type poolFlags struct {
	poolSize       int
	maxLoading     int
	maxInputLength int
	baseTokenizer  string
	adaptersDir    string
}

func (f *poolFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&f.poolSize, "pool-size", envInt("TOKPOOL_POOL_SIZE", defaultPoolSize), "Encode workers and adapter cache capacity")
	fs.IntVar(&f.maxLoading, "max-loading-concurrency", defaultMaxLoadingConcurrency, "Adapter tokenizer loads allowed at once")
	fs.IntVar(&f.maxInputLength, "max-input-length", 0, "Default max input tokens (0 = unbounded)")
	fs.StringVar(&f.baseTokenizer, "base-tokenizer", envStr("TOKPOOL_BASE_TOKENIZER", defaultBaseTokenizer), "Base tokenizer: builtin encoding or descriptor path")
	fs.StringVar(&f.adaptersDir, "adapters-dir", envStr("TOKPOOL_ADAPTERS_DIR", ""), "Directory of adapter descriptor files")
}

// apply overlays flags the user set explicitly onto cfg, and fills settings
// still unset from flag defaults.
func (f *poolFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("pool-size") || cfg.PoolSize == 0 {
		cfg.PoolSize = f.poolSize
	}
	if fs.Changed("max-loading-concurrency") || cfg.MaxLoadingConcurrency == 0 {
		cfg.MaxLoadingConcurrency = f.maxLoading
	}
	if fs.Changed("max-input-length") {
		cfg.MaxInputLength = f.maxInputLength
	}
	if fs.Changed("base-tokenizer") || cfg.BaseTokenizer == "" {
		cfg.BaseTokenizer = f.baseTokenizer
	}
	if fs.Changed("adapters-dir") || cfg.AdaptersDir == "" {
		cfg.AdaptersDir = f.adaptersDir
	}
}

// poolConfig maps file settings onto pool.Config. Zero durations are left for
// the pool to default.
func poolConfig(c config.Config, log zerolog.Logger) pool.Config {
	return pool.Config{
		PoolSize:              c.PoolSize,
		MaxLoadingConcurrency: c.MaxLoadingConcurrency,
		MaxInputLength:        c.MaxInputLength,
		BaseTokenizer:         c.BaseTokenizer,
		MaxQueueDepth:         c.MaxQueueDepth,
		DispatchTimeout:       c.DispatchTimeout.D(),
		EncodeTimeout:         c.EncodeTimeout.D(),
		ProbeTimeout:          c.ProbeTimeout.D(),
		HealthInterval:        c.HealthInterval.D(),
		RestartInterval:       c.RestartInterval.D(),
		RestartBurst:          c.RestartBurst,
		Logger:                &log,
	}
}

// shutdownTimeout bounds graceful HTTP shutdown.
var shutdownTimeout = 5 * time.Second
