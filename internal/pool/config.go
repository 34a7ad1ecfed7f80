package pool

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tokpool/internal/tokenizer"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth   = 64
	defaultDispatchTimeout = 5 * time.Second
	defaultEncodeTimeout   = 30 * time.Second
	defaultProbeTimeout    = 500 * time.Millisecond
	defaultRestartInterval = time.Second
	defaultRestartBurst    = 3
)

// Config encapsulates all tunables for pool construction. It is copied at
// construction and never changes afterwards.
type Config struct {
	// PoolSize is both the resident worker count and the adapter cache capacity.
	PoolSize int
	// MaxLoadingConcurrency caps adapter tokenizer loads running at once.
	MaxLoadingConcurrency int
	// MaxInputLength is the default token bound; 0 means unbounded.
	MaxInputLength int
	// BaseTokenizer is the load source of the always-resident base tokenizer.
	BaseTokenizer string

	// Dispatch
	MaxQueueDepth   int
	DispatchTimeout time.Duration
	EncodeTimeout   time.Duration

	// Health and restart policy
	ProbeTimeout    time.Duration
	RestartInterval time.Duration
	RestartBurst    int
	// HealthInterval enables the periodic monitor when > 0.
	HealthInterval time.Duration

	Loader    tokenizer.Loader
	Publisher EventPublisher
	Logger    *zerolog.Logger
}

// withDefaults fills unset optional fields. Required fields are left alone so
// validate can report them.
func (c Config) withDefaults() Config {
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = defaultDispatchTimeout
	}
	if c.EncodeTimeout <= 0 {
		c.EncodeTimeout = defaultEncodeTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.RestartInterval <= 0 {
		c.RestartInterval = defaultRestartInterval
	}
	if c.RestartBurst <= 0 {
		c.RestartBurst = defaultRestartBurst
	}
	if c.Loader == nil {
		c.Loader = tokenizer.DefaultLoader()
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.Logger == nil {
		l := zerolog.Nop()
		c.Logger = &l
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.PoolSize < 1:
		return ErrConfiguration(fmt.Sprintf("pool size must be >= 1, got %d", c.PoolSize), nil)
	case c.MaxLoadingConcurrency < 1:
		return ErrConfiguration(fmt.Sprintf("max loading concurrency must be >= 1, got %d", c.MaxLoadingConcurrency), nil)
	case c.MaxInputLength < 0:
		return ErrConfiguration(fmt.Sprintf("max input length must be >= 0, got %d", c.MaxInputLength), nil)
	case c.BaseTokenizer == "":
		return ErrConfiguration("base tokenizer is required", nil)
	case c.HealthInterval < 0:
		return ErrConfiguration(fmt.Sprintf("health interval must be >= 0, got %s", c.HealthInterval), nil)
	}
	return nil
}
