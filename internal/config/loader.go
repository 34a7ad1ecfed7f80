package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"tokpool/internal/common/fsutil"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in the CLI
// or the pool.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	PoolSize              int    `json:"pool_size" yaml:"pool_size" toml:"pool_size"`
	MaxLoadingConcurrency int    `json:"max_loading_concurrency" yaml:"max_loading_concurrency" toml:"max_loading_concurrency"`
	MaxInputLength        int    `json:"max_input_length" yaml:"max_input_length" toml:"max_input_length"`
	BaseTokenizer         string `json:"base_tokenizer" yaml:"base_tokenizer" toml:"base_tokenizer"`

	MaxQueueDepth   int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	DispatchTimeout Duration `json:"dispatch_timeout" yaml:"dispatch_timeout" toml:"dispatch_timeout"`
	EncodeTimeout   Duration `json:"encode_timeout" yaml:"encode_timeout" toml:"encode_timeout"`
	ProbeTimeout    Duration `json:"probe_timeout" yaml:"probe_timeout" toml:"probe_timeout"`
	HealthInterval  Duration `json:"health_interval" yaml:"health_interval" toml:"health_interval"`
	RestartInterval Duration `json:"restart_interval" yaml:"restart_interval" toml:"restart_interval"`
	RestartBurst    int      `json:"restart_burst" yaml:"restart_burst" toml:"restart_burst"`

	// AdaptersDir holds adapter descriptor files; it is scanned at startup and
	// watched for changes when WatchAdapters is set.
	AdaptersDir   string   `json:"adapters_dir" yaml:"adapters_dir" toml:"adapters_dir"`
	WatchAdapters bool     `json:"watch_adapters" yaml:"watch_adapters" toml:"watch_adapters"`
	CORSOrigins   []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Duration is a time.Duration written as a Go duration string ("250ms", "5s")
// in config files.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if cfg.AdaptersDir, err = fsutil.ExpandHome(cfg.AdaptersDir); err != nil {
		return cfg, err
	}
	if cfg.BaseTokenizer, err = fsutil.ExpandHome(cfg.BaseTokenizer); err != nil {
		return cfg, err
	}
	return cfg, nil
}
