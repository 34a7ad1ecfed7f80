package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tokpool/internal/config"
	"tokpool/internal/httpapi"
	"tokpool/internal/pool"
	"tokpool/internal/registry"
	"tokpool/internal/watch"
	"tokpool/pkg/types"
)

func newServeCmd(g *globals) *cobra.Command {
	var (
		pf         poolFlags
		configPath string
		addr       string
		watchDir   bool
		cors       string
	)
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the tokenizer pool with its health, status and metrics endpoints",
		Example: "  tokpoold serve --config tokpool.yaml\n  tokpoold serve --base-tokenizer o200k_base --adapters-dir ./adapters --watch-adapters",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			if configPath != "" {
				c, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = c
			}
			fs := cmd.Flags()
			pf.apply(fs, &cfg)
			if fs.Changed("addr") || cfg.Addr == "" {
				cfg.Addr = addr
			}
			if fs.Changed("watch-adapters") {
				cfg.WatchAdapters = watchDir
			}
			if fs.Changed("cors-origins") {
				cfg.CORSOrigins = splitCSV(cors)
			}
			if !fs.Changed("log-level") && cfg.LogLevel != "" {
				g.log = newLogger(cfg.LogLevel, firstNonEmpty(cfg.LogFormat, g.logFormat), cmd.ErrOrStderr())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, g.log, nil)
		},
	}
	fs := cmd.Flags()
	pf.register(fs)
	fs.StringVar(&configPath, "config", envStr("TOKPOOL_CONFIG", ""), "Config file (.yaml|.yml|.json|.toml)")
	fs.StringVar(&addr, "addr", envStr("TOKPOOL_ADDR", defaultAddr), "HTTP listen address for the ops endpoints")
	fs.BoolVar(&watchDir, "watch-adapters", envBool("TOKPOOL_WATCH_ADAPTERS", false), "Invalidate cached adapters when their descriptors change")
	fs.StringVar(&cors, "cors-origins", "", "Comma-separated allowed CORS origins (empty disables CORS)")
	return cmd
}

// service adapts a Pool and the adapters directory to httpapi.Service.
type service struct {
	*pool.Pool
	adaptersDir string
}

func (s service) ListAdapters() ([]types.Adapter, error) {
	if s.adaptersDir == "" {
		return nil, nil
	}
	return registry.LoadDir(s.adaptersDir)
}

// serve runs the pool and its ops listener until ctx is done. ready, when
// set, receives the bound listen address.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger, ready func(addr string)) error {
	p, err := pool.FromConfig(poolConfig(cfg, log))
	if err != nil {
		return err
	}
	defer p.Close()

	if cfg.AdaptersDir != "" {
		adapters, err := registry.LoadDir(cfg.AdaptersDir)
		if err != nil {
			return fmt.Errorf("adapters dir: %w", err)
		}
		log.Info().Int("adapters", len(adapters)).Str("dir", cfg.AdaptersDir).Msg("adapter descriptors discovered")
		if cfg.WatchAdapters {
			w, err := watch.New(cfg.AdaptersDir, p, 0, log)
			if err != nil {
				return fmt.Errorf("adapter watcher: %w", err)
			}
			if err := w.Start(); err != nil {
				return fmt.Errorf("adapter watcher: %w", err)
			}
			defer w.Stop()
		}
	}

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)
	if cfg.ProbeTimeout > 0 {
		httpapi.SetReadyTimeout(4 * cfg.ProbeTimeout.D())
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: httpapi.NewMux(service{Pool: p, adaptersDir: cfg.AdaptersDir})}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Str("base_tokenizer", cfg.BaseTokenizer).Msg("tokpoold listening")
		errCh <- srv.Serve(ln)
	}()
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	log.Info().Msg("tokpoold stopped")
	return nil
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
