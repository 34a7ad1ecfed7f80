package pool

import (
	"context"

	"tokpool/internal/tokenizer"
)

// Pool is the worker-backed TokenizerGroup. Encode work runs on PoolSize
// resident workers; the calling goroutine only waits.
type Pool struct {
	*core
	workers *workerPool
	monitor *healthMonitor
}

// FromConfig constructs a Pool, loading the base tokenizer eagerly and
// starting its workers. It fails with a configuration error when cfg is
// invalid or the base tokenizer cannot be loaded.
func FromConfig(cfg Config) (*Pool, error) {
	c, err := newCore(cfg)
	if err != nil {
		return nil, err
	}
	workers := newWorkerPool(c.cfg, c.log, c.pub)
	p := &Pool{
		core:    c,
		workers: workers,
		monitor: newHealthMonitor(workers, c.cfg.ProbeTimeout, c.cfg.HealthInterval, c.log, c.pub),
	}
	p.monitor.start()
	return p, nil
}

// Ping reports whether every worker answered a probe within ProbeTimeout.
func (p *Pool) Ping(ctx context.Context) bool { return p.monitor.ping(ctx) }

// CheckHealth returns a pool-unhealthy error describing every failed probe.
func (p *Pool) CheckHealth(ctx context.Context) error { return p.monitor.check(ctx) }

// GetMaxInputLength returns the token bound for ref, or false when unbounded.
func (p *Pool) GetMaxInputLength(ctx context.Context, ref AdapterRef) (int, bool) {
	return p.maxInputLength(ctx, ref)
}

// Encode tokenizes req.Prompt on a worker.
func (p *Pool) Encode(ctx context.Context, req Request) ([]int, error) {
	return p.encode(ctx, req, p.workers.dispatch)
}

// EncodeAsync runs Encode without blocking the caller.
func (p *Pool) EncodeAsync(ctx context.Context, req Request) <-chan EncodeResult {
	return encodeAsync(ctx, req, p.Encode)
}

func (p *Pool) GetTokenizer(ctx context.Context, ref AdapterRef) (tokenizer.Tokenizer, error) {
	return p.tokenizerFor(ctx, ref)
}

func (p *Pool) GetTokenizerAsync(ctx context.Context, ref AdapterRef) <-chan TokenizerResult {
	return tokenizerAsync(ctx, ref, p.GetTokenizer)
}

// RestartUnhealthy replaces failed workers subject to the restart rate limit
// and returns how many were restarted. Dispatch calls it on every request.
func (p *Pool) RestartUnhealthy() int { return p.workers.restartUnhealthy() }

// Close stops the monitor and the workers and drops cached adapters. Requests
// arriving afterwards fail as unhealthy.
func (p *Pool) Close() error {
	p.monitor.stop()
	p.workers.close()
	p.core.close()
	return nil
}
