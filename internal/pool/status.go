package pool

import (
	"time"

	"tokpool/pkg/types"
)

// Status builds a detailed status response for /status.
func (p *Pool) Status() types.StatusResponse {
	resp := p.statusBase()
	resp.Workers = p.workers.status()
	resp.QueueLen = p.workers.queueLen()
	resp.MaxQueueDepth = p.cfg.MaxQueueDepth
	resp.RestartsTotal = p.workers.restarts.Load()
	switch {
	case p.workers.closed.Load():
		resp.State = string(StateStopped)
	case p.workers.unhealthy.Load() > 0:
		resp.State = string(StateDegraded)
	}
	return resp
}

// Status builds a detailed status response for /status.
func (g *Inline) Status() types.StatusResponse {
	resp := g.statusBase()
	resp.Workers = []types.WorkerStatus{}
	return resp
}

func (c *core) statusBase() types.StatusResponse {
	adapters, loads, evictions := c.cache.snapshot()
	state := StateReady
	if c.ctx.Err() != nil {
		state = StateStopped
	}
	return types.StatusResponse{
		State:          string(state),
		BaseTokenizer:  c.base.Name(),
		PoolSize:       c.cfg.PoolSize,
		MaxInputLength: c.cfg.MaxInputLength,
		Adapters:       adapters,
		LoadsTotal:     loads,
		EvictionsTotal: evictions,
		UptimeSeconds:  int64(time.Since(c.started) / time.Second),
	}
}
