package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// healthMonitor probes workers on demand and, when an interval is set, on a
// ticker. It only reports; restarting is left to dispatch and the caller.
type healthMonitor struct {
	workers  *workerPool
	timeout  time.Duration
	interval time.Duration
	log      zerolog.Logger
	pub      EventPublisher

	// last is -1 before the first periodic check, then 0 or 1.
	last     atomic.Int32
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newHealthMonitor(workers *workerPool, timeout, interval time.Duration, log zerolog.Logger, pub EventPublisher) *healthMonitor {
	h := &healthMonitor{
		workers:  workers,
		timeout:  timeout,
		interval: interval,
		log:      log,
		pub:      pub,
		stopCh:   make(chan struct{}),
	}
	h.last.Store(-1)
	return h
}

// probeAll probes every worker concurrently and returns one error per failed
// worker.
func (h *healthMonitor) probeAll(ctx context.Context) []error {
	ws := h.workers.snapshot()
	errs := make([]error, len(ws))
	var wg sync.WaitGroup
	for i, w := range ws {
		wg.Add(1)
		go func(i int, w *worker) {
			defer wg.Done()
			errs[i] = w.ping(ctx, h.timeout)
		}(i, w)
	}
	wg.Wait()
	out := errs[:0]
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

func (h *healthMonitor) ping(ctx context.Context) bool {
	if h.workers.closed.Load() {
		return false
	}
	return len(h.probeAll(ctx)) == 0
}

func (h *healthMonitor) check(ctx context.Context) error {
	if h.workers.closed.Load() {
		return ErrPoolUnhealthy("pool closed", nil)
	}
	errs := h.probeAll(ctx)
	if len(errs) == 0 {
		return nil
	}
	return ErrPoolUnhealthy("worker probe failed", errors.Join(errs...))
}

func (h *healthMonitor) start() {
	if h.interval <= 0 {
		return
	}
	h.wg.Add(1)
	go h.monitorLoop()
}

func (h *healthMonitor) stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}

func (h *healthMonitor) monitorLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.runCheck()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.runCheck()
		}
	}
}

// runCheck records one health check and publishes a transition event.
func (h *healthMonitor) runCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout*2)
	defer cancel()
	err := h.check(ctx)
	var cur int32
	if err == nil {
		cur = 1
	}
	poolHealthy.Set(float64(cur))
	prev := h.last.Swap(cur)
	if prev == cur {
		return
	}
	fields := map[string]any{"healthy": cur == 1}
	if err != nil {
		fields["error"] = err.Error()
		h.log.Warn().Err(err).Str("event", EventHealthChanged).Msg("tokenizer pool unhealthy")
	} else if prev != -1 {
		h.log.Info().Str("event", EventHealthChanged).Msg("tokenizer pool healthy")
	}
	h.pub.Publish(Event{Name: EventHealthChanged, Fields: fields})
}
