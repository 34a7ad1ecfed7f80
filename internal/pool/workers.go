package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tokpool/internal/tokenizer"
	"tokpool/pkg/types"
)

// Worker states reported by Status.
const (
	workerReady     = "ready"
	workerUnhealthy = "unhealthy"
)

type job struct {
	tok    tokenizer.Tokenizer
	prompt string
	reqID  string
	// result is buffered so a worker never blocks on a caller that gave up.
	result chan jobResult
}

type jobResult struct {
	tokens []int
	err    error
}

// worker is one encode goroutine. A worker that fails is never reused; its
// slot gets a fresh worker on restart.
type worker struct {
	id       int
	restarts int
	probe    chan chan struct{}
	done     chan struct{}
	healthy  atomic.Bool
	jobs     atomic.Uint64
}

func newWorker(id, restarts int) *worker {
	w := &worker{id: id, restarts: restarts, probe: make(chan chan struct{}), done: make(chan struct{})}
	w.healthy.Store(true)
	return w
}

// workerPool runs PoolSize workers fed from one unbuffered job channel, so a
// job is handed off only to an idle worker.
type workerPool struct {
	mu      sync.Mutex // guards workers slot replacement
	workers []*worker

	jobs    chan job
	queueCh chan struct{}

	dispatchTimeout time.Duration
	encodeTimeout   time.Duration

	limiter   *rate.Limiter
	unhealthy atomic.Int32
	restarts  atomic.Uint64

	quit   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup

	log zerolog.Logger
	pub EventPublisher
}

func newWorkerPool(cfg Config, log zerolog.Logger, pub EventPublisher) *workerPool {
	p := &workerPool{
		workers:         make([]*worker, cfg.PoolSize),
		jobs:            make(chan job),
		queueCh:         make(chan struct{}, cfg.MaxQueueDepth),
		dispatchTimeout: cfg.DispatchTimeout,
		encodeTimeout:   cfg.EncodeTimeout,
		limiter:         rate.NewLimiter(rate.Every(cfg.RestartInterval), cfg.RestartBurst),
		quit:            make(chan struct{}),
		log:             log,
		pub:             pub,
	}
	for i := range p.workers {
		p.workers[i] = newWorker(i, 0)
		p.start(p.workers[i])
	}
	workersHealthy.Set(float64(cfg.PoolSize))
	return p
}

func (p *workerPool) start(w *worker) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(w.done)
		p.run(w)
	}()
}

func (p *workerPool) run(w *worker) {
	for {
		select {
		case <-p.quit:
			return
		case reply := <-w.probe:
			reply <- struct{}{}
		case j := <-p.jobs:
			if !p.execute(w, j) {
				return
			}
		}
	}
}

// execute runs one job. It returns false when the worker failed and must exit.
func (p *workerPool) execute(w *worker, j job) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("panic: %v", r)
			p.fail(w, cause, j.reqID)
			j.result <- jobResult{err: ErrPoolUnhealthy(fmt.Sprintf("worker %d failed", w.id), cause)}
			ok = false
		}
	}()
	tokens, err := j.tok.Encode(j.prompt)
	w.jobs.Add(1)
	if err != nil {
		err = fmt.Errorf("encode with %s: %w", j.tok.Name(), err)
	}
	j.result <- jobResult{tokens: tokens, err: err}
	return true
}

func (p *workerPool) fail(w *worker, cause error, reqID string) {
	if !w.healthy.Swap(false) {
		return
	}
	p.unhealthy.Add(1)
	workersHealthy.Dec()
	p.pub.Publish(Event{Name: EventWorkerFailed, Fields: map[string]any{"worker": w.id, "error": cause.Error(), "request_id": reqID}})
	p.log.Error().Err(cause).Str("event", EventWorkerFailed).Int("worker", w.id).Str("request_id", reqID).Msg("encode worker failed")
}

// restartUnhealthy replaces failed workers, as many as the restart rate limit
// allows, and returns how many were restarted.
func (p *workerPool) restartUnhealthy() int {
	if p.unhealthy.Load() == 0 || p.closed.Load() {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for i, w := range p.workers {
		if w.healthy.Load() {
			continue
		}
		if !p.limiter.Allow() {
			p.log.Warn().Int("worker", i).Msg("worker restart rate limited")
			break
		}
		nw := newWorker(i, w.restarts+1)
		p.workers[i] = nw
		p.start(nw)
		p.unhealthy.Add(-1)
		p.restarts.Add(1)
		workersHealthy.Inc()
		workerRestartsTotal.Inc()
		p.pub.Publish(Event{Name: EventWorkerRestarted, Fields: map[string]any{"worker": i, "restarts": nw.restarts}})
		p.log.Info().Str("event", EventWorkerRestarted).Int("worker", i).Int("restarts", nw.restarts).Msg("encode worker restarted")
		n++
	}
	return n
}

func (p *workerPool) healthyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.workers {
		if w.healthy.Load() {
			n++
		}
	}
	return n
}

func (p *workerPool) snapshot() []*worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// dispatch reserves a queue slot, hands the job to an idle worker and waits
// for its result. Reserving and handing off share one DispatchTimeout
// deadline; a pool that cannot take the job in time is reported unhealthy
// instead of blocking the caller.
func (p *workerPool) dispatch(ctx context.Context, tok tokenizer.Tokenizer, prompt, reqID string) ([]int, error) {
	if p.closed.Load() {
		return nil, ErrPoolUnhealthy("pool closed", nil)
	}
	p.restartUnhealthy()
	if p.healthyCount() == 0 {
		dispatchRejectionsTotal.WithLabelValues("no_workers").Inc()
		return nil, ErrPoolUnhealthy("no running workers", nil)
	}

	timer := time.NewTimer(p.dispatchTimeout)
	defer timer.Stop()

	// Try to reserve a queue slot with timeout
	select {
	case p.queueCh <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, ErrPoolUnhealthy("pool closed", nil)
	case <-timer.C:
		dispatchRejectionsTotal.WithLabelValues("queue").Inc()
		return nil, ErrPoolUnhealthy(fmt.Sprintf("dispatch queue full (%d waiting) for %s", cap(p.queueCh), p.dispatchTimeout), nil)
	}

	j := job{tok: tok, prompt: prompt, reqID: reqID, result: make(chan jobResult, 1)}
	select {
	case p.jobs <- j:
		<-p.queueCh
	case <-ctx.Done():
		<-p.queueCh
		return nil, ctx.Err()
	case <-p.quit:
		<-p.queueCh
		return nil, ErrPoolUnhealthy("pool closed", nil)
	case <-timer.C:
		<-p.queueCh
		dispatchRejectionsTotal.WithLabelValues("handoff").Inc()
		return nil, ErrPoolUnhealthy(fmt.Sprintf("no worker accepted job within %s", p.dispatchTimeout), nil)
	}

	wait := time.NewTimer(p.encodeTimeout)
	defer wait.Stop()
	select {
	case r := <-j.result:
		return r.tokens, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wait.C:
		dispatchRejectionsTotal.WithLabelValues("encode").Inc()
		return nil, ErrPoolUnhealthy(fmt.Sprintf("encode did not finish within %s", p.encodeTimeout), nil)
	}
}

// queueLen returns the number of callers waiting for a worker.
func (p *workerPool) queueLen() int { return len(p.queueCh) }

func (p *workerPool) close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.quit)
	p.wg.Wait()
	workersHealthy.Set(0)
}

func (p *workerPool) status() []types.WorkerStatus {
	ws := p.snapshot()
	out := make([]types.WorkerStatus, 0, len(ws))
	for _, w := range ws {
		state := workerReady
		if !w.healthy.Load() {
			state = workerUnhealthy
		}
		out = append(out, types.WorkerStatus{ID: w.id, State: state, Jobs: w.jobs.Load(), Restarts: w.restarts})
	}
	return out
}

// ping probes one worker. A worker busy with a long encode misses the probe.
func (w *worker) ping(ctx context.Context, timeout time.Duration) error {
	if !w.healthy.Load() {
		return ErrPoolUnhealthy(fmt.Sprintf("worker %d is not running", w.id), nil)
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	reply := make(chan struct{}, 1)
	select {
	case w.probe <- reply:
	case <-w.done:
		return ErrPoolUnhealthy(fmt.Sprintf("worker %d is not running", w.id), nil)
	case <-t.C:
		return probeTimeoutError{worker: w.id, timeout: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-t.C:
		return probeTimeoutError{worker: w.id, timeout: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
