// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-core/affinity"
	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/report"
)

// PoolOption configures a ThreadPool.
type PoolOption func(*ThreadPool)

// WithNameRoot sets the prefix of worker thread names ("<root>-<n>").
func WithNameRoot(root string) PoolOption {
	return func(p *ThreadPool) { p.nameRoot = root }
}

// WithDefaultAffinity sets the affinity used by SubmitJob and by new workers.
func WithDefaultAffinity(mask affinity.CoreMask) PoolOption {
	return func(p *ThreadPool) { p.defaultAffinity = mask }
}

// WithPoolMetrics registers pool metrics named "<prefix>_..." with reg.
func WithPoolMetrics(reg prometheus.Registerer, prefix string) PoolOption {
	return func(p *ThreadPool) {
		p.metricsReg = reg
		p.metricsPrefix = prefix
	}
}

type worker struct {
	id     int
	thread *Thread
	start  *Event

	// guarded by ThreadPool.mu
	idle     bool
	affinity affinity.CoreMask
	job      api.JobFunc
	param    any
}

// ThreadPool runs jobs on reusable worker Threads. A bounded pool holds at
// most size workers and makes submitters wait for one to become idle; an
// unbounded pool (size 0) grows instead.
type ThreadPool struct {
	mu              sync.Mutex
	workers         []*worker
	size            int
	busy            int
	defaultAffinity affinity.CoreMask
	nameRoot        string
	closing         bool

	// idle is a wake hint for blocked submitters; the worker list is the truth.
	idle    *Event
	drained *Event

	ctx    context.Context
	cancel context.CancelFunc

	metricsReg    prometheus.Registerer
	metricsPrefix string
	metrics       *poolMetrics
	log           zerolog.Logger
}

// NewThreadPool creates a pool. Bounded pools start all their workers up front.
func NewThreadPool(size int, opts ...PoolOption) (*ThreadPool, error) {
	if size < 0 {
		return nil, misuse("NewThreadPool", api.ErrInvalidArgument, fmt.Sprintf("negative pool size %d", size))
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &ThreadPool{
		size:     size,
		nameRoot: "pool",
		idle:     NewEvent(WithCounting()),
		drained:  NewEvent(WithManualReset(), WithInitialState(1)),
		ctx:      ctx,
		cancel:   cancel,
		log:      report.Component("threadpool"),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metricsReg != nil && p.metricsPrefix != "" {
		m, err := newPoolMetrics(p.metricsReg, p.metricsPrefix)
		if err != nil {
			cancel()
			return nil, osFailure("NewThreadPool", "cannot register metrics", err)
		}
		p.metrics = m
	}

	p.mu.Lock()
	for i := 0; i < size; i++ {
		if _, err := p.spawnLocked(); err != nil {
			p.mu.Unlock()
			p.Close()
			return nil, err
		}
	}
	p.mu.Unlock()
	return p, nil
}

// spawnLocked starts a new idle worker. Caller holds p.mu.
func (p *ThreadPool) spawnLocked() (*worker, error) {
	w := &worker{
		id:    len(p.workers),
		start: NewEvent(),
		idle:  true,
	}
	t, err := NewThread(p.workerLoop, w, WithName(fmt.Sprintf("%s-%d", p.nameRoot, w.id)))
	if err != nil {
		return nil, err
	}
	w.thread = t
	if p.defaultAffinity != 0 {
		if err := t.SetAffinity(p.defaultAffinity); err != nil {
			p.log.Warn().Err(err).Int("worker", w.id).Msg("default affinity not applied")
		} else {
			w.affinity = p.defaultAffinity
		}
	}
	p.workers = append(p.workers, w)
	if p.metrics != nil {
		p.metrics.workers.Set(float64(len(p.workers)))
	}
	p.log.Debug().Int("worker", w.id).Int("tid", t.Tid()).Msg("worker spawned")
	return w, nil
}

func (p *ThreadPool) workerLoop(_ context.Context, param any) any {
	w := param.(*worker)
	for {
		w.start.Wait(0)

		p.mu.Lock()
		job, arg := w.job, w.param
		w.job, w.param = nil, nil
		p.mu.Unlock()

		if job == nil {
			return nil
		}
		p.runJob(w, job, arg)
		p.release(w)
	}
}

func (p *ThreadPool) runJob(w *worker, job api.JobFunc, arg any) {
	begin := time.Now()
	defer func() {
		if r := recover(); r != nil {
			if p.metrics != nil {
				p.metrics.panics.Inc()
			}
			report.Warn("ThreadPool.runJob", fmt.Sprintf("job on worker %d panicked: %v", w.id, r), api.ErrPanic)
		}
		if p.metrics != nil {
			p.metrics.completed.Inc()
			p.metrics.duration.Observe(time.Since(begin).Seconds())
		}
	}()
	job(arg)
}

func (p *ThreadPool) release(w *worker) {
	p.mu.Lock()
	w.idle = true
	p.busy--
	if p.busy == 0 {
		p.drained.Signal()
	}
	if p.metrics != nil {
		p.metrics.busy.Set(float64(p.busy))
	}
	p.mu.Unlock()
	p.idle.Signal()
}

// claim finds an idle worker, preferring one already on mask, and marks it
// busy in the same lock hold. Bounded pools at capacity wait for a release.
func (p *ThreadPool) claim(mask affinity.CoreMask) (*worker, error) {
	for {
		p.mu.Lock()
		if p.closing {
			p.mu.Unlock()
			return nil, misuse("ThreadPool.SubmitJob", api.ErrPoolClosing, "submit on closing pool")
		}
		w := p.findIdleLocked(mask)
		if w != nil {
			p.idle.Unsignal()
		} else if p.size == 0 || len(p.workers) < p.size {
			var err error
			if w, err = p.spawnLocked(); err != nil {
				p.mu.Unlock()
				return nil, err
			}
		}
		if w != nil {
			w.idle = false
			p.busy++
			if p.busy == 1 {
				p.drained.Reset()
			}
			if p.metrics != nil {
				p.metrics.busy.Set(float64(p.busy))
			}
			p.mu.Unlock()
			return w, nil
		}
		p.mu.Unlock()

		// returns early on Close; the next pass reports ErrPoolClosing
		p.idle.WaitContext(p.ctx)
	}
}

func (p *ThreadPool) findIdleLocked(mask affinity.CoreMask) *worker {
	var fallback *worker
	for _, w := range p.workers {
		if !w.idle {
			continue
		}
		if w.affinity == mask {
			return w
		}
		if fallback == nil {
			fallback = w
		}
	}
	return fallback
}

// SubmitJob runs job(param) on a worker with the pool's default affinity.
func (p *ThreadPool) SubmitJob(job api.JobFunc, param any) error {
	p.mu.Lock()
	mask := p.defaultAffinity
	p.mu.Unlock()
	return p.SubmitJobWithAffinity(job, param, mask)
}

// SubmitJobWithAffinity runs job(param) on a worker restricted to mask.
// The worker's affinity is changed before the job starts if it differs.
func (p *ThreadPool) SubmitJobWithAffinity(job api.JobFunc, param any, mask affinity.CoreMask) error {
	if job == nil {
		return misuse("ThreadPool.SubmitJob", api.ErrInvalidArgument, "nil job")
	}
	w, err := p.claim(mask)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if w.affinity != mask {
		if err := w.thread.SetAffinity(mask); err != nil {
			p.log.Warn().Err(err).Int("worker", w.id).Str("mask", mask.String()).Msg("job runs with previous affinity")
		} else {
			w.affinity = mask
		}
	}
	w.job, w.param = job, param
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.submitted.Inc()
	}
	w.start.Signal()
	return nil
}

// WaitForIdle blocks until no worker is running a job. It does not change
// pool state, so concurrent and later callers also return.
func (p *ThreadPool) WaitForIdle() {
	p.drained.Wait(0)
}

// Size returns the number of workers currently in the pool.
func (p *ThreadPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Busy returns the number of workers running a job.
func (p *ThreadPool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// MaxSize returns the bound given at creation (0 = unbounded).
func (p *ThreadPool) MaxSize() int { return p.size }

// UpdatePoolAffinity moves every current worker, including busy ones, and
// every future default-affinity job onto mask.
func (p *ThreadPool) UpdatePoolAffinity(mask affinity.CoreMask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultAffinity = mask
	for _, w := range p.workers {
		if err := w.thread.SetAffinity(mask); err != nil {
			return err
		}
		w.affinity = mask
	}
	return nil
}

// Close rejects further submissions, waits for running jobs, then wakes and
// joins every worker.
func (p *ThreadPool) Close() error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	p.mu.Unlock()
	p.cancel()

	p.WaitForIdle()

	p.mu.Lock()
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()

	for _, w := range workers {
		w.start.Signal()
	}
	for _, w := range workers {
		if _, err := w.thread.ReturnValue(); err != nil {
			return err
		}
	}
	if p.metrics != nil {
		p.metrics.workers.Set(0)
	}
	p.log.Debug().Int("workers", len(workers)).Msg("pool closed")
	return nil
}
