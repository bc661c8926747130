// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-core/affinity"
	"github.com/momentics/hioload-core/api"
	internal "github.com/momentics/hioload-core/internal/concurrency"
	"github.com/momentics/hioload-core/report"
)

// DefaultJoinTimeout bounds the graceful join performed by Stop.
const DefaultJoinTimeout = time.Second

// ThreadOption configures a Thread at creation.
type ThreadOption func(*threadConfig)

type threadConfig struct {
	name        string
	detached    bool
	joinTimeout time.Duration
}

// WithName sets the OS thread name (truncated to 15 bytes by the kernel).
func WithName(name string) ThreadOption {
	return func(c *threadConfig) { c.name = name }
}

// WithDetached creates a thread that cannot be joined.
func WithDetached() ThreadOption {
	return func(c *threadConfig) { c.detached = true }
}

// WithJoinTimeout overrides the bounded join used by Stop. A non-positive
// d keeps DefaultJoinTimeout.
func WithJoinTimeout(d time.Duration) ThreadOption {
	return func(c *threadConfig) {
		if d > 0 {
			c.joinTimeout = d
		}
	}
}

// DeadlineParams are the SCHED_DEADLINE reservation parameters.
type DeadlineParams struct {
	Runtime  time.Duration
	Deadline time.Duration
	Period   time.Duration
}

// Thread runs a procedure on its own OS thread. The goroutine stays locked to
// that thread for its whole life, so the OS thread exits with it and
// per-thread attributes (affinity, policy, nice) never leak to other goroutines.
type Thread struct {
	name        string
	joinTimeout time.Duration
	detached    atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	started *Event
	tid     int
	done    chan struct{}
	result  any

	mu       sync.Mutex
	deadline DeadlineParams

	log zerolog.Logger
}

// NewThread starts fn(ctx, param) on a new OS thread.
func NewThread(fn api.ThreadFunc, param any, opts ...ThreadOption) (*Thread, error) {
	if fn == nil {
		return nil, misuse("NewThread", api.ErrInvalidArgument, "nil thread procedure")
	}
	cfg := threadConfig{joinTimeout: DefaultJoinTimeout}
	for _, o := range opts {
		o(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Thread{
		name:        cfg.name,
		joinTimeout: cfg.joinTimeout,
		ctx:         ctx,
		cancel:      cancel,
		started:     NewEvent(WithManualReset()),
		done:        make(chan struct{}),
		log:         report.Component("thread"),
	}
	t.detached.Store(cfg.detached)
	go t.run(fn, param)
	return t, nil
}

func (t *Thread) run(fn api.ThreadFunc, param any) {
	// never unlocked: the OS thread is torn down when this goroutine returns
	runtime.LockOSThread()

	t.tid = internal.Gettid()
	if t.name != "" {
		if err := internal.SetThreadName(t.name); err != nil {
			report.Warn("Thread.run", "cannot set thread name "+t.name, err)
		}
	}
	t.started.Signal()

	defer close(t.done)
	defer t.cancel()
	defer func() {
		if r := recover(); r != nil {
			t.result = nil
			report.Fatal(api.NewStateError("Thread.run", api.ErrPanic, fmt.Sprintf("thread %q: %v", t.name, r)))
		}
	}()
	t.log.Debug().Str("name", t.name).Int("tid", t.tid).Msg("thread started")
	t.result = fn(t.ctx, param)
}

// Tid returns the OS thread id, blocking until the thread has recorded it.
func (t *Thread) Tid() int {
	t.started.Wait(0)
	return t.tid
}

// Name returns the name given at creation.
func (t *Thread) Name() string { return t.name }

// Detached reports whether the thread can no longer be joined.
func (t *Thread) Detached() bool { return t.detached.Load() }

// Done is closed when the procedure has returned.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Running reports whether the procedure is still executing.
func (t *Thread) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// SetNice sets the niceness of the thread.
func (t *Thread) SetNice(nice int) error {
	if err := internal.SetNice(t.Tid(), nice); err != nil {
		return osFailure("Thread.SetNice", fmt.Sprintf("cannot set nice %d", nice), err)
	}
	return nil
}

// Nice returns the niceness of the thread.
func (t *Thread) Nice() (int, error) {
	n, err := internal.Nice(t.Tid())
	if err != nil {
		return 0, osFailure("Thread.Nice", "cannot read nice", err)
	}
	return n, nil
}

// SetAffinity restricts the thread to the cores in mask; 0 means all cores.
func (t *Thread) SetAffinity(mask affinity.CoreMask) error {
	if err := affinity.SetThreadAffinity(t.Tid(), mask); err != nil {
		return osFailure("Thread.SetAffinity", "cannot set affinity "+mask.String(), err)
	}
	return nil
}

// Affinity returns the current core mask of the thread.
func (t *Thread) Affinity() (affinity.CoreMask, error) {
	m, err := affinity.ThreadAffinity(t.Tid())
	if err != nil {
		return 0, osFailure("Thread.Affinity", "cannot read affinity", err)
	}
	return m, nil
}

// SetDeadlineParams records the SCHED_DEADLINE reservation and applies it
// when the thread already runs under the deadline model.
func (t *Thread) SetDeadlineParams(p DeadlineParams) error {
	t.mu.Lock()
	t.deadline = p
	t.mu.Unlock()
	model, err := t.SchedulingModel()
	if err != nil {
		return err
	}
	if model == api.SchedDeadline {
		return t.SetSchedulingModel(api.SchedDeadline, 0)
	}
	return nil
}

// SetSchedulingModel changes the kernel policy. Time-shared models force a
// priority of 0.
func (t *Thread) SetSchedulingModel(model api.SchedulingModel, priority int) error {
	policy, ok := policyOf(model)
	if !ok {
		return misuse("Thread.SetSchedulingModel", api.ErrInvalidArgument, "unknown scheduling model "+model.String())
	}
	if !model.IsRealtime() || model == api.SchedDeadline {
		priority = 0
	}
	p := internal.SchedParams{Policy: policy, Priority: priority}
	if model == api.SchedDeadline {
		t.mu.Lock()
		p.Runtime = uint64(t.deadline.Runtime)
		p.Deadline = uint64(t.deadline.Deadline)
		p.Period = uint64(t.deadline.Period)
		t.mu.Unlock()
	}
	if err := internal.SetSched(t.Tid(), p); err != nil {
		return osFailure("Thread.SetSchedulingModel",
			fmt.Sprintf("cannot set model %s priority %d", model, priority), err)
	}
	return nil
}

// SchedulingModel returns the current kernel policy.
func (t *Thread) SchedulingModel() (api.SchedulingModel, error) {
	p, err := internal.GetSched(t.Tid())
	if err != nil {
		return api.SchedDefault, osFailure("Thread.SchedulingModel", "cannot read scheduling attributes", err)
	}
	return modelOf(p.Policy), nil
}

// SetSchedulingPriority changes the priority while keeping the current model.
func (t *Thread) SetSchedulingPriority(priority int) error {
	model, err := t.SchedulingModel()
	if err != nil {
		return err
	}
	return t.SetSchedulingModel(model, priority)
}

// SchedulingPriority returns the real-time priority (0 for time-shared models).
func (t *Thread) SchedulingPriority() (int, error) {
	p, err := internal.GetSched(t.Tid())
	if err != nil {
		return 0, osFailure("Thread.SchedulingPriority", "cannot read scheduling attributes", err)
	}
	return p.Priority, nil
}

// ReturnValue joins the thread and yields the procedure's result.
func (t *Thread) ReturnValue() (any, error) {
	if t.detached.Load() {
		return nil, misuse("Thread.ReturnValue", api.ErrDetached, "join of detached thread "+t.name)
	}
	<-t.done
	return t.result, nil
}

// Join waits up to timeout (0 = forever) for the procedure to return.
func (t *Thread) Join(timeout time.Duration) bool {
	if timeout <= 0 {
		<-t.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

// Stop requests the procedure to stop by cancelling its context and waits up
// to the join timeout. A thread that does not exit in time is detached.
// It reports whether the thread was joined.
func (t *Thread) Stop() bool {
	t.cancel()
	if t.detached.Load() {
		return false
	}
	if t.Join(t.joinTimeout) {
		return true
	}
	t.detached.Store(true)
	report.Warn("Thread.Stop", fmt.Sprintf("thread %q (tid %d) did not exit within %s, detached", t.name, t.Tid(), t.joinTimeout), nil)
	return false
}

func policyOf(m api.SchedulingModel) (int, bool) {
	switch m {
	case api.SchedDefault:
		return internal.PolicyNormal, true
	case api.SchedBatch:
		return internal.PolicyBatch, true
	case api.SchedIdle:
		return internal.PolicyIdle, true
	case api.SchedFIFO:
		return internal.PolicyFIFO, true
	case api.SchedRoundRobin:
		return internal.PolicyRR, true
	case api.SchedDeadline:
		return internal.PolicyDeadline, true
	}
	return 0, false
}

func modelOf(policy int) api.SchedulingModel {
	switch policy {
	case internal.PolicyBatch:
		return api.SchedBatch
	case internal.PolicyIdle:
		return api.SchedIdle
	case internal.PolicyFIFO:
		return api.SchedFIFO
	case internal.PolicyRR:
		return api.SchedRoundRobin
	case internal.PolicyDeadline:
		return api.SchedDeadline
	}
	return api.SchedDefault
}
