// Package dispatch runs tasks on a fixed pool of worker goroutines fed by a
// FIFO queue.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"xyz-agents/internal/domain"
	"xyz-agents/internal/infra/tracer"
)

// Transform turns a task's input into the result handed to its callback.
type Transform func(ctx context.Context, task domain.Task) ([]float64, error)

// CopyInput is the default Transform: the result is a copy of the input.
func CopyInput(_ context.Context, task domain.Task) ([]float64, error) {
	return slices.Clone(task.Input), nil
}

type queuedTask struct {
	id       string
	task     domain.Task
	enqueued time.Time
}

// Dispatcher is a FIFO task queue served by a worker pool. Workers block on a
// condition variable until work arrives or Shutdown is called. Shutdown
// discards tasks that no worker has dequeued yet and waits for in-flight
// tasks to finish. A task whose callback never returns blocks its worker.
type Dispatcher struct {
	logger    *slog.Logger
	transform Transform
	maxQueue  int
	metrics   *Metrics
	events    domain.EventPublisher

	// lifecycle serializes Initialize and Shutdown.
	lifecycle sync.Mutex

	mu          sync.Mutex
	cond        *sync.Cond
	queue       []queuedTask
	initialized bool
	shutdown    bool
	workers     int
	wg          *sync.WaitGroup

	busy      atomic.Int64
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithTransform replaces the default CopyInput transform.
func WithTransform(t Transform) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.transform = t
		}
	}
}

// WithMaxQueueSize bounds the pending queue. Zero means unbounded.
func WithMaxQueueSize(n int) Option {
	return func(d *Dispatcher) { d.maxQueue = n }
}

// WithMetrics records activity on m.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithEventBus publishes task.failed and dispatcher.shutdown events.
func WithEventBus(p domain.EventPublisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

// New creates an uninitialized Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:    slog.Default(),
		transform: CopyInput,
	}
	d.cond = sync.NewCond(&d.mu)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Initialize starts threadCount workers; threadCount <= 0 uses one per CPU.
// A dispatcher that has been shut down may be initialized again.
func (d *Dispatcher) Initialize(threadCount int) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if threadCount <= 0 {
		threadCount = runtime.NumCPU()
	}

	d.mu.Lock()
	if d.initialized {
		d.mu.Unlock()
		return domain.WrapOp("Dispatcher.Initialize", domain.ErrAlreadyInitialized)
	}
	d.shutdown = false
	d.initialized = true
	d.workers = threadCount
	wg := &sync.WaitGroup{}
	d.wg = wg
	d.mu.Unlock()

	wg.Add(threadCount)
	for i := 0; i < threadCount; i++ {
		go d.worker(i, wg)
	}
	d.metrics.setWorkers(threadCount)
	d.logger.Info("dispatcher initialized", "workers", threadCount, "max_queue_size", d.maxQueue)
	return nil
}

// SubmitTask enqueues task and wakes one idle worker. It returns
// ErrNotInitialized before Initialize or after Shutdown, and ErrQueueFull when
// the bounded queue is at capacity. Rejected tasks are never executed.
func (d *Dispatcher) SubmitTask(task domain.Task) error {
	d.mu.Lock()
	if !d.initialized || d.shutdown {
		d.mu.Unlock()
		d.metrics.incTask(statusRejected)
		d.logger.Warn("task rejected: dispatcher not initialized", "agent_id", task.AgentID)
		return domain.WrapOp("Dispatcher.SubmitTask", domain.ErrNotInitialized)
	}
	if d.maxQueue > 0 && len(d.queue) >= d.maxQueue {
		depth := len(d.queue)
		d.mu.Unlock()
		d.metrics.incTask(statusRejected)
		d.logger.Warn("task rejected: queue full", "agent_id", task.AgentID, "queue_size", depth)
		return domain.WrapOp("Dispatcher.SubmitTask", domain.ErrQueueFull)
	}
	d.queue = append(d.queue, queuedTask{
		id:       uuid.NewString(),
		task:     task,
		enqueued: time.Now(),
	})
	depth := len(d.queue)
	d.cond.Signal()
	d.mu.Unlock()

	d.submitted.Add(1)
	d.metrics.incTask(statusSubmitted)
	d.metrics.setQueueDepth(depth)
	return nil
}

// Shutdown stops all workers. Tasks still queued are discarded without
// invoking their callbacks; tasks already dequeued run to completion.
// Shutdown is idempotent and safe to call from any goroutine.
func (d *Dispatcher) Shutdown() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.Lock()
	if !d.initialized {
		d.mu.Unlock()
		return
	}
	d.shutdown = true
	dropped := len(d.queue)
	clear(d.queue)
	d.queue = nil
	wg := d.wg
	d.cond.Broadcast()
	d.mu.Unlock()

	wg.Wait()

	d.mu.Lock()
	d.workers = 0
	d.initialized = false
	d.wg = nil
	d.mu.Unlock()

	d.dropped.Add(uint64(dropped))
	d.metrics.addDropped(dropped)
	d.metrics.setQueueDepth(0)
	d.metrics.setWorkers(0)
	d.logger.Info("dispatcher shut down", "dropped", dropped)
	if d.events != nil {
		d.events.Publish(context.Background(), domain.NewEvent(domain.EventDispatcherStopped, "",
			domain.DispatcherStoppedPayload{Dropped: dropped}))
	}
}

// QueueSize returns the number of tasks waiting for a worker.
func (d *Dispatcher) QueueSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// ActiveThreadCount returns the number of workers in the pool.
func (d *Dispatcher) ActiveThreadCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.workers
}

// Stats returns a point-in-time snapshot of dispatcher activity.
func (d *Dispatcher) Stats() domain.DispatcherStats {
	d.mu.Lock()
	st := domain.DispatcherStats{
		Initialized: d.initialized,
		Workers:     d.workers,
		Queued:      len(d.queue),
	}
	d.mu.Unlock()
	st.Busy = int(d.busy.Load())
	st.Submitted = d.submitted.Load()
	st.Completed = d.completed.Load()
	st.Failed = d.failed.Load()
	st.Dropped = d.dropped.Load()
	return st
}

func (d *Dispatcher) worker(n int, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.shutdown {
			d.cond.Wait()
		}
		if d.shutdown {
			d.mu.Unlock()
			d.logger.Debug("worker exiting", "worker", n)
			return
		}
		qt := d.queue[0]
		d.queue[0] = queuedTask{}
		d.queue = d.queue[1:]
		depth := len(d.queue)
		d.mu.Unlock()

		d.metrics.setQueueDepth(depth)
		d.execute(qt)
	}
}

func (d *Dispatcher) execute(qt queuedTask) {
	ctx, span := tracer.StartSpan(context.Background(), "dispatch.task")
	defer span.End()
	span.SetAttributes(tracer.TaskAttrs(qt.id, qt.task.AgentID, len(qt.task.Input))...)

	d.busy.Add(1)
	d.metrics.addBusy(1)
	defer func() {
		d.busy.Add(-1)
		d.metrics.addBusy(-1)
	}()

	start := time.Now()
	if err := d.run(ctx, qt); err != nil {
		d.failed.Add(1)
		d.metrics.observe(statusFailed, time.Since(start))
		tracer.RecordError(span, err)
		d.logger.Warn("task failed", "task_id", qt.id, "agent_id", qt.task.AgentID,
			"error", err, "error_code", string(domain.ErrorCodeOf(err)))
		if d.events != nil {
			d.events.Publish(ctx, domain.NewEvent(domain.EventTaskFailed, qt.task.AgentID,
				domain.TaskFailedPayload{TaskID: qt.id, Error: err.Error()}))
		}
		return
	}
	d.completed.Add(1)
	d.metrics.observe(statusCompleted, time.Since(start))
	tracer.SetOK(span)
}

// run executes the transform and the callback. A transform error skips the
// callback; a panic in either is recovered and reported as an error.
func (d *Dispatcher) run(ctx context.Context, qt queuedTask) (err error) {
	stage := "transform"
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", stage, r)
		}
	}()
	result, err := d.transform(ctx, qt.task)
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	if qt.task.Callback == nil {
		return nil
	}
	stage = "callback"
	qt.task.Callback(result)
	return nil
}
