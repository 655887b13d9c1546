// Package queue implements the Admission Queue (C2): a derived FIFO view
// over pending Tasks that admits at most N of them into status=running at
// once.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/coderead/pkg/config"
	"github.com/cuemby/coderead/pkg/events"
	"github.com/cuemby/coderead/pkg/log"
	"github.com/cuemby/coderead/pkg/storage"
	"github.com/cuemby/coderead/pkg/types"
	"github.com/rs/zerolog"
)

// Admitter is invoked once a task is promoted to running. The caller
// supplies the Pipeline Driver's entry point here; the queue owns only the
// decision of *when*, never the stage logic.
type Admitter func(ctx context.Context, task *types.Task)

// Snapshot is the queue introspection view exposed to health and control
// surfaces.
type Snapshot struct {
	PendingTaskIDs   []string
	RunningCount     int
	EstimatedWaitMin float64
}

// Queue is the Admission Queue. It holds no task state of its own beyond a
// rolling duration statistic: the Task Store remains the single source of
// truth, and there is no separate transient queue of task records.
type Queue struct {
	store  storage.Store
	cfg    config.Concurrency
	broker *events.Broker
	logger zerolog.Logger
	admit  Admitter

	mu        sync.Mutex
	stopCh    chan struct{}
	durations *durationWindow
}

// New creates an Admission Queue bound to the given Task Store.
func New(store storage.Store, cfg config.Concurrency, broker *events.Broker, admit Admitter) *Queue {
	return &Queue{
		store:     store,
		cfg:       cfg,
		broker:    broker,
		logger:    log.WithComponent("queue"),
		admit:     admit,
		stopCh:    make(chan struct{}),
		durations: newDurationWindow(32),
	}
}

// Start begins the admission loop, polling every tick for a slot to open.
func (q *Queue) Start(ctx context.Context, tick time.Duration) {
	go q.run(ctx, tick)
}

// Stop halts the admission loop.
func (q *Queue) Stop() { close(q.stopCh) }

func (q *Queue) run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := q.admitOne(ctx); err != nil {
				q.logger.Error().Err(err).Msg("admission cycle failed")
			}
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		}
	}
}

// admitOne promotes at most one pending task to running, if a slot is
// available. It is the sole writer of the pending->running transition,
// serialized by q.mu in-process and by the Task Store's transactional
// update across processes.
func (q *Queue) admitOne(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	running, err := q.store.CountRunning()
	if err != nil {
		return err
	}
	if running >= q.cfg.GlobalRunningTasks {
		return nil
	}

	pending, err := q.store.ListPendingTaskIDs()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	headID := pending[0]
	task, err := q.store.ReadTask(headID)
	if err != nil {
		return err
	}
	if task.Status != types.TaskPending {
		return nil // lost the race to another writer; retry next tick
	}

	task.Status = types.TaskRunning
	task.StartTime = time.Now()
	task.Heartbeat = task.StartTime
	if err := q.store.UpdateTask(task); err != nil {
		return err
	}

	q.logger.Info().Str("task_id", task.ID).Int("running", running+1).Msg("task admitted")
	if q.broker != nil {
		q.broker.Publish(&events.Event{Type: events.EventTaskAdmitted, Message: task.ID})
	}

	if q.admit != nil {
		go q.admit(ctx, task)
	}
	return nil
}

// ObserveStageDuration feeds the rolling mean used for estimated wait.
func (q *Queue) ObserveStageDuration(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.durations.add(d)
}

// Snapshot reports the queue's current pending order, running count, and
// an advisory estimated wait; no contract is made on its accuracy.
func (q *Queue) Snapshot() (Snapshot, error) {
	pending, err := q.store.ListPendingTaskIDs()
	if err != nil {
		return Snapshot{}, err
	}
	running, err := q.store.CountRunning()
	if err != nil {
		return Snapshot{}, err
	}

	q.mu.Lock()
	mean := q.durations.mean()
	q.mu.Unlock()

	return Snapshot{
		PendingTaskIDs:   pending,
		RunningCount:     running,
		EstimatedWaitMin: float64(len(pending)) * mean.Minutes(),
	}, nil
}

// durationWindow is a bounded ring buffer backing the mean stage duration
// statistic used for the estimated-wait calculation.
type durationWindow struct {
	samples []time.Duration
	next    int
	filled  bool
}

func newDurationWindow(size int) *durationWindow {
	return &durationWindow{samples: make([]time.Duration, size)}
}

func (w *durationWindow) add(d time.Duration) {
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.filled = true
	}
}

func (w *durationWindow) mean() time.Duration {
	n := len(w.samples)
	if !w.filled {
		n = w.next
	}
	if n == 0 {
		return 2 * time.Minute // conservative default before any sample lands
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += w.samples[i]
	}
	return sum / time.Duration(n)
}
