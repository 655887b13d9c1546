// Package health implements the Health & Queue Introspection surface (C7):
// a plain-struct snapshot of worker liveness and queue depth, derived from
// the Task Store and the Admission Queue rather than tracked separately.
package health

import (
	"time"

	"github.com/cuemby/coderead/pkg/queue"
	"github.com/cuemby/coderead/pkg/storage"
	"github.com/cuemby/coderead/pkg/types"
)

// WorkerStatus reports one worker's liveness, derived from the heartbeat
// of the task it is currently assigned to.
type WorkerStatus struct {
	TaskID        string
	Healthy       bool
	HeartbeatAge  time.Duration
	InFlightFiles int
}

// Snapshot is the full health surface: queue stats plus per-worker
// liveness for every task currently running.
type Snapshot struct {
	CheckedAt    time.Time
	QueueDepth   int
	RunningCount int
	EstWaitMin   float64
	Workers      []WorkerStatus
	OrphanTasks  []string
}

// Checker derives Snapshot from live Task Store and Admission Queue state.
// heartbeatInterval is H; a worker's task is declared unhealthy once its
// heartbeat is stale beyond 2H, matching orphan-recovery's own threshold.
type Checker struct {
	store             storage.Store
	q                 *queue.Queue
	heartbeatInterval time.Duration
}

// NewChecker builds a Checker.
func NewChecker(store storage.Store, q *queue.Queue, heartbeatInterval time.Duration) *Checker {
	return &Checker{store: store, q: q, heartbeatInterval: heartbeatInterval}
}

// Check computes a fresh Snapshot.
func (c *Checker) Check() (Snapshot, error) {
	now := time.Now()
	threshold := 2 * c.heartbeatInterval

	snap, err := c.q.Snapshot()
	if err != nil {
		return Snapshot{}, err
	}

	running, err := c.store.ListRunningTasks()
	if err != nil {
		return Snapshot{}, err
	}

	out := Snapshot{
		CheckedAt:    now,
		QueueDepth:   len(snap.PendingTaskIDs),
		RunningCount: snap.RunningCount,
		EstWaitMin:   snap.EstimatedWaitMin,
	}

	for _, task := range running {
		age := now.Sub(task.Heartbeat)
		healthy := age <= threshold
		out.Workers = append(out.Workers, WorkerStatus{
			TaskID:        task.ID,
			Healthy:       healthy,
			HeartbeatAge:  age,
			InFlightFiles: inFlightCount(task),
		})
		if !healthy {
			out.OrphanTasks = append(out.OrphanTasks, task.ID)
		}
	}

	return out, nil
}

func inFlightCount(task *types.Task) int {
	if task.TotalFiles == 0 {
		return 0
	}
	remaining := task.TotalFiles - task.SuccessfulFiles - task.FailedFiles
	if remaining < 0 {
		return 0
	}
	return remaining
}
