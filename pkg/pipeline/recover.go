package pipeline

import (
	"context"
	"time"

	"github.com/cuemby/coderead/pkg/metrics"
)

// RecoverOrphans resumes every running task whose heartbeat has gone stale
// beyond 2*heartbeatInterval. It is invoked once at process startup and
// may also be invoked periodically to catch workers that die mid-task.
// Recovery re-enters Run at the task's current_step and re-executes only
// the remaining work within that step; it relies on every stage being
// idempotent for work already persisted.
func (d *Driver) RecoverOrphans(ctx context.Context, heartbeatInterval time.Duration, resume func(ctx context.Context, taskID string)) error {
	tasks, err := d.store.ListRunningTasks()
	if err != nil {
		return err
	}

	threshold := 2 * heartbeatInterval
	now := time.Now()
	for _, task := range tasks {
		if now.Sub(task.Heartbeat) <= threshold {
			continue
		}
		d.logger.Warn().Str("task_id", task.ID).Dur("stale_for", now.Sub(task.Heartbeat)).Msg("recovering orphaned task")
		metrics.OrphanTasksRecoveredTotal.Inc()
		if resume != nil {
			resume(ctx, task.ID)
		}
	}
	return nil
}
