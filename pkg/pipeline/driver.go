// Package pipeline implements the Pipeline Driver (C3): the per-task state
// machine advancing a Task through Scan, Index, Analyze, and Document.
// Dispatch is a single switch over types.PipelineStage; there is no
// dynamic stage registry.
package pipeline

import (
	"context"
	"time"

	"github.com/cuemby/coderead/pkg/adapters"
	"github.com/cuemby/coderead/pkg/config"
	"github.com/cuemby/coderead/pkg/errkind"
	"github.com/cuemby/coderead/pkg/events"
	"github.com/cuemby/coderead/pkg/log"
	"github.com/cuemby/coderead/pkg/metrics"
	"github.com/cuemby/coderead/pkg/storage"
	"github.com/cuemby/coderead/pkg/types"
	"github.com/cuemby/coderead/pkg/worker"
	"github.com/rs/zerolog"
)

// Driver runs a single task to completion across its remaining stages.
type Driver struct {
	store  storage.Store
	vector *adapters.VectorIndexAdapter
	doc    *adapters.DocGenAdapter
	pool   *worker.Pool
	broker *events.Broker
	cfg    config.Config
	logger zerolog.Logger

	onStageDuration func(time.Duration)
}

// New builds a Pipeline Driver. onStageDuration, if non-nil, feeds the
// Admission Queue's rolling mean used for estimated-wait.
func New(store storage.Store, vector *adapters.VectorIndexAdapter, doc *adapters.DocGenAdapter, pool *worker.Pool, broker *events.Broker, cfg config.Config, onStageDuration func(time.Duration)) *Driver {
	return &Driver{
		store:           store,
		vector:          vector,
		doc:             doc,
		pool:            pool,
		broker:          broker,
		cfg:             cfg,
		logger:          log.WithComponent("pipeline"),
		onStageDuration: onStageDuration,
	}
}

// Run drives task through every remaining stage starting at
// task.CurrentStep, persisting progress after each unit of work. It
// returns once the task reaches a terminal status, ctx is cancelled, or
// an unrecoverable error occurs.
func (d *Driver) Run(ctx context.Context, task *types.Task) error {
	logger := d.logger.With().Str("task_id", task.ID).Logger()

	for !task.IsTerminal() {
		if d.cancelled(task) {
			return d.fail(task, errkind.Wrapf(errkind.Fatal, "Run", "cancelled"))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		stage := task.CurrentStep
		timer := metrics.NewTimer()
		logger.Info().Str("stage", stage.String()).Msg("stage starting")

		var err error
		switch stage {
		case types.StageScan:
			err = d.runScan(ctx, task)
		case types.StageIndex:
			err = d.runIndex(ctx, task)
		case types.StageAnalyze:
			err = d.runAnalyze(ctx, task)
		case types.StageDocument:
			err = d.runDocument(ctx, task)
		default:
			err = errkind.Wrapf(errkind.Fatal, "Run", "unknown stage %d", stage)
		}

		elapsed := timer.Duration()
		metrics.StageDuration.WithLabelValues(stage.String()).Observe(elapsed.Seconds())
		if d.onStageDuration != nil {
			d.onStageDuration(elapsed)
		}

		if err != nil {
			if errkind.Of(err) == errkind.Input {
				// Stage-local policy already downgraded this to a
				// continuable condition; treat as success-of-stage.
			} else {
				return d.fail(task, err)
			}
		}

		logger.Info().Str("stage", stage.String()).Dur("elapsed", elapsed).Msg("stage complete")
	}

	return nil
}

func (d *Driver) cancelled(task *types.Task) bool {
	fresh, err := d.store.ReadTask(task.ID)
	if err != nil {
		return false
	}
	task.CancelRequested = fresh.CancelRequested
	return fresh.CancelRequested
}

func (d *Driver) fail(task *types.Task, err error) error {
	now := time.Now()
	task.Status = types.TaskFailed
	task.EndTime = &now
	if err != nil {
		task.ErrorMessage = err.Error()
	}
	if uerr := d.store.UpdateTask(task); uerr != nil {
		d.logger.Error().Err(uerr).Str("task_id", task.ID).Msg("failed to persist failed task")
	}
	metrics.TasksCompletedTotal.WithLabelValues("failed").Inc()
	if d.broker != nil {
		d.broker.Publish(&events.Event{Type: events.EventTaskFailed, Message: task.ID})
	}
	return err
}

func (d *Driver) complete(task *types.Task) error {
	now := time.Now()
	task.Status = types.TaskCompleted
	task.EndTime = &now
	task.ModuleCount = computeModuleCount(task, d.store)
	if err := d.store.UpdateTask(task); err != nil {
		return err
	}
	metrics.TasksCompletedTotal.WithLabelValues("completed").Inc()
	if d.broker != nil {
		d.broker.Publish(&events.Event{Type: events.EventTaskCompleted, Message: task.ID})
	}
	return nil
}

func (d *Driver) heartbeat(task *types.Task) {
	task.Heartbeat = time.Now()
	if err := d.store.UpdateTask(task); err != nil {
		d.logger.Warn().Err(err).Str("task_id", task.ID).Msg("heartbeat write failed")
	}
}

// computeModuleCount counts distinct top-level directories among a task's
// successfully analyzed files. Chosen over an AnalysisItem-derived count
// because it is stable regardless of how many items an LLM call happens
// to extract from a file.
func computeModuleCount(task *types.Task, store storage.Store) int {
	files, err := store.ReadFilesByTask(task.ID)
	if err != nil {
		return task.ModuleCount
	}
	seen := make(map[string]struct{})
	for _, f := range files {
		if f.Status != types.FileSuccess {
			continue
		}
		seen[topLevelDir(f.FilePath)] = struct{}{}
	}
	return len(seen)
}

func topLevelDir(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
