package pipeline

import (
	"context"
	"sync"

	"github.com/cuemby/coderead/pkg/errkind"
	"github.com/cuemby/coderead/pkg/events"
	"github.com/cuemby/coderead/pkg/types"
)

// runAnalyze fans a task's pending FileAnalysis rows out across the Worker
// Pool. Aggregate counters and current_file are updated here, after each
// file's worker completes, so the Progress Publisher always reads a
// consistent Task row. The stage is resumable: only rows still pending are
// dispatched to the pool.
func (d *Driver) runAnalyze(ctx context.Context, task *types.Task) error {
	files, err := d.store.ReadFilesByTask(task.ID)
	if err != nil {
		return err
	}

	task.AnalysisTotalFiles = len(files)
	task.AnalysisSuccessFiles = 0
	task.AnalysisFailedFiles = 0
	for _, f := range files {
		switch f.Status {
		case types.FileSuccess:
			task.AnalysisSuccessFiles++
		case types.FileFailed:
			task.AnalysisFailedFiles++
		}
	}
	d.heartbeat(task)

	var mu sync.Mutex
	onDone := func(file *types.FileAnalysis) {
		mu.Lock()
		defer mu.Unlock()

		task.CurrentFile = file.FilePath
		if file.Status == types.FileSuccess {
			task.AnalysisSuccessFiles++
			task.SuccessfulFiles++
		} else {
			task.AnalysisFailedFiles++
			task.FailedFiles++
		}
		d.heartbeat(task)
		if d.broker != nil {
			d.broker.Publish(&events.Event{Type: events.EventTaskProgress, Message: task.ID})
		}
	}

	cancelled := func() bool { return d.cancelled(task) }

	if err := d.pool.Run(ctx, task, onDone, cancelled); err != nil {
		if ctx.Err() != nil {
			return errkind.Wrapf(errkind.Fatal, "Analyze", "cancelled: %v", err)
		}
		return errkind.Wrapf(errkind.Fatal, "Analyze", "worker pool: %v", err)
	}

	task.CurrentStep = types.StageDocument
	d.heartbeat(task)
	return nil
}
