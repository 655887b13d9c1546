// Package progress implements the Progress Publisher (C6): a pure
// derivation of step and percent-complete from a Task's persisted state,
// with no separate cache of its own.
package progress

import (
	"github.com/cuemby/coderead/pkg/events"
	"github.com/cuemby/coderead/pkg/storage"
	"github.com/cuemby/coderead/pkg/types"
)

// Step is the UI-facing stage name, distinct from types.PipelineStage
// because "queued" has no corresponding pipeline stage.
type Step string

const (
	StepQueued   Step = "queued"
	StepScan     Step = "scan"
	StepIndex    Step = "index"
	StepAnalyze  Step = "analyze"
	StepDocument Step = "document"
)

// View is the derived progress snapshot a UI polls for.
type View struct {
	TaskID       string
	Step         Step
	Percent      float64
	CurrentFile  string
	ErrorMessage string
}

// Derive computes View from task's current fields. docProgress is the most
// recently observed Document-Generation job progress (0..1); pass 0 if
// unknown. The rules are deterministic and order-independent: the same
// task fields always yield the same View.
func Derive(task *types.Task, docProgress float64) View {
	v := View{TaskID: task.ID, CurrentFile: task.CurrentFile, ErrorMessage: task.ErrorMessage}

	switch {
	case task.Status == types.TaskPending:
		v.Step = StepQueued
		v.Percent = 0

	case task.Status == types.TaskRunning && task.TotalFiles > 0 && task.SuccessfulFiles < task.TotalFiles:
		v.Step = StepScan
		v.Percent = (float64(task.SuccessfulFiles) / float64(task.TotalFiles)) * 25

	case task.VectorIndexName == "":
		v.Step = StepIndex
		v.Percent = 25

	case task.AnalysisTotalFiles > 0 && task.AnalysisSuccessFiles < task.AnalysisTotalFiles:
		v.Step = StepAnalyze
		v.Percent = 25 + (float64(task.AnalysisSuccessFiles)/float64(task.AnalysisTotalFiles))*50

	default:
		v.Step = StepDocument
		v.Percent = 75 + docProgress*25
	}

	if task.Status == types.TaskCompleted {
		v.Percent = 100
	}
	if task.Status == types.TaskFailed {
		// percent is frozen at whatever the switch above computed from the
		// last-persisted counters; step likewise reflects the last stage
		// reached before failure.
	}

	return v
}

// Publisher derives a View after every Task Store read and republishes it
// on the shared broker as a task.progress event whenever current_step,
// successful_files, or analysis_success_files has changed since the last
// observation.
type Publisher struct {
	store  storage.Store
	broker *events.Broker

	lastStep    map[string]types.PipelineStage
	lastSuccess map[string]int
	lastAnalyze map[string]int
}

// NewPublisher builds a Progress Publisher.
func NewPublisher(store storage.Store, broker *events.Broker) *Publisher {
	return &Publisher{
		store:       store,
		broker:      broker,
		lastStep:    make(map[string]types.PipelineStage),
		lastSuccess: make(map[string]int),
		lastAnalyze: make(map[string]int),
	}
}

// Observe reads task's current state and publishes a task.progress event
// if anything observable has changed since the last call for this task.
func (p *Publisher) Observe(task *types.Task) {
	changed := p.lastStep[task.ID] != task.CurrentStep ||
		p.lastSuccess[task.ID] != task.SuccessfulFiles ||
		p.lastAnalyze[task.ID] != task.AnalysisSuccessFiles

	p.lastStep[task.ID] = task.CurrentStep
	p.lastSuccess[task.ID] = task.SuccessfulFiles
	p.lastAnalyze[task.ID] = task.AnalysisSuccessFiles

	if changed && p.broker != nil {
		p.broker.Publish(&events.Event{Type: events.EventTaskProgress, Message: task.ID})
	}
}

// View derives the current progress snapshot by rereading the Task Store.
func (p *Publisher) View(taskID string, docProgress float64) (View, error) {
	task, err := p.store.ReadTask(taskID)
	if err != nil {
		return View{}, err
	}
	return Derive(task, docProgress), nil
}
