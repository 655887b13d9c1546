// Package orchestrator wires the Task Store, Admission Queue, Pipeline
// Driver, Worker Pool, External Adapters, Progress Publisher, and Health
// Checker into a single facade exposing the orchestrator's external
// interface as plain Go methods: create task, read task detail, update
// task, list pending, delete repository, health.
package orchestrator

import (
	"context"
	"time"

	"github.com/cuemby/coderead/pkg/adapters"
	"github.com/cuemby/coderead/pkg/config"
	"github.com/cuemby/coderead/pkg/errkind"
	"github.com/cuemby/coderead/pkg/events"
	"github.com/cuemby/coderead/pkg/health"
	"github.com/cuemby/coderead/pkg/log"
	"github.com/cuemby/coderead/pkg/pipeline"
	"github.com/cuemby/coderead/pkg/progress"
	"github.com/cuemby/coderead/pkg/queue"
	"github.com/cuemby/coderead/pkg/storage"
	"github.com/cuemby/coderead/pkg/types"
	"github.com/cuemby/coderead/pkg/worker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Orchestrator is the top-level facade a caller (CLI, HTTP server, test)
// constructs once per process.
type Orchestrator struct {
	cfg    config.Config
	store  storage.Store
	broker *events.Broker

	llm    *adapters.LLMAdapter
	vector *adapters.VectorIndexAdapter
	docgen *adapters.DocGenAdapter

	pool    *worker.Pool
	driver  *pipeline.Driver
	queue   *queue.Queue
	publish *progress.Publisher
	checker *health.Checker

	logger zerolog.Logger
}

// New builds an Orchestrator from cfg. It opens the Task Store at
// cfg.Store.DSN; the caller must call Close when done.
func New(cfg config.Config) (*Orchestrator, error) {
	store, err := storage.NewBoltStore(cfg.Store.DSN)
	if err != nil {
		return nil, errkind.Wrapf(errkind.Fatal, "New", "open task store: %v", err)
	}

	broker := events.NewBroker()

	llm := adapters.NewLLMAdapter(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Limits.RequestTimeout, cfg.Limits.HardTimeout)
	vector := adapters.NewVectorIndexAdapter(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Limits.RequestTimeout)
	docgen := adapters.NewDocGenAdapter(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Limits.RequestTimeout)

	limiter := rate.NewLimiter(rate.Limit(float64(cfg.Limits.RPM)/60.0), cfg.Limits.RPM)
	pool := worker.New(store, llm, vector, cfg.Concurrency, cfg.Retry, limiter)

	o := &Orchestrator{
		cfg:     cfg,
		store:   store,
		broker:  broker,
		llm:     llm,
		vector:  vector,
		docgen:  docgen,
		pool:    pool,
		publish: progress.NewPublisher(store, broker),
		logger:  log.WithComponent("orchestrator"),
	}

	o.driver = pipeline.New(store, vector, docgen, pool, broker, cfg, o.observeStageDuration)
	o.queue = queue.New(store, cfg.Concurrency, broker, o.runTask)
	o.checker = health.NewChecker(store, o.queue, cfg.HeartbeatInterval)

	return o, nil
}

// Start begins the broker, the admission loop, and orphan recovery.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.broker.Start()
	o.queue.Start(ctx, time.Second)
	return o.driver.RecoverOrphans(ctx, o.cfg.HeartbeatInterval, func(ctx context.Context, taskID string) {
		go o.resumeTask(ctx, taskID)
	})
}

// Stop halts the admission loop and broker.
func (o *Orchestrator) Stop() {
	o.queue.Stop()
	o.broker.Stop()
}

// Close releases the Task Store.
func (o *Orchestrator) Close() error {
	return o.store.Close()
}

func (o *Orchestrator) observeStageDuration(d time.Duration) {
	o.queue.ObserveStageDuration(d)
}

func (o *Orchestrator) runTask(ctx context.Context, task *types.Task) {
	if err := o.driver.Run(ctx, task); err != nil {
		o.logger.Error().Err(err).Str("task_id", task.ID).Msg("task run ended with error")
	}
}

func (o *Orchestrator) resumeTask(ctx context.Context, taskID string) {
	task, err := o.store.ReadTask(taskID)
	if err != nil {
		o.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to load task for resume")
		return
	}
	o.runTask(ctx, task)
}

// CreateTask persists a new pending Task for repositoryID and returns its
// id. The Admission Queue, not this call, decides when it starts running.
func (o *Orchestrator) CreateTask(repositoryID string, cfg types.Config) (string, error) {
	if cfg.Model == "" {
		cfg.Model = o.cfg.Provider.Model
	}
	task := &types.Task{
		ID:           uuid.NewString(),
		RepositoryID: repositoryID,
		Status:       types.TaskPending,
		CurrentStep:  types.StageScan,
		Config:       cfg,
		CreatedAt:    time.Now(),
	}
	if err := o.store.CreateTask(task); err != nil {
		return "", err
	}
	if o.broker != nil {
		o.broker.Publish(&events.Event{Type: events.EventTaskCreated, Message: task.ID})
	}
	return task.ID, nil
}

// TaskDetail is a Task's persisted fields plus its derived progress view.
type TaskDetail struct {
	Task     *types.Task
	Progress progress.View
}

// ReadTaskDetail returns task's fields plus derived progress.
func (o *Orchestrator) ReadTaskDetail(taskID string) (TaskDetail, error) {
	task, err := o.store.ReadTask(taskID)
	if err != nil {
		return TaskDetail{}, err
	}
	return TaskDetail{Task: task, Progress: progress.Derive(task, 0)}, nil
}

// TaskPatch names the fields Update task may restrict a caller to.
type TaskPatch struct {
	CancelRequested *bool
}

// UpdateTask applies patch to taskID's row.
func (o *Orchestrator) UpdateTask(taskID string, patch TaskPatch) error {
	task, err := o.store.ReadTask(taskID)
	if err != nil {
		return err
	}
	if patch.CancelRequested != nil {
		task.CancelRequested = *patch.CancelRequested
	}
	return o.store.UpdateTask(task)
}

// QueueSnapshot returns the Admission Queue's current view.
func (o *Orchestrator) QueueSnapshot() (queue.Snapshot, error) {
	return o.queue.Snapshot()
}

// DeleteRepository cascades the delete and removes the vector index and
// document artifact every one of the repository's tasks created,
// regardless of task status. soft flips status instead of removing rows.
func (o *Orchestrator) DeleteRepository(ctx context.Context, repositoryID string, soft bool) error {
	repo, err := o.store.GetRepository(repositoryID)
	if err != nil && !errkind.Is(err, errkind.NotFound) {
		return err
	}
	if repo != nil {
		tasks, terr := o.store.ListTasksByRepository(repositoryID)
		if terr != nil {
			return terr
		}
		for _, task := range tasks {
			if task.VectorIndexName != "" {
				if derr := o.vector.DeleteIndex(ctx, task.VectorIndexName); derr != nil && !errkind.Is(derr, errkind.NotFound) {
					return derr
				}
			}
			if task.DocumentJobID != "" {
				if derr := o.docgen.Delete(ctx, task.DocumentJobID); derr != nil && !errkind.Is(derr, errkind.NotFound) {
					return derr
				}
			}
		}
	}
	return o.store.DeleteRepositoryCascade(repositoryID, soft)
}

// Health returns the current worker/queue health snapshot.
func (o *Orchestrator) Health() (health.Snapshot, error) {
	return o.checker.Check()
}
