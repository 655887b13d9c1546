// Package worker implements the File Analysis Worker Pool (C4): a bounded
// set of goroutine workers that drain a task's pending FileAnalysis rows
// through the LLM adapter, under a global rate limit and a per-file retry
// policy.
package worker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/coderead/pkg/adapters"
	"github.com/cuemby/coderead/pkg/config"
	"github.com/cuemby/coderead/pkg/errkind"
	"github.com/cuemby/coderead/pkg/log"
	"github.com/cuemby/coderead/pkg/metrics"
	"github.com/cuemby/coderead/pkg/storage"
	"github.com/cuemby/coderead/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// maxFileBytes bounds a single file's content handed to the LLM adapter;
// larger files are marked input-failed rather than sent.
const maxFileBytes = 1 << 20

// OnFileDone is invoked by a worker after a file reaches a terminal status,
// letting the Pipeline Driver update Task.CurrentFile and aggregate
// counters without the pool knowing about Tasks.
type OnFileDone func(file *types.FileAnalysis)

// Pool fans a task's pending FileAnalysis rows out across W workers. Each
// worker is a sequential request pipeline (in-flight cap of 1).
type Pool struct {
	store   storage.Store
	llm     *adapters.LLMAdapter
	vector  *adapters.VectorIndexAdapter
	retry   config.Retry
	workers int
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New creates a Worker Pool. limiter enforces the process-wide RPM cap;
// it is shared across every task's Pool so the cap is global, not per-task.
func New(store storage.Store, llm *adapters.LLMAdapter, vector *adapters.VectorIndexAdapter, cfg config.Concurrency, retry config.Retry, limiter *rate.Limiter) *Pool {
	return &Pool{
		store:   store,
		llm:     llm,
		vector:  vector,
		retry:   retry,
		workers: cfg.WorkerCount,
		limiter: limiter,
		logger:  log.WithComponent("worker_pool"),
	}
}

// Run drains every FileAnalysis in status=pending for task across p.workers
// goroutines and blocks until the stage is done, cancelled, or ctx ends.
// Rerunning Run for a task that already has terminal rows for some files
// is a no-op for those files: only rows still pending are dispatched.
func (p *Pool) Run(ctx context.Context, task *types.Task, onDone OnFileDone, cancelled func() bool) error {
	files, err := p.store.ReadFilesByTask(task.ID)
	if err != nil {
		return err
	}

	work := make(chan *types.FileAnalysis)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.workerLoop(ctx, workerID, task, work, onDone, cancelled)
		}(i)
	}

feed:
	for _, file := range files {
		if file.Status != types.FilePending {
			continue
		}
		if cancelled() {
			break feed
		}
		select {
		case work <- file:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	return ctx.Err()
}

func (p *Pool) workerLoop(ctx context.Context, workerID int, task *types.Task, work <-chan *types.FileAnalysis, onDone OnFileDone, cancelled func() bool) {
	logger := log.WithWorkerID(workerID)
	for file := range work {
		if cancelled() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		p.processFile(ctx, task, file, logger)
		if onDone != nil {
			onDone(file)
		}
	}
}

// processFile runs the retry loop for a single file and persists its
// terminal FileAnalysis row.
func (p *Pool) processFile(ctx context.Context, task *types.Task, file *types.FileAnalysis, logger zerolog.Logger) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.FileAnalysisDuration)

	if file.Content == "" {
		p.fail(file, errkind.Wrapf(errkind.Input, "Analyze", "file %s is empty", file.FilePath))
		return
	}
	if file.Size > maxFileBytes {
		p.fail(file, errkind.Wrapf(errkind.Input, "Analyze", "file %s exceeds the input size budget", file.FilePath))
		return
	}

	maxTokens := 2048
	var lastErr error
	for attempt := 0; attempt <= p.retry.MaxAttempts; attempt++ {
		analysis, deps, err := p.analyzeOnce(ctx, task, file, maxTokens)
		if err == nil {
			file.Status = types.FileSuccess
			file.Analysis = analysis
			file.Dependencies = deps
			file.ErrorMessage = ""
			if err := p.store.AppendFileAnalysis(file); err != nil {
				logger.Error().Err(err).Str("file", file.FilePath).Msg("failed to persist file analysis")
			}
			if err := p.store.AppendAnalysisItems([]*types.AnalysisItem{{
				ID:             uuid.NewString(),
				FileAnalysisID: file.ID,
				Title:          file.FilePath,
				Description:    analysis,
				Language:       file.Language,
				StartLine:      1,
				EndLine:        file.CodeLines,
			}}); err != nil {
				logger.Error().Err(err).Str("file", file.FilePath).Msg("failed to persist analysis items")
			}
			metrics.FilesAnalyzed.WithLabelValues("success").Inc()
			return
		}

		lastErr = err
		kind := errkind.Of(err)

		if kind == errkind.Input {
			break // not retryable; file-local problem
		}
		if !errIsRetryable(err) {
			break
		}
		if attempt == p.retry.MaxAttempts {
			break
		}

		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		// Every retry after a transient error halves the completion-token
		// budget (floor 256). Soft timeouts are not told apart from other
		// transient errors, and the prompt content is not shortened.
		if kind == errkind.Transient {
			maxTokens = maxTokens / 2
			if maxTokens < 256 {
				maxTokens = 256
			}
		}

		delay := backoff(p.retry.BaseMs, attempt, p.retry.JitterFrac)
		metrics.RetriesTotal.Inc()
		logger.Warn().Err(err).Str("file", file.FilePath).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying file analysis")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = p.retry.MaxAttempts
		}
	}

	p.fail(file, lastErr)
}

func (p *Pool) fail(file *types.FileAnalysis, err error) {
	file.Status = types.FileFailed
	if err != nil {
		file.ErrorMessage = err.Error()
	}
	if storeErr := p.store.AppendFileAnalysis(file); storeErr != nil {
		p.logger.Error().Err(storeErr).Str("file", file.FilePath).Msg("failed to persist failed file analysis")
	}
	metrics.FilesAnalyzed.WithLabelValues("failed").Inc()
}

// analyzeOnce retrieves surrounding context from the vector index and runs
// one LLM call for file.
func (p *Pool) analyzeOnce(ctx context.Context, task *types.Task, file *types.FileAnalysis, maxTokens int) (analysis string, dependencies []string, err error) {
	var contextMsgs []adapters.Message
	if p.vector != nil && task.VectorIndexName != "" {
		chunks, qerr := p.vector.Query(ctx, task.VectorIndexName, file.Content, 5)
		if qerr != nil && !errkind.Is(qerr, errkind.NotFound) {
			return "", nil, qerr
		}
		for _, c := range chunks {
			contextMsgs = append(contextMsgs, adapters.Message{Role: "system", Content: fmt.Sprintf("%s:%d-%d\n%s", c.Path, c.StartLine, c.EndLine, c.Text)})
		}
	}

	messages := append(contextMsgs, adapters.Message{Role: "user", Content: file.Content})
	resp, err := p.llm.Complete(ctx, adapters.CompletionRequest{
		Model:     task.Config.Model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", nil, err
	}
	return resp.Text, nil, nil
}

func errIsRetryable(err error) bool {
	if e, ok := err.(*errkind.Error); ok {
		return e.Retryable()
	}
	return false
}

// backoff computes base * 2^attempt * (1 ± jitter).
func backoff(baseMs int, attempt int, jitterFrac float64) time.Duration {
	base := float64(baseMs) * float64(int(1)<<uint(attempt))
	jitter := (rand.Float64()*2 - 1) * jitterFrac * base
	return time.Duration(base+jitter) * time.Millisecond
}
