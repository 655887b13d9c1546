package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/coderead/pkg/adapters"
	"github.com/cuemby/coderead/pkg/config"
	"github.com/cuemby/coderead/pkg/types"
	"github.com/cuemby/coderead/pkg/worker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRunAnalyzeAggregatesCountersAndAdvancesStage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(adapters.CompletionResponse{Text: "ok"})
	}))
	defer srv.Close()

	store := newTestStore(t)
	repo := &types.Repository{ID: uuid.NewString(), FullName: "org/repo"}
	require.NoError(t, store.CreateRepository(repo))
	task := &types.Task{ID: uuid.NewString(), RepositoryID: repo.ID, Status: types.TaskRunning, CurrentStep: types.StageAnalyze}
	require.NoError(t, store.CreateTask(task))
	require.NoError(t, store.AppendFileAnalysis(&types.FileAnalysis{ID: uuid.NewString(), TaskID: task.ID, FilePath: "a.go", Content: "package a", Status: types.FilePending}))
	require.NoError(t, store.AppendFileAnalysis(&types.FileAnalysis{ID: uuid.NewString(), TaskID: task.ID, FilePath: "b.go", Content: "package b", Status: types.FilePending}))

	llm := adapters.NewLLMAdapter(srv.URL, "", 5*time.Second, 5*time.Second)
	pool := worker.New(store, llm, nil, config.Concurrency{WorkerCount: 2}, config.Retry{MaxAttempts: 1, BaseMs: 1}, rate.NewLimiter(rate.Inf, 1))
	d := New(store, nil, nil, pool, nil, config.Default(), nil)

	require.NoError(t, d.runAnalyze(context.Background(), task))

	require.Equal(t, 2, task.AnalysisTotalFiles)
	require.Equal(t, 2, task.AnalysisSuccessFiles)
	require.Equal(t, 2, task.SuccessfulFiles)
	require.Equal(t, types.StageDocument, task.CurrentStep)
}

// TestRunAnalyzeResumeDoesNotDoubleCountAlreadySuccessfulFiles covers a
// crash-resume: the task already has a success row persisted from a prior
// attempt plus AnalysisSuccessFiles already reflecting it. Re-entering the
// stage must recompute the counters from the file rows rather than adding
// on top of the stale persisted value.
func TestRunAnalyzeResumeDoesNotDoubleCountAlreadySuccessfulFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(adapters.CompletionResponse{Text: "ok"})
	}))
	defer srv.Close()

	store := newTestStore(t)
	repo := &types.Repository{ID: uuid.NewString(), FullName: "org/repo"}
	require.NoError(t, store.CreateRepository(repo))
	task := &types.Task{
		ID:                   uuid.NewString(),
		RepositoryID:         repo.ID,
		Status:               types.TaskRunning,
		CurrentStep:          types.StageAnalyze,
		AnalysisSuccessFiles: 1, // stale value from before the crash
	}
	require.NoError(t, store.CreateTask(task))
	require.NoError(t, store.AppendFileAnalysis(&types.FileAnalysis{ID: uuid.NewString(), TaskID: task.ID, FilePath: "a.go", Content: "package a", Status: types.FileSuccess}))
	require.NoError(t, store.AppendFileAnalysis(&types.FileAnalysis{ID: uuid.NewString(), TaskID: task.ID, FilePath: "b.go", Content: "package b", Status: types.FilePending}))

	llm := adapters.NewLLMAdapter(srv.URL, "", 5*time.Second, 5*time.Second)
	pool := worker.New(store, llm, nil, config.Concurrency{WorkerCount: 2}, config.Retry{MaxAttempts: 1, BaseMs: 1}, rate.NewLimiter(rate.Inf, 1))
	d := New(store, nil, nil, pool, nil, config.Default(), nil)

	require.NoError(t, d.runAnalyze(context.Background(), task))

	require.Equal(t, 2, task.AnalysisTotalFiles)
	require.Equal(t, 2, task.AnalysisSuccessFiles, "resume must not double-count the already-successful file")
	require.Equal(t, 0, task.AnalysisFailedFiles)
}
