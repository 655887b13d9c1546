package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/coderead/pkg/adapters"
	"github.com/cuemby/coderead/pkg/config"
	"github.com/cuemby/coderead/pkg/storage"
	"github.com/cuemby/coderead/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newUnlimitedPool(store storage.Store, llm *adapters.LLMAdapter, workers int) *Pool {
	return New(store, llm, nil, config.Concurrency{WorkerCount: workers}, config.Retry{MaxAttempts: 2, BaseMs: 1, JitterFrac: 0}, rate.NewLimiter(rate.Inf, 1))
}

func TestPoolRunAnalyzesPendingFilesSuccessfully(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(adapters.CompletionResponse{Text: "analysis text"})
	}))
	defer srv.Close()

	store := newTestStore(t)
	repo := &types.Repository{ID: uuid.NewString(), FullName: "org/repo"}
	require.NoError(t, store.CreateRepository(repo))
	task := &types.Task{ID: uuid.NewString(), RepositoryID: repo.ID, Status: types.TaskRunning}
	require.NoError(t, store.CreateTask(task))

	file := &types.FileAnalysis{ID: uuid.NewString(), TaskID: task.ID, FilePath: "main.go", Status: types.FilePending, Content: "package main", CodeLines: 1}
	require.NoError(t, store.AppendFileAnalysis(file))

	llm := adapters.NewLLMAdapter(srv.URL, "", 5*time.Second, 5*time.Second)
	pool := newUnlimitedPool(store, llm, 2)

	var completed int32
	err := pool.Run(context.Background(), task, func(f *types.FileAnalysis) {
		atomic.AddInt32(&completed, 1)
	}, func() bool { return false })
	require.NoError(t, err)
	require.EqualValues(t, 1, completed)

	got, err := store.ReadFile(task.ID, "main.go")
	require.NoError(t, err)
	require.Equal(t, types.FileSuccess, got.Status)
	require.Equal(t, "analysis text", got.Analysis)

	items, err := store.ReadItemsByFile(got.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestPoolRunRetriesTransientThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(adapters.CompletionResponse{Text: "ok after retry"})
	}))
	defer srv.Close()

	store := newTestStore(t)
	repo := &types.Repository{ID: uuid.NewString(), FullName: "org/repo"}
	require.NoError(t, store.CreateRepository(repo))
	task := &types.Task{ID: uuid.NewString(), RepositoryID: repo.ID, Status: types.TaskRunning}
	require.NoError(t, store.CreateTask(task))
	file := &types.FileAnalysis{ID: uuid.NewString(), TaskID: task.ID, FilePath: "retry.go", Status: types.FilePending, Content: "package main"}
	require.NoError(t, store.AppendFileAnalysis(file))

	llm := adapters.NewLLMAdapter(srv.URL, "", 5*time.Second, 5*time.Second)
	pool := newUnlimitedPool(store, llm, 1)

	require.NoError(t, pool.Run(context.Background(), task, nil, func() bool { return false }))

	got, err := store.ReadFile(task.ID, "retry.go")
	require.NoError(t, err)
	require.Equal(t, types.FileSuccess, got.Status)
	require.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestPoolRunMarksInputErrorFailedWithoutRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	store := newTestStore(t)
	repo := &types.Repository{ID: uuid.NewString(), FullName: "org/repo"}
	require.NoError(t, store.CreateRepository(repo))
	task := &types.Task{ID: uuid.NewString(), RepositoryID: repo.ID, Status: types.TaskRunning}
	require.NoError(t, store.CreateTask(task))
	file := &types.FileAnalysis{ID: uuid.NewString(), TaskID: task.ID, FilePath: "bad.go", Status: types.FilePending, Content: "package main"}
	require.NoError(t, store.AppendFileAnalysis(file))

	llm := adapters.NewLLMAdapter(srv.URL, "", 5*time.Second, 5*time.Second)
	pool := newUnlimitedPool(store, llm, 1)

	require.NoError(t, pool.Run(context.Background(), task, nil, func() bool { return false }))

	got, err := store.ReadFile(task.ID, "bad.go")
	require.NoError(t, err)
	require.Equal(t, types.FileFailed, got.Status)
}

func TestPoolRunSkipsOversizeFile(t *testing.T) {
	store := newTestStore(t)
	repo := &types.Repository{ID: uuid.NewString(), FullName: "org/repo"}
	require.NoError(t, store.CreateRepository(repo))
	task := &types.Task{ID: uuid.NewString(), RepositoryID: repo.ID, Status: types.TaskRunning}
	require.NoError(t, store.CreateTask(task))
	file := &types.FileAnalysis{ID: uuid.NewString(), TaskID: task.ID, FilePath: "huge.go", Status: types.FilePending, Content: "x", Size: maxFileBytes + 1}
	require.NoError(t, store.AppendFileAnalysis(file))

	llm := adapters.NewLLMAdapter("http://unused.invalid", "", time.Second, time.Second)
	pool := newUnlimitedPool(store, llm, 1)

	require.NoError(t, pool.Run(context.Background(), task, nil, func() bool { return false }))

	got, err := store.ReadFile(task.ID, "huge.go")
	require.NoError(t, err)
	require.Equal(t, types.FileFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "size budget")
}

func TestPoolRunSkipsAlreadyTerminalFiles(t *testing.T) {
	store := newTestStore(t)
	repo := &types.Repository{ID: uuid.NewString(), FullName: "org/repo"}
	require.NoError(t, store.CreateRepository(repo))
	task := &types.Task{ID: uuid.NewString(), RepositoryID: repo.ID, Status: types.TaskRunning}
	require.NoError(t, store.CreateTask(task))
	file := &types.FileAnalysis{ID: uuid.NewString(), TaskID: task.ID, FilePath: "done.go", Status: types.FileSuccess, Analysis: "already done"}
	require.NoError(t, store.AppendFileAnalysis(file))

	llm := adapters.NewLLMAdapter("http://unused.invalid", "", time.Second, time.Second)
	pool := newUnlimitedPool(store, llm, 1)

	var called int32
	require.NoError(t, pool.Run(context.Background(), task, func(f *types.FileAnalysis) {
		atomic.AddInt32(&called, 1)
	}, func() bool { return false }))
	require.EqualValues(t, 0, called)
}

func TestBackoffGrowsWithAttempt(t *testing.T) {
	d0 := backoff(100, 0, 0)
	d1 := backoff(100, 1, 0)
	d2 := backoff(100, 2, 0)
	require.Equal(t, 100*time.Millisecond, d0)
	require.Equal(t, 200*time.Millisecond, d1)
	require.Equal(t, 400*time.Millisecond, d2)
}
