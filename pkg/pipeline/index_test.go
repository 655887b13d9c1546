package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/coderead/pkg/adapters"
	"github.com/cuemby/coderead/pkg/config"
	"github.com/cuemby/coderead/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRunIndexCreatesIndexFromScannedFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(struct {
			IndexName string `json:"index_name"`
		}{IndexName: "idx-123"})
	}))
	defer srv.Close()

	store := newTestStore(t)
	repo := &types.Repository{ID: uuid.NewString(), FullName: "org/repo"}
	require.NoError(t, store.CreateRepository(repo))
	task := &types.Task{ID: uuid.NewString(), RepositoryID: repo.ID, Status: types.TaskRunning, CurrentStep: types.StageIndex}
	require.NoError(t, store.CreateTask(task))
	require.NoError(t, store.AppendFileAnalysis(&types.FileAnalysis{ID: uuid.NewString(), TaskID: task.ID, FilePath: "a.go", Content: "package a", Status: types.FilePending}))

	vector := adapters.NewVectorIndexAdapter(srv.URL, "", 0)
	d := New(store, vector, nil, nil, nil, config.Default(), nil)

	require.NoError(t, d.runIndex(context.Background(), task))
	require.Equal(t, "idx-123", task.VectorIndexName)
	require.Equal(t, types.StageAnalyze, task.CurrentStep)
}

func TestRunIndexSkipsEmptyRepository(t *testing.T) {
	store := newTestStore(t)
	repo := &types.Repository{ID: uuid.NewString(), FullName: "org/repo"}
	require.NoError(t, store.CreateRepository(repo))
	task := &types.Task{ID: uuid.NewString(), RepositoryID: repo.ID, Status: types.TaskRunning, CurrentStep: types.StageIndex}
	require.NoError(t, store.CreateTask(task))

	vector := adapters.NewVectorIndexAdapter("http://unused.invalid", "", 0)
	d := New(store, vector, nil, nil, nil, config.Default(), nil)

	require.NoError(t, d.runIndex(context.Background(), task))
	require.Empty(t, task.VectorIndexName)
	require.Equal(t, types.StageAnalyze, task.CurrentStep)
}

func TestRunIndexSkipsWhenIndexAlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	repo := &types.Repository{ID: uuid.NewString(), FullName: "org/repo"}
	require.NoError(t, store.CreateRepository(repo))
	task := &types.Task{ID: uuid.NewString(), RepositoryID: repo.ID, Status: types.TaskRunning, CurrentStep: types.StageIndex, VectorIndexName: "idx-existing"}
	require.NoError(t, store.CreateTask(task))

	vector := adapters.NewVectorIndexAdapter(srv.URL, "", 0)
	d := New(store, vector, nil, nil, nil, config.Default(), nil)

	require.NoError(t, d.runIndex(context.Background(), task))
	require.Equal(t, "idx-existing", task.VectorIndexName)
	require.Equal(t, types.StageAnalyze, task.CurrentStep)
}
