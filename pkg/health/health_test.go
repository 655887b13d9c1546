package health

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/coderead/pkg/config"
	"github.com/cuemby/coderead/pkg/queue"
	"github.com/cuemby/coderead/pkg/storage"
	"github.com/cuemby/coderead/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "health.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCheckReportsHealthyAndOrphanWorkers(t *testing.T) {
	store := newTestStore(t)
	repo := &types.Repository{ID: uuid.NewString(), FullName: "org/repo"}
	require.NoError(t, store.CreateRepository(repo))

	healthy := &types.Task{ID: uuid.NewString(), RepositoryID: repo.ID, Status: types.TaskPending}
	require.NoError(t, store.CreateTask(healthy))
	healthy.Status = types.TaskRunning
	healthy.Heartbeat = time.Now()
	healthy.TotalFiles = 10
	healthy.SuccessfulFiles = 3
	require.NoError(t, store.UpdateTask(healthy))

	stale := &types.Task{ID: uuid.NewString(), RepositoryID: repo.ID, Status: types.TaskPending}
	require.NoError(t, store.CreateTask(stale))
	stale.Status = types.TaskRunning
	stale.Heartbeat = time.Now().Add(-time.Hour)
	require.NoError(t, store.UpdateTask(stale))

	q := queue.New(store, config.Concurrency{GlobalRunningTasks: 4}, nil, nil)
	checker := NewChecker(store, q, 5*time.Second)

	snap, err := checker.Check()
	require.NoError(t, err)
	require.Equal(t, 2, snap.RunningCount)
	require.Contains(t, snap.OrphanTasks, stale.ID)
	require.NotContains(t, snap.OrphanTasks, healthy.ID)

	var healthyCount, unhealthyCount int
	for _, w := range snap.Workers {
		if w.Healthy {
			healthyCount++
		} else {
			unhealthyCount++
		}
	}
	require.Equal(t, 1, healthyCount)
	require.Equal(t, 1, unhealthyCount)
}

func TestInFlightCountClampsAtZero(t *testing.T) {
	task := &types.Task{TotalFiles: 5, SuccessfulFiles: 4, FailedFiles: 3}
	require.Equal(t, 0, inFlightCount(task))
}
