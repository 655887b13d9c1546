package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/coderead/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRecoverOrphansResumesStaleHeartbeats(t *testing.T) {
	store := newTestStore(t)
	repo := &types.Repository{ID: uuid.NewString(), FullName: "org/repo"}
	require.NoError(t, store.CreateRepository(repo))

	stale := &types.Task{ID: uuid.NewString(), RepositoryID: repo.ID, Status: types.TaskPending}
	require.NoError(t, store.CreateTask(stale))
	stale.Status = types.TaskRunning
	stale.Heartbeat = time.Now().Add(-time.Hour)
	require.NoError(t, store.UpdateTask(stale))

	fresh := &types.Task{ID: uuid.NewString(), RepositoryID: repo.ID, Status: types.TaskPending}
	require.NoError(t, store.CreateTask(fresh))
	fresh.Status = types.TaskRunning
	fresh.Heartbeat = time.Now()
	require.NoError(t, store.UpdateTask(fresh))

	d := newTestDriver(t, store)

	var resumed []string
	require.NoError(t, d.RecoverOrphans(context.Background(), 5*time.Second, func(ctx context.Context, taskID string) {
		resumed = append(resumed, taskID)
	}))

	require.ElementsMatch(t, []string{stale.ID}, resumed)
}
