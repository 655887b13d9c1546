package storage

import (
	"github.com/cuemby/coderead/pkg/types"
)

// Store defines the Task Store contract. Implementations must make every
// named operation atomic with the invariants it implies.
type Store interface {
	// Repositories
	CreateRepository(repo *types.Repository) error
	GetRepository(id string) (*types.Repository, error)
	GetRepositoryByFullName(fullName string) (*types.Repository, error)
	DeleteRepositoryCascade(id string, soft bool) error

	// Tasks
	CreateTask(task *types.Task) error
	// UpdateTask writes the whole task row atomically (no per-field
	// patch), rejecting a write whose status transition violates the
	// task's valid state transitions, and failing with ErrConflict if
	// task.Version is stale.
	UpdateTask(task *types.Task) error
	ReadTask(id string) (*types.Task, error)
	// ListPendingTaskIDs returns pending task ids ordered by creation
	// time, tie-broken by lower id.
	ListPendingTaskIDs() ([]string, error)
	CountRunning() (int, error)
	// ListRunningTasks returns every task currently in status=running,
	// used by orphan recovery on process restart.
	ListRunningTasks() ([]*types.Task, error)
	// ListTasksByRepository returns every task (any status) owned by
	// repositoryID, used to collect remote artifacts a repository delete
	// must clean up.
	ListTasksByRepository(repositoryID string) ([]*types.Task, error)

	// FileAnalyses
	// AppendFileAnalysis applies the preserve-success upsert policy: a
	// new success row replaces any existing row for (task, path); a new
	// non-success row never overwrites an existing success row.
	AppendFileAnalysis(file *types.FileAnalysis) error
	ReadFilesByTask(taskID string) ([]*types.FileAnalysis, error)
	ReadFile(taskID, path string) (*types.FileAnalysis, error)

	// AnalysisItems
	AppendAnalysisItems(items []*types.AnalysisItem) error
	ReadItemsByFile(fileAnalysisID string) ([]*types.AnalysisItem, error)

	// ReadmeArtifact
	UpsertReadme(readme *types.ReadmeArtifact) error
	ReadReadme(taskID string) (*types.ReadmeArtifact, error)

	Close() error
}
