// Package types defines the entities the Analysis Orchestrator persists and
// drives: Repository, Task, FileAnalysis, AnalysisItem, and ReadmeArtifact.
package types

import "time"

// RepositoryStatus is the lifecycle state of a Repository.
type RepositoryStatus string

const (
	RepositoryActive  RepositoryStatus = "active"
	RepositoryDeleted RepositoryStatus = "deleted"
)

// Repository is the uploaded source tree a Task analyzes.
type Repository struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"display_name"`
	FullName    string           `json:"full_name"`  // unique within user
	LocalPath   string           `json:"local_path"` // content-addressed by upload hash
	Status      RepositoryStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// PipelineStage is the tagged variant the Pipeline Driver dispatches on.
// A single switch over this type replaces any dynamic stage registry.
type PipelineStage int

const (
	StageScan PipelineStage = iota
	StageIndex
	StageAnalyze
	StageDocument
)

func (s PipelineStage) String() string {
	switch s {
	case StageScan:
		return "scan"
	case StageIndex:
		return "index"
	case StageAnalyze:
		return "analyze"
	case StageDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Task is one end-to-end analysis run for a repository version.
type Task struct {
	ID           string        `json:"id"`
	RepositoryID string        `json:"repository_id"`
	Status       TaskStatus    `json:"status"`
	CurrentStep  PipelineStage `json:"current_step"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	TotalFiles      int `json:"total_files"`
	SuccessfulFiles int `json:"successful_files"`
	FailedFiles     int `json:"failed_files"`

	CodeLines   int `json:"code_lines"`
	ModuleCount int `json:"module_count"`

	VectorIndexName string `json:"vector_index_name,omitempty"`
	CurrentFile     string `json:"current_file,omitempty"`

	AnalysisTotalFiles   int `json:"analysis_total_files"`
	AnalysisSuccessFiles int `json:"analysis_success_files"`
	AnalysisFailedFiles  int `json:"analysis_failed_files"`

	DocumentJobID string `json:"document_job_id,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	// CancelRequested is set by an operator action; the driver observes it
	// at the next safe point between files or between polls.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// Heartbeat is refreshed by the worker advancing this task's stage; a
	// task whose status is running and whose Heartbeat is stale beyond
	// 2*H is an orphan candidate for recovery.
	Heartbeat time.Time `json:"heartbeat"`

	Config Config `json:"config"`

	// Version is a monotonic counter used for optimistic-concurrency
	// updates against the Task Store.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
}

// IsTerminal reports whether the task has reached a final status.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// FileStatus is the lifecycle state of a FileAnalysis row.
type FileStatus string

const (
	FilePending FileStatus = "pending"
	FileSuccess FileStatus = "success"
	FileFailed  FileStatus = "failed"
)

// FileAnalysis is a single candidate file discovered during Scan and
// (eventually) analyzed during Analyze.
type FileAnalysis struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"task_id"`
	FilePath  string     `json:"file_path"`
	Language  string     `json:"language"`
	Size      int64      `json:"size"`
	CodeLines int        `json:"code_lines"`
	Status    FileStatus `json:"status"`

	Content      string   `json:"content,omitempty"`
	Analysis     string   `json:"analysis,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`

	ErrorMessage string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AnalysisItem is one unit of insight extracted from a successfully
// analyzed file; items are append-only and never mutated.
type AnalysisItem struct {
	ID             string `json:"id"`
	FileAnalysisID string `json:"file_analysis_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	SourceExcerpt  string `json:"source_excerpt,omitempty"`
	Language       string `json:"language"`
	CodeSnippet    string `json:"code_snippet,omitempty"`
	StartLine      int    `json:"start_line,omitempty"`
	EndLine        int    `json:"end_line,omitempty"`
}

// ReadmeArtifact is the Document stage's persisted output, 1:1 with a Task.
type ReadmeArtifact struct {
	TaskID    string    `json:"task_id"`
	Markdown  string    `json:"markdown"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VectorChunk is one document delivered to, or returned by, the Vector
// Index adapter.
type VectorChunk struct {
	Path      string `json:"path"`
	Language  string `json:"language"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Text      string `json:"text"`
}

// Config is the per-task config blob a submitter may override at creation
// time; zero values fall back to the process-wide pkg/config defaults.
type Config struct {
	Model                 string `json:"model,omitempty"`
	DocumentFailurePolicy string `json:"document_failure_policy,omitempty"`
}
