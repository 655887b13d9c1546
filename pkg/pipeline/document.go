package pipeline

import (
	"context"
	"time"

	"github.com/cuemby/coderead/pkg/errkind"
	"github.com/cuemby/coderead/pkg/types"
)

// runDocument submits the repository to the Document-Generation service
// and polls until it reports completion, failure, or the configured
// timeout elapses. On success the returned markdown is persisted as the
// task's ReadmeArtifact and the task completes. On failure or timeout, the
// task fails but every FileAnalysis and AnalysisItem already persisted is
// retained.
func (d *Driver) runDocument(ctx context.Context, task *types.Task) error {
	if task.DocumentJobID == "" {
		repo, err := d.store.GetRepository(task.RepositoryID)
		if err != nil {
			return errkind.Wrapf(errkind.Fatal, "Document", "repository lookup: %v", err)
		}
		jobID, err := d.doc.Submit(ctx, repo.LocalPath, nil)
		if err != nil {
			return errkind.Wrapf(errkind.Fatal, "Document", "submit: %v", err)
		}
		task.DocumentJobID = jobID
		d.heartbeat(task)
	}

	pollInterval := d.cfg.Doc.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	maxTotal := d.cfg.Doc.MaxTotal
	if maxTotal <= 0 {
		maxTotal = 5 * time.Minute
	}

	deadline := time.Now().Add(maxTotal)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := d.doc.Status(ctx, task.DocumentJobID)
		if err != nil {
			return d.documentFailure(task, errkind.Wrapf(errkind.Fatal, "Document", "status poll: %v", err))
		}

		if status.Done {
			if status.Error != "" {
				return d.documentFailure(task, errkind.Wrapf(errkind.Fatal, "Document", "upstream reported failure: %s", status.Error))
			}
			if err := d.store.UpsertReadme(&types.ReadmeArtifact{
				TaskID:   task.ID,
				Markdown: status.Markdown,
			}); err != nil {
				return errkind.Wrapf(errkind.Fatal, "Document", "persist readme: %v", err)
			}
			task.CurrentStep = types.StageDocument
			return d.complete(task)
		}

		if time.Now().After(deadline) {
			return d.documentFailure(task, errkind.Wrapf(errkind.Fatal, "Document", "document stage timed out after %s", maxTotal))
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// documentFailure applies the configurable Document-stage failure policy:
// "fail" marks the task failed (the default, matching the source system's
// behavior); "complete_with_warning" keeps prior artifacts and completes
// the task with the failure recorded in error_message. A task's own
// Config.DocumentFailurePolicy overrides the process-wide default.
func (d *Driver) documentFailure(task *types.Task, err error) error {
	policy := task.Config.DocumentFailurePolicy
	if policy == "" {
		policy = d.cfg.Doc.DocumentFailurePolicy
	}
	if policy == "complete_with_warning" {
		task.ErrorMessage = err.Error()
		return d.complete(task)
	}
	return err
}
