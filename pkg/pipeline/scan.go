package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cuemby/coderead/pkg/errkind"
	"github.com/cuemby/coderead/pkg/types"
	"github.com/google/uuid"
)

// runScan walks the repository tree and persists a pending FileAnalysis
// row for every candidate file. Rerunning Scan for a task that already has
// rows is a no-op for paths already recorded: the store's preserve-success
// upsert means re-walking never regresses a success row to pending.
func (d *Driver) runScan(ctx context.Context, task *types.Task) error {
	repo, err := d.store.GetRepository(task.RepositoryID)
	if err != nil {
		return errkind.Wrapf(errkind.Fatal, "Scan", "repository lookup: %v", err)
	}
	if _, statErr := os.Stat(repo.LocalPath); statErr != nil {
		return errkind.Wrapf(errkind.Fatal, "Scan", "repository path missing: %v", statErr)
	}

	existing, err := d.store.ReadFilesByTask(task.ID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[f.FilePath] = true
	}

	total := len(existing)
	walkErr := filepath.WalkDir(repo.LocalPath, func(path string, d2 os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d2.IsDir() {
			if d2.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(repo.LocalPath, path)
		if relErr != nil {
			return relErr
		}
		if !isCandidateFile(rel) || seen[rel] {
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil // unreadable file is simply not a candidate
		}

		file := &types.FileAnalysis{
			ID:        uuid.NewString(),
			TaskID:    task.ID,
			FilePath:  rel,
			Language:  languageOf(rel),
			Size:      int64(len(content)),
			CodeLines: countCodeLines(string(content)),
			Status:    types.FilePending,
			Content:   string(content),
		}
		if err := d.store.AppendFileAnalysis(file); err != nil {
			return err
		}
		seen[rel] = true
		total++
		task.CodeLines += file.CodeLines
		return nil
	})
	if walkErr != nil {
		return errkind.Wrapf(errkind.Fatal, "Scan", "walk repository: %v", walkErr)
	}

	task.TotalFiles = total
	task.CurrentStep = types.StageIndex
	d.heartbeat(task)
	return nil
}
