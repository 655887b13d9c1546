package pipeline

import (
	"context"

	"github.com/cuemby/coderead/pkg/errkind"
	"github.com/cuemby/coderead/pkg/types"
)

// runIndex builds (or confirms) the task's vector index, delivering
// documents in batches of config.Index.BatchSize. Idempotent: if
// vector_index_name is already set and the adapter confirms it still
// exists, the stage is skipped.
func (d *Driver) runIndex(ctx context.Context, task *types.Task) error {
	if task.VectorIndexName != "" {
		exists, err := d.vector.Exists(ctx, task.VectorIndexName)
		if err != nil {
			return errkind.Wrapf(errkind.Fatal, "Index", "confirm existing index: %v", err)
		}
		if exists {
			task.CurrentStep = types.StageAnalyze
			d.heartbeat(task)
			return nil
		}
	}

	files, err := d.store.ReadFilesByTask(task.ID)
	if err != nil {
		return err
	}

	batchSize := d.cfg.Index.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	var indexName string
	var pending []types.VectorChunk
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if indexName == "" {
			name, err := d.vector.CreateIndex(ctx, pending, "embedding")
			if err != nil {
				return err
			}
			indexName = name
		} else if err := d.vector.AddDocuments(ctx, indexName, pending); err != nil {
			return err
		}
		pending = pending[:0]
		return nil
	}

	for _, f := range files {
		if f.Content == "" {
			continue
		}
		pending = append(pending, types.VectorChunk{
			Path:      f.FilePath,
			Language:  f.Language,
			StartLine: 1,
			EndLine:   f.CodeLines,
			Text:      f.Content,
		})
		if len(pending) >= batchSize {
			if err := flush(); err != nil {
				return errkind.Wrapf(errkind.Fatal, "Index", "add documents: %v", err)
			}
		}
	}
	if err := flush(); err != nil {
		return errkind.Wrapf(errkind.Fatal, "Index", "add documents: %v", err)
	}

	if indexName == "" {
		// Empty repository: index stage is a no-op, no index to create.
		task.CurrentStep = types.StageAnalyze
		d.heartbeat(task)
		return nil
	}

	task.VectorIndexName = indexName
	task.CurrentStep = types.StageAnalyze
	d.heartbeat(task)
	return nil
}
