package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/coderead/pkg/errkind"
	"github.com/cuemby/coderead/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRepositories     = []byte("repositories")
	bucketRepositoryByName = []byte("repositories_by_full_name")
	bucketTasks            = []byte("tasks")
	bucketFiles            = []byte("files")
	bucketFilesByTaskPath  = []byte("files_by_task_path")
	bucketItems            = []byte("items")
	bucketItemsByFile      = []byte("items_by_file")
	bucketReadmes          = []byte("readmes")
)

// ErrConflict is returned by UpdateTask when the caller's Version is stale.
var ErrConflict = errkind.Wrapf(errkind.Conflict, "UpdateTask", "task version is stale, re-read and retry")

// ErrNotFound is returned by reads for a missing id.
func errNotFound(op, id string) error {
	return errkind.Wrapf(errkind.NotFound, op, "not found: %s", id)
}

// BoltStore implements Store over an embedded bbolt database, one bucket
// per entity plus secondary-index buckets for lookups outside the primary
// key.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a BoltDB file at dbPath.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketRepositories, bucketRepositoryByName,
			bucketTasks, bucketFiles, bucketFilesByTaskPath,
			bucketItems, bucketItemsByFile, bucketReadmes,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// --- Repositories ---

func (s *BoltStore) CreateRepository(repo *types.Repository) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if existing := tx.Bucket(bucketRepositoryByName).Get([]byte(repo.FullName)); existing != nil {
			return errkind.Wrapf(errkind.Conflict, "CreateRepository", "full_name %q already exists", repo.FullName)
		}
		data, err := json.Marshal(repo)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketRepositories).Put([]byte(repo.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketRepositoryByName).Put([]byte(repo.FullName), []byte(repo.ID))
	})
}

func (s *BoltStore) GetRepository(id string) (*types.Repository, error) {
	var repo types.Repository
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRepositories).Get([]byte(id))
		if data == nil {
			return errNotFound("GetRepository", id)
		}
		return json.Unmarshal(data, &repo)
	})
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (s *BoltStore) GetRepositoryByFullName(fullName string) (*types.Repository, error) {
	var id []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRepositoryByName).Get([]byte(fullName))
		if v == nil {
			return errNotFound("GetRepositoryByFullName", fullName)
		}
		id = append(id, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetRepository(string(id))
}

// DeleteRepositoryCascade removes (or soft-flips) a Repository and every
// Task, FileAnalysis, AnalysisItem, and ReadmeArtifact it owns. A second
// delete of an already-deleted repository is a success.
func (s *BoltStore) DeleteRepositoryCascade(id string, soft bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		repoBucket := tx.Bucket(bucketRepositories)
		data := repoBucket.Get([]byte(id))
		if data == nil {
			return nil // idempotent success
		}

		if soft {
			var repo types.Repository
			if err := json.Unmarshal(data, &repo); err != nil {
				return err
			}
			repo.Status = types.RepositoryDeleted
			repo.UpdatedAt = time.Now()
			out, err := json.Marshal(&repo)
			if err != nil {
				return err
			}
			return repoBucket.Put([]byte(id), out)
		}

		var repo types.Repository
		if err := json.Unmarshal(data, &repo); err != nil {
			return err
		}

		tasksBucket := tx.Bucket(bucketTasks)
		filesBucket := tx.Bucket(bucketFiles)
		filesIdxBucket := tx.Bucket(bucketFilesByTaskPath)
		itemsBucket := tx.Bucket(bucketItems)
		itemsIdxBucket := tx.Bucket(bucketItemsByFile)
		readmesBucket := tx.Bucket(bucketReadmes)

		var staleTaskIDs []string
		c := tasksBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.RepositoryID == id {
				staleTaskIDs = append(staleTaskIDs, task.ID)
			}
		}

		for _, taskID := range staleTaskIDs {
			var staleFileIDs []string
			fc := filesBucket.Cursor()
			for k, v := fc.First(); k != nil; k, v = fc.Next() {
				var file types.FileAnalysis
				if err := json.Unmarshal(v, &file); err != nil {
					return err
				}
				if file.TaskID == taskID {
					staleFileIDs = append(staleFileIDs, file.ID)
					if err := filesIdxBucket.Delete(filesByTaskPathKey(taskID, file.FilePath)); err != nil {
						return err
					}
					if err := filesBucket.Delete(k); err != nil {
						return err
					}
				}
			}

			for _, fileID := range staleFileIDs {
				ic := itemsBucket.Cursor()
				for k, v := ic.First(); k != nil; k, v = ic.Next() {
					var item types.AnalysisItem
					if err := json.Unmarshal(v, &item); err != nil {
						return err
					}
					if item.FileAnalysisID == fileID {
						if err := itemsIdxBucket.Delete(itemsByFileKey(fileID, item.ID)); err != nil {
							return err
						}
						if err := itemsBucket.Delete(k); err != nil {
							return err
						}
					}
				}
			}

			if err := readmesBucket.Delete([]byte(taskID)); err != nil {
				return err
			}
			if err := tasksBucket.Delete([]byte(taskID)); err != nil {
				return err
			}
		}

		if err := tx.Bucket(bucketRepositoryByName).Delete([]byte(repo.FullName)); err != nil {
			return err
		}
		return repoBucket.Delete([]byte(id))
	})
}

// --- Tasks ---

func (s *BoltStore) CreateTask(task *types.Task) error {
	task.Version = 1
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketTasks).Get([]byte(task.ID)) != nil {
			return errkind.Wrapf(errkind.Conflict, "CreateTask", "task %s already exists", task.ID)
		}
		return putTask(tx, task)
	})
}

// UpdateTask writes task's fields atomically, enforcing the monotone
// status invariant and optimistic concurrency on Version.
func (s *BoltStore) UpdateTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(task.ID))
		if data == nil {
			return errNotFound("UpdateTask", task.ID)
		}
		var existing types.Task
		if err := json.Unmarshal(data, &existing); err != nil {
			return err
		}

		if task.Version != 0 && task.Version != existing.Version {
			return ErrConflict
		}

		if err := checkTaskTransition(existing.Status, task.Status); err != nil {
			return err
		}
		if task.SuccessfulFiles+task.FailedFiles > task.TotalFiles {
			return errkind.Wrapf(errkind.Conflict, "UpdateTask", "successful+failed files exceeds total for task %s", task.ID)
		}
		if task.IsTerminal() && task.EndTime == nil {
			now := time.Now()
			task.EndTime = &now
		}

		task.Version = existing.Version + 1
		return putTask(tx, task)
	})
}

func checkTaskTransition(from, to types.TaskStatus) error {
	if from == to {
		return nil
	}
	switch from {
	case types.TaskPending:
		if to != types.TaskRunning {
			return errkind.Wrapf(errkind.Conflict, "UpdateTask", "invalid transition %s -> %s", from, to)
		}
	case types.TaskRunning:
		if to != types.TaskCompleted && to != types.TaskFailed {
			return errkind.Wrapf(errkind.Conflict, "UpdateTask", "invalid transition %s -> %s", from, to)
		}
	case types.TaskCompleted, types.TaskFailed:
		return errkind.Wrapf(errkind.Conflict, "UpdateTask", "task already terminal (%s), cannot move to %s", from, to)
	}
	return nil
}

func putTask(tx *bolt.Tx, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketTasks).Put([]byte(task.ID), data)
}

func (s *BoltStore) ReadTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return errNotFound("ReadTask", id)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) ListPendingTaskIDs() ([]string, error) {
	var pending []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.Status == types.TaskPending {
				pending = append(pending, &task)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	ids := make([]string, len(pending))
	for i, t := range pending {
		ids[i] = t.ID
	}
	return ids, nil
}

func (s *BoltStore) CountRunning() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.Status == types.TaskRunning {
				count++
			}
			return nil
		})
	})
	return count, err
}

func (s *BoltStore) ListRunningTasks() ([]*types.Task, error) {
	var running []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.Status == types.TaskRunning {
				t := task
				running = append(running, &t)
			}
			return nil
		})
	})
	return running, err
}

func (s *BoltStore) ListTasksByRepository(repositoryID string) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.RepositoryID == repositoryID {
				t := task
				tasks = append(tasks, &t)
			}
			return nil
		})
	})
	return tasks, err
}

// --- FileAnalyses ---

func filesByTaskPathKey(taskID, path string) []byte {
	return []byte(taskID + "\x00" + path)
}

// AppendFileAnalysis implements the preserve-success upsert rule: the row
// for (task, path) keeps a stable id across Scan's initial pending write
// and the worker's terminal write, and a non-success write is dropped if a
// success row already exists.
func (s *BoltStore) AppendFileAnalysis(file *types.FileAnalysis) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		idxBucket := tx.Bucket(bucketFilesByTaskPath)
		filesBucket := tx.Bucket(bucketFiles)
		key := filesByTaskPathKey(file.TaskID, file.FilePath)

		if existingID := idxBucket.Get(key); existingID != nil {
			data := filesBucket.Get(existingID)
			if data != nil {
				var existing types.FileAnalysis
				if err := json.Unmarshal(data, &existing); err != nil {
					return err
				}
				if existing.Status == types.FileSuccess && file.Status != types.FileSuccess {
					return nil // preserve-success: drop the non-success write
				}
				file.ID = existing.ID
			}
		} else {
			if err := idxBucket.Put(key, []byte(file.ID)); err != nil {
				return err
			}
		}

		file.UpdatedAt = time.Now()
		data, err := json.Marshal(file)
		if err != nil {
			return err
		}
		return filesBucket.Put([]byte(file.ID), data)
	})
}

func (s *BoltStore) ReadFilesByTask(taskID string) ([]*types.FileAnalysis, error) {
	var files []*types.FileAnalysis
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
			var file types.FileAnalysis
			if err := json.Unmarshal(v, &file); err != nil {
				return err
			}
			if file.TaskID == taskID {
				f := file
				files = append(files, &f)
			}
			return nil
		})
	})
	return files, err
}

func (s *BoltStore) ReadFile(taskID, path string) (*types.FileAnalysis, error) {
	var file types.FileAnalysis
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketFilesByTaskPath).Get(filesByTaskPathKey(taskID, path))
		if id == nil {
			return errNotFound("ReadFile", path)
		}
		data := tx.Bucket(bucketFiles).Get(id)
		if data == nil {
			return errNotFound("ReadFile", path)
		}
		return json.Unmarshal(data, &file)
	})
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// --- AnalysisItems ---

func itemsByFileKey(fileAnalysisID, itemID string) []byte {
	return []byte(fileAnalysisID + "\x00" + itemID)
}

func (s *BoltStore) AppendAnalysisItems(items []*types.AnalysisItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		itemsBucket := tx.Bucket(bucketItems)
		idxBucket := tx.Bucket(bucketItemsByFile)
		for _, item := range items {
			data, err := json.Marshal(item)
			if err != nil {
				return err
			}
			if err := itemsBucket.Put([]byte(item.ID), data); err != nil {
				return err
			}
			if err := idxBucket.Put(itemsByFileKey(item.FileAnalysisID, item.ID), []byte(item.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ReadItemsByFile(fileAnalysisID string) ([]*types.AnalysisItem, error) {
	var items []*types.AnalysisItem
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketItemsByFile).Cursor()
		prefix := []byte(fileAnalysisID + "\x00")
		itemsBucket := tx.Bucket(bucketItems)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			data := itemsBucket.Get(v)
			if data == nil {
				continue
			}
			var item types.AnalysisItem
			if err := json.Unmarshal(data, &item); err != nil {
				return err
			}
			items = append(items, &item)
		}
		return nil
	})
	return items, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// --- ReadmeArtifact ---

func (s *BoltStore) UpsertReadme(readme *types.ReadmeArtifact) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketReadmes)
		now := time.Now()
		if existing := bucket.Get([]byte(readme.TaskID)); existing != nil {
			var prev types.ReadmeArtifact
			if err := json.Unmarshal(existing, &prev); err == nil {
				readme.CreatedAt = prev.CreatedAt
			}
		} else {
			readme.CreatedAt = now
		}
		readme.UpdatedAt = now
		data, err := json.Marshal(readme)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(readme.TaskID), data)
	})
}

func (s *BoltStore) ReadReadme(taskID string) (*types.ReadmeArtifact, error) {
	var readme types.ReadmeArtifact
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReadmes).Get([]byte(taskID))
		if data == nil {
			return errNotFound("ReadReadme", taskID)
		}
		return json.Unmarshal(data, &readme)
	})
	if err != nil {
		return nil, err
	}
	return &readme, nil
}
