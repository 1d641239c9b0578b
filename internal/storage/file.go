// Package storage provides job-ledger snapshot stores. The engine treats
// them as opaque key-value persistence: snapshots keyed by job identifier,
// swappable between file, redis, and postgres backends.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/maltedev/price-tracker/internal/jobs"
)

// FileStore keeps every job snapshot in one JSON file, rewritten atomically
// on each save (temp file + rename) so a crash mid-write never corrupts the
// ledger record.
type FileStore struct {
	mu       sync.RWMutex
	jobs     map[string]*jobs.Job
	filename string
}

func NewFileStore(filename string) (*FileStore, error) {
	fs := &FileStore{
		jobs:     make(map[string]*jobs.Job),
		filename: filename,
	}

	if err := fs.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return fs, nil
}

func (fs *FileStore) Save(_ context.Context, job *jobs.Job) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	fs.jobs[job.ID] = job
	return fs.flush()
}

func (fs *FileStore) Load(_ context.Context, id string) (*jobs.Job, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	job, ok := fs.jobs[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}

	// Hand out a decoded copy so callers never alias the stored snapshot.
	return clone(job)
}

func (fs *FileStore) List(_ context.Context) ([]*jobs.Job, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]*jobs.Job, 0, len(fs.jobs))
	for _, job := range fs.jobs {
		cp, err := clone(job)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out, nil
}

func (fs *FileStore) flush() error {
	data, err := json.MarshalIndent(fs.jobs, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(fs.filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := fs.filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, fs.filename)
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &fs.jobs)
}

func clone(job *jobs.Job) (*jobs.Job, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}

	var cp jobs.Job
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}

	return &cp, nil
}
