package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"testkit/pkg/logging"
)

// FileStore persists each record as a separate JSON file under
// {root}/{recordType}/{id}.json. Separate files keep individual record
// operations cheap and make the on-disk layout inspectable during debugging.
type FileStore struct {
	mu   sync.RWMutex
	root string
}

// NewFileStore creates a file-backed store rooted at the given directory.
// The directory is created lazily on first Save.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (fs *FileStore) recordPath(recordType, id string) string {
	return filepath.Join(fs.root, sanitizeFilename(recordType), sanitizeFilename(id)+".json")
}

// Save persists the record under its "id" field.
func (fs *FileStore) Save(ctx context.Context, recordType string, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	rec = Normalize(rec)
	id := RecordID(rec)
	if id == "" {
		return nil, fmt.Errorf("%w: record has no id", ErrStorage)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := filepath.Join(fs.root, sanitizeFilename(recordType))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory %s: %v", ErrStorage, dir, err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal record %s/%s: %v", ErrStorage, recordType, id, err)
	}

	path := fs.recordPath(recordType, id)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("%w: failed to write %s: %v", ErrStorage, path, err)
	}

	logging.Debug("Store", "Saved %s/%s to %s", recordType, id, path)
	return rec, nil
}

// Get returns the first record matching the filter, or nil if none matches.
// A filter containing only "id" is served by a direct file read.
func (fs *FileStore) Get(ctx context.Context, recordType string, filter Filter) (Record, error) {
	if id, ok := filter["id"].(string); ok && len(filter) == 1 {
		fs.mu.RLock()
		defer fs.mu.RUnlock()
		return fs.readRecord(recordType, id)
	}

	records, err := fs.Query(ctx, recordType, filter)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Delete removes the record with the given id.
func (fs *FileStore) Delete(ctx context.Context, recordType string, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.recordPath(recordType, id)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to delete %s: %v", ErrStorage, path, err)
	}

	logging.Debug("Store", "Deleted %s/%s", recordType, id)
	return true, nil
}

// Query returns all records of the given type matching the filter.
func (fs *FileStore) Query(ctx context.Context, recordType string, filter Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	dir := filepath.Join(fs.root, sanitizeFilename(recordType))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to list %s: %v", ErrStorage, dir, err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := fs.readRecord(recordType, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		if Matches(rec, filter) {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (fs *FileStore) readRecord(recordType, id string) (Record, error) {
	path := fs.recordPath(recordType, id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrStorage, path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal %s: %v", ErrStorage, path, err)
	}
	return rec, nil
}

// sanitizeFilename replaces path separators and other unsafe characters so
// arbitrary record ids cannot escape the store root.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return replacer.Replace(name)
}
