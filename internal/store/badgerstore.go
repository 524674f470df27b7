package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"testkit/pkg/logging"
)

// BadgerConfig holds configuration for the embedded Badger-backed store.
type BadgerConfig struct {
	// Path is the directory for the database files. Ignored when InMemory
	// is set.
	Path string

	// InMemory disables disk persistence. Useful for tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Zero disables the GC loop.
	GCInterval time.Duration
}

// DefaultBadgerConfig returns production defaults: durable writes and a
// five minute GC cadence.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:       path,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// BadgerStore is a Store backed by an embedded BadgerDB instance. Keys are
// "{recordType}/{id}" and values are JSON-encoded records, which keeps
// prefix scans per record type cheap.
type BadgerStore struct {
	db     *badger.DB
	gcStop chan struct{}
}

// NewBadgerStore opens (or creates) a Badger database with the given
// configuration. The caller owns the store and must Close it.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger at %s: %v", ErrStorage, cfg.Path, err)
	}

	bs := &BadgerStore{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		bs.gcStop = make(chan struct{})
		go bs.gcLoop(cfg.GCInterval)
	}
	return bs, nil
}

// Close stops the GC loop and closes the underlying database.
func (bs *BadgerStore) Close() error {
	if bs.gcStop != nil {
		close(bs.gcStop)
		bs.gcStop = nil
	}
	return bs.db.Close()
}

func badgerKey(recordType, id string) []byte {
	return []byte(recordType + "/" + id)
}

// Save persists the record under its "id" field.
func (bs *BadgerStore) Save(ctx context.Context, recordType string, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	rec = Normalize(rec)
	id := RecordID(rec)
	if id == "" {
		return nil, fmt.Errorf("%w: record has no id", ErrStorage)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal record %s/%s: %v", ErrStorage, recordType, id, err)
	}

	err = bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(recordType, id), data)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to save %s/%s: %v", ErrStorage, recordType, id, err)
	}
	return rec, nil
}

// Get returns the first record matching the filter, or nil if none matches.
func (bs *BadgerStore) Get(ctx context.Context, recordType string, filter Filter) (Record, error) {
	if id, ok := filter["id"].(string); ok && len(filter) == 1 {
		var rec Record
		err := bs.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(badgerKey(recordType, id))
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
		})
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to get %s/%s: %v", ErrStorage, recordType, id, err)
		}
		return rec, nil
	}

	records, err := bs.Query(ctx, recordType, filter)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Delete removes the record with the given id.
func (bs *BadgerStore) Delete(ctx context.Context, recordType string, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	key := badgerKey(recordType, id)
	found := false
	err := bs.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return txn.Delete(key)
	})
	if err != nil {
		return false, fmt.Errorf("%w: failed to delete %s/%s: %v", ErrStorage, recordType, id, err)
	}
	return found, nil
}

// Query returns all records of the given type matching the filter.
func (bs *BadgerStore) Query(ctx context.Context, recordType string, filter Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	var records []Record
	prefix := []byte(recordType + "/")
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			if Matches(rec, filter) {
				records = append(records, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query %s: %v", ErrStorage, recordType, err)
	}
	return records, nil
}

// gcLoop runs Badger value log garbage collection on a fixed cadence.
func (bs *BadgerStore) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing worth collecting.
			if err := bs.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logging.Warn("Store", "Badger GC failed: %v", err)
			}
		case <-bs.gcStop:
			return
		}
	}
}
