package etag

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDBStore is a persistent on-device Store backed by LevelDB. It keeps
// cache entries across process restarts, which is what makes the
// 304-without-local-entry case rare rather than routine.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDBStore opens (or creates) a LevelDB store at path.
func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

// Get returns the entry for key, or ErrCacheMiss.
func (s *LevelDBStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, ErrCacheMiss
		}
		storeErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("leveldb get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		storeErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("unmarshal cache entry: %w", err)
	}

	return &entry, nil
}

// Set stores the entry for key.
func (s *LevelDBStore) Set(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		storeErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.db.Put([]byte(key), data, nil); err != nil {
		storeErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Delete removes the entry for key.
func (s *LevelDBStore) Delete(ctx context.Context, key string) error {
	if err := s.db.Delete([]byte(key), nil); err != nil {
		storeErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

// Clear removes all entries.
func (s *LevelDBStore) Clear(ctx context.Context) error {
	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(nil, nil)
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		storeErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("leveldb iterate: %w", err)
	}

	if err := s.db.Write(batch, nil); err != nil {
		storeErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("leveldb write: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
