// Package badger persists file digests in a BadgerDB directory so a restarted
// batch does not re-hash files that have not changed.
package badger

import (
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
)

const keyPrefix = "digest:"

// Store is a checksum.Store backed by BadgerDB.
type Store struct {
	db *badgerdb.DB
}

// Open opens (or creates) a digest cache at dir.
func Open(dir string) (*Store, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	return open(opts)
}

// OpenInMemory opens a cache that lives only for the process.
func OpenInMemory() (*Store, error) {
	opts := badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return open(opts)
}

func open(opts badgerdb.Options) (*Store, error) {
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open digest cache: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the digest stored under key.
func (s *Store) Get(key string) (string, bool, error) {
	var digest string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			digest = string(val)
			return nil
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("digest cache get: %w", err)
	}
	return digest, true, nil
}

// Put stores digest under key.
func (s *Store) Put(key, digest string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keyPrefix+key), []byte(digest))
	})
}

// Len counts cached digests.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Size is the on-disk footprint of the cache as last measured by badger.
func (s *Store) Size() int64 {
	lsm, vlog := s.db.Size()
	return lsm + vlog
}

// Drop removes every cached digest.
func (s *Store) Drop() error {
	if err := s.db.DropPrefix([]byte(keyPrefix)); err != nil {
		return fmt.Errorf("digest cache drop: %w", err)
	}
	return nil
}

// Trim empties the cache once it has grown past maxBytes and reclaims value
// log space. maxBytes <= 0 disables the limit.
func (s *Store) Trim(maxBytes int64) error {
	if maxBytes <= 0 || s.Size() <= maxBytes {
		return nil
	}
	if err := s.Drop(); err != nil {
		return err
	}
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			if errors.Is(err, badgerdb.ErrNoRewrite) || errors.Is(err, badgerdb.ErrRejected) ||
				errors.Is(err, badgerdb.ErrGCInMemoryMode) {
				return nil
			}
			return fmt.Errorf("digest cache gc: %w", err)
		}
	}
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}
