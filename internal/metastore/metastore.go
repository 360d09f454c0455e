// Package metastore persists the dependency signatures observed by
// the last build: a single-file store mapping absolute filesystem
// paths to JSON signature documents.
package metastore

import (
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var bucketName = []byte("file_metadata")

// Store is a bbolt-backed path → signature map. Writes are durable
// before Put returns, and concurrent Put calls from scheduler worker
// threads are serialized by the store.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, xerrors.Errorf("open metadata store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("initialize metadata store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Get returns the signature stored for path, or nil if none was ever
// committed.
func (s *Store) Get(path string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketName).Get([]byte(path)); v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Put stores the signature for path, replacing any previous value.
func (s *Store) Put(path string, signature []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(path), signature)
	})
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}
