package kv

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
)

// BoltStore keeps each keyspace in its own top-level bbolt bucket.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the bbolt file at path. timeout bounds the
// wait for the file lock held by another process.
func OpenBolt(path string, timeout time.Duration) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeStorageOpen, "failed to create database directory", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, cerrors.New(cerrors.ErrCodeStorageLocked,
			fmt.Sprintf("database %s is locked by another process", path), err).
			WithSuggestion("stop the running cpid server or query it with --socket")
	}
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeStorageOpen, fmt.Sprintf("failed to open database %s", path), err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) CreateKeyspace(name string) error {
	if err := ValidateKeyspaceName(name); err != nil {
		return cerrors.InputError(err.Error(), err)
	}
	exists, err := s.HasKeyspace(name)
	if err != nil || exists {
		return err
	}
	err = s.update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	return wrapStorage("create", name, err)
}

func (s *BoltStore) DropKeyspace(name string) error {
	err := s.update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(name))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return ErrKeyspaceNotFound
		}
		return err
	})
	return wrapStorage("drop", name, err)
}

func (s *BoltStore) Keyspaces() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, cerrors.StorageError("failed to list keyspaces", err)
	}
	slices.Sort(names)
	return names, nil
}

func (s *BoltStore) HasKeyspace(name string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket([]byte(name)) != nil
		return nil
	})
	return ok, wrapStorage("lookup", name, err)
}

func (s *BoltStore) Get(keyspace string, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return ErrKeyspaceNotFound
		}
		// Values are only valid for the life of the transaction.
		if v := b.Get(key); v != nil {
			out = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, wrapStorage("get", keyspace, err)
	}
	return out, nil
}

func (s *BoltStore) CompareAndSwap(keyspace string, key, old, new []byte) (bool, error) {
	var swapped bool
	err := s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return ErrKeyspaceNotFound
		}
		cur := b.Get(key)
		if (cur == nil) != (old == nil) || !bytes.Equal(cur, old) {
			return nil
		}
		swapped = true
		if new == nil {
			return b.Delete(key)
		}
		return b.Put(key, new)
	})
	if err != nil {
		return false, wrapStorage("compare-and-swap", keyspace, err)
	}
	return swapped, nil
}

func (s *BoltStore) ForEach(keyspace string, fn func(key, value []byte) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return ErrKeyspaceNotFound
		}
		return b.ForEach(fn)
	})
	return wrapStorage("iterate", keyspace, err)
}

// Flush syncs the file. Committed transactions are already fsynced.
func (s *BoltStore) Flush(...string) error {
	if err := s.db.Sync(); err != nil {
		return cerrors.StorageError("failed to sync database", err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) update(fn func(tx *bolt.Tx) error) error {
	return s.db.Update(fn)
}

// wrapStorage leaves ErrKeyspaceNotFound and coded errors recognisable.
func wrapStorage(op, keyspace string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrKeyspaceNotFound) {
		return fmt.Errorf("%s %s: %w", op, keyspace, err)
	}
	if _, ok := cerrors.As(err); ok {
		return err
	}
	return cerrors.StorageError(fmt.Sprintf("%s %s failed", op, keyspace), err)
}
