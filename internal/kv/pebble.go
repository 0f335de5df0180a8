package kv

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
)

// Key layout:
//
//	'n' <keyspace>               registry entry, empty value
//	'd' <keyspace> 0x00 <key>    data
const (
	registryPrefix = 'n'
	dataPrefix     = 'd'
)

const casStripes = 64

// PebbleStore keeps all keyspaces in one pebble LSM, separated by key prefix.
// Writes are unsynced; Flush syncs the WAL.
type PebbleStore struct {
	db *pebble.DB

	// mu guards keyspaces. CAS holds it shared so a drop waits for
	// in-flight writes to the keyspace.
	mu        sync.RWMutex
	keyspaces map[string]struct{}

	stripes [casStripes]sync.Mutex
}

// OpenPebble opens the pebble directory at dir. An empty dir opens a
// volatile in-memory store.
func OpenPebble(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
		dir = "cpid"
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeStorageOpen, fmt.Sprintf("failed to open database %s", dir), err)
	}

	s := &PebbleStore{db: db, keyspaces: make(map[string]struct{})}
	if err := s.loadRegistry(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) loadRegistry() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{registryPrefix},
		UpperBound: []byte{registryPrefix + 1},
	})
	if err != nil {
		return cerrors.StorageError("failed to read keyspace registry", err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		s.keyspaces[string(iter.Key()[1:])] = struct{}{}
	}
	if err := iter.Close(); err != nil {
		return cerrors.StorageError("failed to read keyspace registry", err)
	}
	return nil
}

func registryKey(keyspace string) []byte {
	return append([]byte{registryPrefix}, keyspace...)
}

// keyspacePrefix returns 'd' keyspace 0x00; the upper bound of the range
// is the same with the last byte set to 0x01.
func keyspacePrefix(keyspace string) []byte {
	p := make([]byte, 0, len(keyspace)+2)
	p = append(p, dataPrefix)
	p = append(p, keyspace...)
	return append(p, 0)
}

func keyspaceUpperBound(keyspace string) []byte {
	p := keyspacePrefix(keyspace)
	p[len(p)-1] = 1
	return p
}

func dataKey(keyspace string, key []byte) []byte {
	return append(keyspacePrefix(keyspace), key...)
}

func (s *PebbleStore) CreateKeyspace(name string) error {
	if err := ValidateKeyspaceName(name); err != nil {
		return cerrors.InputError(err.Error(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keyspaces[name]; ok {
		return nil
	}
	if err := s.db.Set(registryKey(name), nil, pebble.Sync); err != nil {
		return cerrors.StorageError(fmt.Sprintf("create %s failed", name), err)
	}
	s.keyspaces[name] = struct{}{}
	return nil
}

func (s *PebbleStore) DropKeyspace(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keyspaces[name]; !ok {
		return fmt.Errorf("drop %s: %w", name, ErrKeyspaceNotFound)
	}

	b := s.db.NewBatch()
	if err := b.DeleteRange(keyspacePrefix(name), keyspaceUpperBound(name), nil); err != nil {
		_ = b.Close()
		return cerrors.StorageError(fmt.Sprintf("drop %s failed", name), err)
	}
	if err := b.Delete(registryKey(name), nil); err != nil {
		_ = b.Close()
		return cerrors.StorageError(fmt.Sprintf("drop %s failed", name), err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return cerrors.StorageError(fmt.Sprintf("drop %s failed", name), err)
	}
	delete(s.keyspaces, name)
	return nil
}

func (s *PebbleStore) Keyspaces() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.keyspaces)), nil
}

func (s *PebbleStore) HasKeyspace(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keyspaces[name]
	return ok, nil
}

func (s *PebbleStore) Get(keyspace string, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.keyspaces[keyspace]; !ok {
		return nil, fmt.Errorf("get %s: %w", keyspace, ErrKeyspaceNotFound)
	}
	v, _, err := s.get(dataKey(keyspace, key))
	return v, err
}

// get returns a copy of the value and whether the key exists.
func (s *PebbleStore) get(k []byte) ([]byte, bool, error) {
	v, closer, err := s.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cerrors.StorageError("get failed", err)
	}
	out := bytes.Clone(v)
	if out == nil {
		out = []byte{}
	}
	_ = closer.Close()
	return out, true, nil
}

func (s *PebbleStore) stripe(k []byte) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(k)
	return &s.stripes[h.Sum32()%casStripes]
}

func (s *PebbleStore) CompareAndSwap(keyspace string, key, old, new []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.keyspaces[keyspace]; !ok {
		return false, fmt.Errorf("compare-and-swap %s: %w", keyspace, ErrKeyspaceNotFound)
	}

	k := dataKey(keyspace, key)
	m := s.stripe(k)
	m.Lock()
	defer m.Unlock()

	cur, exists, err := s.get(k)
	if err != nil {
		return false, err
	}
	if exists != (old != nil) || !bytes.Equal(cur, old) {
		return false, nil
	}

	if new == nil {
		err = s.db.Delete(k, pebble.NoSync)
	} else {
		err = s.db.Set(k, new, pebble.NoSync)
	}
	if err != nil {
		return false, cerrors.StorageError(fmt.Sprintf("compare-and-swap %s failed", keyspace), err)
	}
	return true, nil
}

func (s *PebbleStore) ForEach(keyspace string, fn func(key, value []byte) error) error {
	s.mu.RLock()
	if _, ok := s.keyspaces[keyspace]; !ok {
		s.mu.RUnlock()
		return fmt.Errorf("iterate %s: %w", keyspace, ErrKeyspaceNotFound)
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: keyspacePrefix(keyspace),
		UpperBound: keyspaceUpperBound(keyspace),
	})
	s.mu.RUnlock()
	if err != nil {
		return cerrors.StorageError(fmt.Sprintf("iterate %s failed", keyspace), err)
	}
	defer iter.Close()

	skip := len(keyspace) + 2
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key()[skip:], iter.Value()); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return cerrors.StorageError(fmt.Sprintf("iterate %s failed", keyspace), err)
	}
	return nil
}

// Flush syncs the WAL, covering every keyspace.
func (s *PebbleStore) Flush(...string) error {
	if err := s.db.LogData(nil, pebble.Sync); err != nil {
		return cerrors.StorageError("failed to sync database", err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// Metrics returns pebble's internal counters for export.
func (s *PebbleStore) Metrics() *pebble.Metrics {
	return s.db.Metrics()
}
