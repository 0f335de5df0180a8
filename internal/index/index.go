// Package index maintains the bidirectional class/package index on top of
// a kv.Store.
//
// Each named index owns two keyspaces: "<name>-class_pkgs" maps a simple
// class name to the packages declaring it, and "<name>-pkg_classes" maps a
// dotted package name to its classes. Values are JSON arrays of strings,
// kept sorted and deduplicated by every write.
package index

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
	"github.com/Aman-CERP/cpid/internal/kv"
)

// Keyspace name suffixes.
const (
	ClassSuffix   = "-class_pkgs"
	PackageSuffix = "-pkg_classes"
)

// Tuple is one (class, package) fact produced by ingestion. Origin names
// the archive entry, listing line, or source file it came from; it is
// logged, never stored.
type Tuple struct {
	Class   string
	Package string
	Origin  string
}

// Results maps each queried name to its sorted list of matches.
type Results map[string][]string

// Role says which side of an index an Entry belongs to.
type Role string

const (
	RoleClass   Role = "class"
	RolePackage Role = "package"
)

// Entry is one stored key visited by Enumerate.
type Entry struct {
	Role   Role
	Key    string
	Values []string
}

// Store is the index layer. It holds no state of its own beyond the shared
// kv.Store, so one value may serve every connection.
type Store struct {
	kv kv.Store
}

// New wraps a kv.Store.
func New(store kv.Store) *Store {
	return &Store{kv: store}
}

// ClassKeyspace returns the class->packages keyspace name for index.
func ClassKeyspace(index string) string { return index + ClassSuffix }

// PackageKeyspace returns the package->classes keyspace name for index.
func PackageKeyspace(index string) string { return index + PackageSuffix }

// ValidateName rejects index names that cannot be stored.
func ValidateName(index string) error {
	if err := kv.ValidateKeyspaceName(index); err != nil {
		return cerrors.New(cerrors.ErrCodeInvalidInput, "invalid index name: "+err.Error(), nil)
	}
	return nil
}

// OpenOrCreate makes sure both keyspaces of index exist.
func (s *Store) OpenOrCreate(index string) error {
	if err := ValidateName(index); err != nil {
		return err
	}
	for _, ks := range []string{ClassKeyspace(index), PackageKeyspace(index)} {
		if err := s.kv.CreateKeyspace(ks); err != nil {
			return err
		}
	}
	return nil
}

// Drop deletes both keyspaces of index. The data cannot be recovered.
func (s *Store) Drop(index string) error {
	if err := ValidateName(index); err != nil {
		return err
	}
	dropped := 0
	for _, ks := range []string{ClassKeyspace(index), PackageKeyspace(index)} {
		err := s.kv.DropKeyspace(ks)
		if errors.Is(err, kv.ErrKeyspaceNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		dropped++
	}
	if dropped == 0 {
		return cerrors.New(cerrors.ErrCodeIndexNotFound, fmt.Sprintf("index %s does not exist", index), nil).
			WithSuggestion("run 'cpid indexes' to list existing indexes")
	}
	slog.Info("index dropped", slog.String("index", index))
	return nil
}

// ApplyTuples merges every tuple into both directions of index and flushes
// before returning. Each key is updated atomically; the batch as a whole
// is not one transaction. Tuples with an empty class or package are
// skipped. Returns the number of tuples applied.
func (s *Store) ApplyTuples(index string, tuples []Tuple) (int, error) {
	if err := s.OpenOrCreate(index); err != nil {
		return 0, err
	}
	classKS, pkgKS := ClassKeyspace(index), PackageKeyspace(index)

	applied := 0
	for _, t := range tuples {
		// Empty keys are rejected by bolt; skip the whole pair so neither
		// side is written.
		if t.Class == "" || t.Package == "" {
			slog.Warn("skipping tuple with empty name",
				slog.String("index", index),
				slog.String("class", t.Class),
				slog.String("package", t.Package),
				slog.String("origin", t.Origin))
			continue
		}
		if _, err := kv.Update(s.kv, classKS, []byte(t.Class), mergeFunc(classKS, t.Package)); err != nil {
			return applied, err
		}
		if _, err := kv.Update(s.kv, pkgKS, []byte(t.Package), mergeFunc(pkgKS, t.Class)); err != nil {
			return applied, err
		}
		applied++
		if t.Origin != "" {
			slog.Debug("tuple indexed",
				slog.String("index", index),
				slog.String("class", t.Class),
				slog.String("package", t.Package),
				slog.String("origin", t.Origin))
		}
	}

	if err := s.kv.Flush(classKS, pkgKS); err != nil {
		return applied, err
	}
	return applied, nil
}

func mergeFunc(keyspace, item string) kv.UpdateFunc {
	return func(old []byte) ([]byte, error) {
		list, err := DecodeList(old)
		if err != nil {
			slog.Warn("discarding undecodable list value",
				slog.String("keyspace", keyspace),
				slog.String("error", err.Error()))
			list = nil
		}
		return EncodeList(Insert(list, item))
	}
}

// QueryClass returns the packages declaring className in index. A class
// that was never indexed maps to an empty list, not an error.
func (s *Store) QueryClass(index, className string) (Results, error) {
	return s.QueryClasses([]string{index}, []string{className})
}

// QueryPackage returns the classes declared in packageName.
func (s *Store) QueryPackage(index, packageName string) (Results, error) {
	return s.QueryPackages([]string{index}, []string{packageName})
}

// QueryClasses looks up every class name in every index and returns, per
// name, the union of the packages found.
func (s *Store) QueryClasses(indexes, classNames []string) (Results, error) {
	return s.query(indexes, classNames, ClassKeyspace)
}

// QueryPackages is the package-side counterpart of QueryClasses.
func (s *Store) QueryPackages(indexes, packageNames []string) (Results, error) {
	return s.query(indexes, packageNames, PackageKeyspace)
}

func (s *Store) query(indexes, names []string, keyspace func(string) string) (Results, error) {
	out := make(Results, len(names))
	for _, name := range names {
		out[name] = []string{}
	}
	for _, idx := range indexes {
		if err := s.OpenOrCreate(idx); err != nil {
			return nil, err
		}
		ks := keyspace(idx)
		for _, name := range names {
			raw, err := s.kv.Get(ks, []byte(name))
			if err != nil {
				return nil, err
			}
			list, err := DecodeList(raw)
			if err != nil {
				return nil, cerrors.New(cerrors.ErrCodeCorruptValue,
					fmt.Sprintf("stored value for %q in %s is not a JSON string list", name, ks), err)
			}
			out[name] = Union(out[name], list)
		}
	}
	return out, nil
}

// ListIndexes returns the names of all indexes, recovered from keyspace
// names ending in the class suffix.
func (s *Store) ListIndexes() ([]string, error) {
	names, err := s.kv.Keyspaces()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		if idx, ok := strings.CutSuffix(n, ClassSuffix); ok && idx != "" {
			out = append(out, idx)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Enumerate streams every class entry, then every package entry, of index.
// Keys that are not valid UTF-8 are logged and skipped.
func (s *Store) Enumerate(index string, fn func(Entry) error) error {
	if err := ValidateName(index); err != nil {
		return err
	}
	exists, err := s.kv.HasKeyspace(ClassKeyspace(index))
	if err != nil {
		return err
	}
	if !exists {
		return cerrors.New(cerrors.ErrCodeIndexNotFound, fmt.Sprintf("index %s does not exist", index), nil)
	}

	sides := []struct {
		role Role
		ks   string
	}{
		{RoleClass, ClassKeyspace(index)},
		{RolePackage, PackageKeyspace(index)},
	}
	for _, side := range sides {
		err := s.kv.ForEach(side.ks, func(key, value []byte) error {
			if !utf8.Valid(key) {
				slog.Warn("skipping non-UTF-8 key",
					slog.String("keyspace", side.ks),
					slog.String("key", fmt.Sprintf("%x", key)))
				return nil
			}
			list, err := DecodeList(value)
			if err != nil {
				slog.Warn("skipping undecodable value",
					slog.String("keyspace", side.ks),
					slog.String("key", string(key)),
					slog.String("error", err.Error()))
				return nil
			}
			return fn(Entry{Role: side.role, Key: string(key), Values: list})
		})
		if errors.Is(err, kv.ErrKeyspaceNotFound) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
