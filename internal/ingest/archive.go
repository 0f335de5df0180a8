package ingest

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zip"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
	"github.com/Aman-CERP/cpid/internal/index"
)

// ScanArchive lists the top-level classes in a zip-format archive.
func ScanArchive(path string) ([]index.Tuple, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeArchiveDecode,
			fmt.Sprintf("cannot read archive %s", path), err).WithDetail("archive", path)
	}
	defer r.Close()

	var tuples []index.Tuple
	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ".class") {
			continue
		}
		t, ok := TupleFromEntry(f.Name, path+"!"+f.Name)
		if !ok {
			if !strings.Contains(f.Name, "$") {
				slog.Debug("skipping entry without a valid package path",
					slog.String("archive", path),
					slog.String("entry", f.Name))
			}
			continue
		}
		tuples = append(tuples, t)
	}
	return tuples, nil
}

type archiveKey struct {
	path  string
	size  int64
	mtime int64
}

// ArchiveCache remembers scan results for archives whose size and
// modification time are unchanged since the last scan.
type ArchiveCache struct {
	cache *lru.Cache[archiveKey, []index.Tuple]
}

// NewArchiveCache returns a cache holding up to size archives, or nil when
// size is not positive. A nil cache is valid and caches nothing.
func NewArchiveCache(size int) (*ArchiveCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[archiveKey, []index.Tuple](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive cache: %w", err)
	}
	return &ArchiveCache{cache: c}, nil
}

// Scan returns cached tuples for path or scans it.
func (c *ArchiveCache) Scan(path string) ([]index.Tuple, error) {
	if c == nil {
		return ScanArchive(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeArchiveDecode,
			fmt.Sprintf("cannot read archive %s", path), err).WithDetail("archive", path)
	}
	key := archiveKey{path: path, size: info.Size(), mtime: info.ModTime().UnixNano()}
	if tuples, ok := c.cache.Get(key); ok {
		slog.Debug("archive cache hit", slog.String("archive", path))
		return tuples, nil
	}
	tuples, err := ScanArchive(path)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, tuples)
	return tuples, nil
}

// Len reports the number of cached archives.
func (c *ArchiveCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
