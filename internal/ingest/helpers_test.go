package ingest

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cpid/internal/index"
	"github.com/Aman-CERP/cpid/internal/kv"
)

// writeJar creates a zip archive at path containing empty entries.
func writeJar(t *testing.T, path string, entries ...string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		_, err := zw.Create(e)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

// writeFile creates path with content, making parent directories.
func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestIndex(t *testing.T) *index.Store {
	t.Helper()
	mem, err := kv.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	return index.New(mem)
}
