package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_WritesRequestedProfiles(t *testing.T) {
	tmpDir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(tmpDir, "cpu.prof"),
		Heap:  filepath.Join(tmpDir, "heap.prof"),
		Trace: filepath.Join(tmpDir, "trace.out"),
	}
	require.True(t, opts.Enabled())

	s, err := Start(opts)
	require.NoError(t, err)

	sum := 0
	for i := 0; i < 1000000; i++ {
		sum += i
	}
	_ = sum

	require.NoError(t, s.Stop())

	for _, path := range []string{opts.CPU, opts.Heap, opts.Trace} {
		info, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.Greater(t, info.Size(), int64(0), path)
	}
}

func TestSession_HeapOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")

	s, err := Start(Options{Heap: path})
	require.NoError(t, err)
	require.NoError(t, s.Stop())

	assert.FileExists(t, path)
}

func TestStart_BadPath(t *testing.T) {
	_, err := Start(Options{CPU: filepath.Join(t.TempDir(), "missing", "cpu.prof")})
	assert.Error(t, err)
}

func TestSession_NilStop(t *testing.T) {
	var s *Session
	assert.NoError(t, s.Stop())
	assert.False(t, Options{}.Enabled())
}
