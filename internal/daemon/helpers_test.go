package daemon

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cpid/internal/index"
	"github.com/Aman-CERP/cpid/internal/ingest"
	"github.com/Aman-CERP/cpid/internal/kv"
)

// testConfig creates a configuration with a unique socket path.
func testConfig(t *testing.T) Config {
	t.Helper()
	socketPath := filepath.Join("/tmp", fmt.Sprintf("cpid-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() {
		_ = os.Remove(socketPath)
		_ = os.Remove(socketPath + ".lock")
	})

	cfg := DefaultConfig()
	cfg.SocketPath = socketPath
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ShutdownGracePeriod = 2 * time.Second
	cfg.Timeout = 5 * time.Second
	return cfg
}

// newTestStore returns an in-memory index seeded with a few tuples in
// index "demo".
func newTestStore(t *testing.T) *index.Store {
	t.Helper()
	mem, err := kv.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	store := index.New(mem)
	_, err = store.ApplyTuples("demo", []index.Tuple{
		{Class: "List", Package: "java.util"},
		{Class: "List", Package: "java.awt"},
		{Class: "Map", Package: "java.util"},
	})
	require.NoError(t, err)
	return store
}

func newTestDispatcher(t *testing.T, opts ...DispatcherOption) (*Dispatcher, *index.Store) {
	t.Helper()
	store := newTestStore(t)
	return NewDispatcher(store, ingest.NewPipeline(store, ingest.Options{Workers: 2}), opts...), store
}

// startServer runs a server in the background and waits for its socket.
// The returned channel yields ListenAndServe's result.
func startServer(t *testing.T, cfg Config, h Handler, opts ...Option) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	srv, err := NewServer(cfg, h, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		errCh <- srv.ListenAndServe(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})

	require.Eventually(t, func() bool { return IsRunning(cfg.SocketPath) },
		2*time.Second, 10*time.Millisecond, "server did not start")
	return srv, cancel, errCh
}

func dial(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitResult(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}

// writeJar creates a zip archive at path containing empty entries.
func writeJar(t *testing.T, path string, entries ...string) {
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
}

func writeSource(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
