package cmd

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cpid/internal/daemon"
	"github.com/Aman-CERP/cpid/internal/index"
	"github.com/Aman-CERP/cpid/internal/ingest"
	"github.com/Aman-CERP/cpid/internal/kv"
)

// testEnv holds the paths of an isolated cpid installation.
type testEnv struct {
	dir        string
	configPath string
	dbPath     string
	socketPath string
	telemetry  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		dbPath:     filepath.Join(dir, "findex"),
		socketPath: filepath.Join("/tmp", fmt.Sprintf("cpid-cmd-test-%d.sock", time.Now().UnixNano())),
		telemetry:  filepath.Join(dir, "telemetry.db"),
	}
	t.Cleanup(func() {
		_ = os.Remove(env.socketPath)
		_ = os.Remove(env.socketPath + ".lock")
	})

	cfg := fmt.Sprintf(`storage:
  backend: bolt
  path: %s
server:
  socket_path: %s
  poll_interval: 10ms
logging:
  file: ""
  level: warn
telemetry:
  enabled: true
  path: %s
`, env.dbPath, env.socketPath, env.telemetry)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o644))
	return env
}

// run executes the CLI with the environment's config file.
func (e *testEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return e.runWithInput(t, "", args...)
}

func (e *testEnv) runWithInput(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
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

// seedJars writes two jars under dir/lib and returns the lib directory.
func seedJars(t *testing.T, dir string) string {
	t.Helper()
	lib := filepath.Join(dir, "lib")
	writeJar(t, filepath.Join(lib, "util.jar"),
		"META-INF/MANIFEST.MF",
		"java/util/List.class",
		"java/util/Map.class")
	writeJar(t, filepath.Join(lib, "nested", "awt.jar"),
		"java/awt/List.class")
	return lib
}

func writeSourceFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// startTestServer serves the environment's database on its socket and
// returns a function that stops the server.
func startTestServer(t *testing.T, env *testEnv) func() {
	t.Helper()
	store, err := kv.OpenBolt(env.dbPath, time.Second)
	require.NoError(t, err)
	idx := index.New(store)

	cfg := daemon.DefaultConfig()
	cfg.SocketPath = env.socketPath
	cfg.PollInterval = 10 * time.Millisecond
	srv, err := daemon.NewServer(cfg, daemon.NewDispatcher(idx, ingest.NewPipeline(idx, ingest.Options{})))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.ListenAndServe(ctx)
	}()
	require.Eventually(t, func() bool { return socketAlive(env.socketPath) },
		2*time.Second, 10*time.Millisecond)

	return func() {
		cancel()
		<-done
		_ = store.Close()
	}
}

func socketAlive(path string) bool {
	return daemon.IsRunning(path)
}

func shutdownServer(t *testing.T, path string) {
	t.Helper()
	cfg := daemon.DefaultConfig()
	cfg.SocketPath = path
	c, err := daemon.Dial(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Shutdown())
}
