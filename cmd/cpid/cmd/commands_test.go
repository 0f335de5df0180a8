package cmd

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cpid/internal/config"
	cerrors "github.com/Aman-CERP/cpid/internal/errors"
	"github.com/Aman-CERP/cpid/internal/telemetry"
)

func TestReindexJarDirThenQuery(t *testing.T) {
	env := newTestEnv(t)
	lib := seedJars(t, env.dir)

	_, stderr, err := env.run(t, "reindex", "jar-dir", "jdk", lib)
	require.NoError(t, err)
	assert.Contains(t, stderr, "indexed 3 tuples from 2 sources into jdk")

	stdout, _, err := env.run(t, "clsquery", "jdk", "List")
	require.NoError(t, err)
	assert.Equal(t, `{"List":["java.awt","java.util"]}`+"\n", stdout)

	stdout, _, err = env.run(t, "pkgenum", "jdk", "java.util")
	require.NoError(t, err)
	assert.Equal(t, `{"java.util":["List","Map"]}`+"\n", stdout)

	stdout, _, err = env.run(t, "clsquery", "jdk", "Vector", "Map")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Vector":[],"Map":["java.util"]}`, stdout)
}

func TestReindexIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	lib := seedJars(t, env.dir)

	for i := 0; i < 2; i++ {
		_, _, err := env.run(t, "reindex", "classpath", "cp",
			filepath.Join(lib, "util.jar")+":"+filepath.Join(lib, "nested", "awt.jar"))
		require.NoError(t, err)
	}

	stdout, _, err := env.run(t, "clsquery", "cp", "List")
	require.NoError(t, err)
	assert.Equal(t, `{"List":["java.awt","java.util"]}`+"\n", stdout)
}

func TestReindexProject(t *testing.T) {
	env := newTestEnv(t)
	src := filepath.Join(env.dir, "src")
	writeSourceFile(t, filepath.Join(src, "com", "acme", "Widget.java"),
		"package com.acme;\n\npublic class Widget {\n  static class Part {}\n}\n")

	_, _, err := env.run(t, "reindex", "project", "app", src)
	require.NoError(t, err)

	stdout, _, err := env.run(t, "pkgenum", "app", "com.acme")
	require.NoError(t, err)
	var got map[string][]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Contains(t, got["com.acme"], "Widget")
}

func TestReindex_InputErrorsLeaveNoIndex(t *testing.T) {
	env := newTestEnv(t)
	lib := seedJars(t, env.dir)

	_, _, err := env.run(t, "reindex", "jar-dir", "bad", filepath.Join(lib, "util.jar"))
	require.Error(t, err)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeNotADirectory))

	_, _, err = env.run(t, "reindex", "jimage", "bad", filepath.Join(lib, "util.jar"))
	require.Error(t, err)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeNotModuleImage))

	_, _, err = env.run(t, "reindex", "project", "bad", filepath.Join(env.dir, "missing"))
	require.Error(t, err)

	stdout, _, err := env.run(t, "indexes")
	require.NoError(t, err)
	assert.Empty(t, stdout)
}

func TestIndexesAndDropIndex(t *testing.T) {
	env := newTestEnv(t)
	lib := seedJars(t, env.dir)

	for _, name := range []string{"b", "a"} {
		_, _, err := env.run(t, "reindex", "jar-dir", name, lib)
		require.NoError(t, err)
	}

	stdout, _, err := env.run(t, "indexes")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", stdout)

	_, _, err = env.run(t, "dropindex", "a")
	require.NoError(t, err)

	stdout, _, err = env.run(t, "indexes")
	require.NoError(t, err)
	assert.Equal(t, "b\n", stdout)

	_, _, err = env.run(t, "dropindex", "a")
	require.Error(t, err)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeIndexNotFound))

	stdout, _, err = env.run(t, "dropindex", "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "does not exist is an error")
}

func TestEnumerate(t *testing.T) {
	env := newTestEnv(t)
	lib := seedJars(t, env.dir)
	_, _, err := env.run(t, "reindex", "jar-dir", "jdk", lib)
	require.NoError(t, err)

	stdout, _, err := env.run(t, "enumerate", "jdk")
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"IDX: jdk (class -> packages)",
		"CLASS: List",
		"CLASS: Map",
		"IDX: jdk (package -> classes)",
		"PACKAGE: java.awt",
		"PACKAGE: java.util",
	}, "\n")+"\n", stdout)

	stdout, _, err = env.run(t, "enumerate", "--json", "jdk")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"class": {"List": ["java.awt", "java.util"], "Map": ["java.util"]},
		"package": {"java.awt": ["List"], "java.util": ["List", "Map"]}
	}`, stdout)

	_, _, err = env.run(t, "enumerate", "nope")
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeIndexNotFound))
}

func TestCheck_Consistent(t *testing.T) {
	env := newTestEnv(t)
	lib := seedJars(t, env.dir)
	_, _, err := env.run(t, "reindex", "jar-dir", "jdk", lib)
	require.NoError(t, err)

	stdout, _, err := env.run(t, "check", "jdk")
	require.NoError(t, err)
	assert.Contains(t, stdout, "jdk is consistent (3 pairs")
}

func TestPebbleBackendFlag(t *testing.T) {
	env := newTestEnv(t)
	lib := seedJars(t, env.dir)
	pebbleDir := filepath.Join(env.dir, "pebble")

	_, _, err := env.run(t, "--backend", "pebble", "--db", pebbleDir, "reindex", "jar-dir", "jdk", lib)
	require.NoError(t, err)

	stdout, _, err := env.run(t, "--backend", "pebble", "--db", pebbleDir, "clsquery", "jdk", "Map")
	require.NoError(t, err)
	assert.Equal(t, `{"Map":["java.util"]}`+"\n", stdout)

	// The bolt database was never written.
	stdout, _, err = env.run(t, "indexes")
	require.NoError(t, err)
	assert.Empty(t, stdout)
}

func TestUnknownBackendRejected(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.run(t, "--backend", "sled", "indexes")
	require.Error(t, err)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeConfigInvalid))
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run(t, "stats")
	require.Error(t, err, "no telemetry recorded yet")

	store, err := telemetry.Open(env.telemetry)
	require.NoError(t, err)
	c := telemetry.NewCollector(store, telemetry.CollectorConfig{})
	c.Record(telemetry.Event{Command: "ClassQuery", Names: []string{"List"}, Latency: time.Millisecond / 2})
	c.Record(telemetry.Event{Command: "ClassQuery", Names: []string{"Vectr"}, Misses: []string{"Vectr"}, Latency: time.Millisecond / 2})
	require.NoError(t, c.Close())
	require.NoError(t, store.Close())

	stdout, _, err := env.run(t, "stats", "--json")
	require.NoError(t, err)
	var report telemetry.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, int64(2), report.CommandCounts["ClassQuery"])
	assert.Equal(t, []string{"Vectr"}, report.RecentMisses)

	stdout, _, err = env.run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Total Requests: 2")
	assert.Contains(t, stdout, "- Vectr")
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	stdout, _, err := env.run(t, "version", "--short")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(stdout))
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cpid", "config.yaml")

	cmd := NewRootCmd()
	var stdout strings.Builder
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--config", path, "config", "init"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "Created user configuration")
	assert.FileExists(t, path)

	cmd = NewRootCmd()
	stdout.Reset()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--config", path, "config", "init"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "already exists")

	cmd = NewRootCmd()
	stdout.Reset()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--config", path, "config", "init", "--force"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "Backed up previous configuration")
	backups, err := config.ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	env := newTestEnv(t)
	out, _, err := env.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: bolt")
	assert.Contains(t, out, "path: "+env.dbPath)
}

func TestClsQueryThroughServer(t *testing.T) {
	env := newTestEnv(t)
	lib := seedJars(t, env.dir)
	_, _, err := env.run(t, "reindex", "jar-dir", "jdk", lib)
	require.NoError(t, err)

	stop := startTestServer(t, env)
	defer stop()

	stdout, _, err := env.run(t, "clsquery", "--socket", "jdk", "List")
	require.NoError(t, err)
	assert.Equal(t, `{"List":["java.awt","java.util"]}`+"\n", stdout)

	stdout, _, err = env.run(t, "pkgenum", "--socket="+env.socketPath, "jdk", "java.awt")
	require.NoError(t, err)
	assert.Equal(t, `{"java.awt":["List"]}`+"\n", stdout)
}

func TestServeStdio(t *testing.T) {
	env := newTestEnv(t)
	lib := seedJars(t, env.dir)
	_, _, err := env.run(t, "reindex", "jar-dir", "jdk", lib)
	require.NoError(t, err)

	in := `[1, {"type": "ClassQuery", "index_name": "jdk", "class_name": "Map"}]` + "\n" +
		`[2, {"type": "ShutdownCmd"}]` + "\n"
	stdout, _, err := env.runWithInput(t, in, "serve", "-")
	require.NoError(t, err)

	var frame []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(stdout), &frame))
	require.Len(t, frame, 2)
	assert.Equal(t, "1", string(frame[0]))
	assert.JSONEq(t, `{"type":"ClassQueryResponse","results":{"Map":["java.util"]}}`, string(frame[1]))
}

func TestServeSocketShutdown(t *testing.T) {
	env := newTestEnv(t)

	done := make(chan error, 1)
	go func() {
		_, _, err := env.run(t, "serve")
		done <- err
	}()
	require.Eventually(t, func() bool { return socketAlive(env.socketPath) },
		5*time.Second, 10*time.Millisecond)

	shutdownServer(t, env.socketPath)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not exit")
	}
	assert.False(t, socketAlive(env.socketPath))
}
