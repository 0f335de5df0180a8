package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpid/internal/config"
	"github.com/Aman-CERP/cpid/internal/daemon"
	"github.com/Aman-CERP/cpid/internal/index"
	"github.com/Aman-CERP/cpid/internal/ingest"
	"github.com/Aman-CERP/cpid/internal/kv"
)

// indexHandle is an opened database with the index layer on top.
type indexHandle struct {
	kv    kv.Store
	index *index.Store
}

func (h *indexHandle) Close() {
	if err := h.kv.Close(); err != nil {
		slog.Warn("failed to close database", slog.String("error", err.Error()))
	}
}

// openIndex opens the configured database.
func openIndex(cfg *config.Config) (*indexHandle, error) {
	store, err := kv.Open(kv.Options{
		Backend: cfg.Storage.Backend,
		Path:    cfg.Storage.Path,
		Timeout: cfg.Storage.OpenTimeout.Std(),
	})
	if err != nil {
		return nil, err
	}
	return &indexHandle{kv: store, index: index.New(store)}, nil
}

// newPipeline builds an ingestion pipeline from the ingest settings.
func newPipeline(cfg *config.Config, store *index.Store, onApplied func(string, int)) (*ingest.Pipeline, error) {
	cache, err := ingest.NewArchiveCache(cfg.Ingest.ArchiveCacheSize)
	if err != nil {
		return nil, err
	}
	return ingest.NewPipeline(store, ingest.Options{
		Workers:    cfg.Ingest.Workers,
		JImageTool: cfg.Ingest.JImageTool,
		Cache:      cache,
		OnApplied:  onApplied,
	}), nil
}

// clientConfig returns the daemon settings for socketPath, falling back to
// the configured socket.
func clientConfig(cfg *config.Config, socketPath string) daemon.Config {
	dc := daemon.FromConfig(cfg)
	if socketPath != "" && socketPath != defaultSocketFlag {
		dc.SocketPath = socketPath
	}
	return dc
}

// defaultSocketFlag is the value of a bare --socket.
const defaultSocketFlag = "default"

// addSocketFlag registers --socket. A bare --socket uses the configured
// socket path.
func addSocketFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "socket", "", "Query a running server on this socket instead of opening the database")
	cmd.Flags().Lookup("socket").NoOptDefVal = defaultSocketFlag
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// since formats a duration for summaries.
func since(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
