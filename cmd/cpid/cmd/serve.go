package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpid/internal/config"
	"github.com/Aman-CERP/cpid/internal/daemon"
	"github.com/Aman-CERP/cpid/internal/kv"
	"github.com/Aman-CERP/cpid/internal/metrics"
	"github.com/Aman-CERP/cpid/internal/telemetry"
)

// stdioTransport selects standard input and output instead of a socket.
const stdioTransport = "-"

func newServeCmd() *cobra.Command {
	var (
		codec          string
		metricsAddr    string
		maxConnections int
	)

	cmd := &cobra.Command{
		Use:   "serve [socket-path | -]",
		Short: "Serve queries and reindex commands",
		Long: `Serve requests on a Unix domain socket until a ShutdownCmd arrives or
the process is interrupted. With "-" a single session is served over
standard input and output.

Each frame is a two-element array [id, {"type": ..., ...}]. Replies carry
the id of their request, so clients may pipeline.`,
		Example: `  # Default socket ($XDG_STATE_HOME/cpid/sock)
  cpid serve

  # Editor integration over a pipe, CBOR frames
  cpid serve - --codec cbor

  # Expose Prometheus metrics
  cpid serve --metrics-addr 127.0.0.1:9464`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appConfig
			if len(args) == 1 {
				cfg.Server.SocketPath = args[0]
			}
			if codec != "" {
				cfg.Server.Codec = codec
			}
			if metricsAddr != "" {
				cfg.Server.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("max-connections") {
				cfg.Server.MaxConnections = maxConnections
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&codec, "codec", "", "Frame encoding: json or cbor (overrides server.codec)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().IntVar(&maxConnections, "max-connections", 0, "Cap on concurrently served connections (0 = unbounded)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	h, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	m := metrics.New()
	if ps, ok := h.kv.(*kv.PebbleStore); ok {
		if err := m.Register(metrics.NewStorageCollector(ps)); err != nil {
			slog.Warn("failed to register storage metrics", slog.String("error", err.Error()))
		}
	}

	pipeline, err := newPipeline(cfg, h.index, func(_ string, n int) { m.TuplesIndexed(n) })
	if err != nil {
		return err
	}

	recorder, closeTelemetry := openTelemetry(cfg)
	defer closeTelemetry()

	dispatcher := daemon.NewDispatcher(h.index, pipeline,
		daemon.WithMetrics(m),
		daemon.WithTelemetry(recorder))

	dc := daemon.FromConfig(cfg)
	if dc.SocketPath == stdioTransport {
		// Validate needs a path; nothing is bound in stream mode.
		dc.SocketPath = os.DevNull
	}
	srv, err := daemon.NewServer(dc, dispatcher, daemon.WithServerMetrics(m))
	if err != nil {
		return err
	}

	if cfg.Server.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := m.Serve(metricsCtx, cfg.Server.MetricsAddr); err != nil {
				slog.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	if cfg.Server.SocketPath == stdioTransport {
		slog.Debug("serving standard streams", slog.String("codec", cfg.Server.Codec))
		done := make(chan struct{})
		go func() {
			defer close(done)
			srv.ServeStream(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		}()
		// A read from stdin cannot be interrupted, so an interrupt
		// abandons the session.
		select {
		case <-done:
		case <-ctx.Done():
			slog.Info("interrupted")
		}
		return nil
	}

	err = srv.ListenAndServe(ctx)
	if errors.Is(err, context.Canceled) {
		slog.Info("interrupted")
		return nil
	}
	return err
}

// openTelemetry opens the telemetry database when enabled. Failure to open
// it only disables telemetry.
func openTelemetry(cfg *config.Config) (*telemetry.Collector, func()) {
	if !cfg.Telemetry.Enabled {
		return nil, func() {}
	}
	store, err := telemetry.Open(cfg.Telemetry.Path)
	if err != nil {
		slog.Warn("telemetry disabled", slog.String("error", err.Error()))
		return nil, func() {}
	}
	collector := telemetry.NewCollector(store, telemetry.DefaultCollectorConfig())
	return collector, func() {
		if err := collector.Close(); err != nil {
			slog.Warn("failed to flush telemetry", slog.String("error", err.Error()))
		}
		if err := store.Close(); err != nil {
			slog.Warn("failed to close telemetry database",
				slog.String("path", store.Path()),
				slog.String("error", err.Error()))
		}
	}
}
