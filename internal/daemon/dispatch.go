package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
	"github.com/Aman-CERP/cpid/internal/index"
	"github.com/Aman-CERP/cpid/internal/ingest"
	"github.com/Aman-CERP/cpid/internal/metrics"
	"github.com/Aman-CERP/cpid/internal/protocol"
	"github.com/Aman-CERP/cpid/internal/telemetry"
)

// Dispatcher executes commands against the shared index store.
type Dispatcher struct {
	store     *index.Store
	pipeline  *ingest.Pipeline
	metrics   *metrics.Metrics
	telemetry *telemetry.Collector
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMetrics records request counts and durations.
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTelemetry records request statistics and lookup misses.
func WithTelemetry(c *telemetry.Collector) DispatcherOption {
	return func(d *Dispatcher) { d.telemetry = c }
}

// NewDispatcher creates a dispatcher over store and pipeline.
func NewDispatcher(store *index.Store, pipeline *ingest.Pipeline, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{store: store, pipeline: pipeline}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle runs cmd and returns its result. The bool is false for commands
// that get no reply (ShutdownCmd). Failures are returned as an
// ErrorResponse.
func (d *Dispatcher) Handle(ctx context.Context, cmd protocol.Command) (protocol.Result, bool) {
	start := time.Now()
	res, names, err := d.run(ctx, cmd)
	elapsed := time.Since(start)

	if _, ok := cmd.(protocol.ShutdownCmd); ok {
		return nil, false
	}
	if err != nil {
		slog.Warn("command failed", append([]any{"command", cmd.CommandType()}, cerrors.LogAttrs(err)...)...)
		res = errorResult(err)
	}

	d.metrics.ObserveRequest(cmd.CommandType(), elapsed, err != nil)
	d.telemetry.Record(telemetry.Event{
		Command: cmd.CommandType(),
		Names:   names,
		Misses:  misses(res),
		Latency: elapsed,
		Time:    start,
	})
	return res, true
}

// run executes cmd. names lists the looked-up names, for telemetry.
func (d *Dispatcher) run(ctx context.Context, cmd protocol.Command) (protocol.Result, []string, error) {
	switch c := cmd.(type) {
	case protocol.ClassQuery:
		res, err := d.store.QueryClass(c.IndexName, c.ClassName)
		return protocol.ClassQueryResponse{Results: res}, []string{c.ClassName}, err

	case protocol.MultiClassQuery:
		res, err := d.store.QueryClasses(c.IndexNames, c.ClassNames)
		return protocol.ClassQueryResponse{Results: res}, c.ClassNames, err

	case protocol.PackageQuery:
		res, err := d.store.QueryPackage(c.IndexName, c.PackageName)
		return protocol.PackageQueryResponse{Results: res}, []string{c.PackageName}, err

	case protocol.MultiPackageQuery:
		res, err := d.store.QueryPackages(c.IndexNames, c.PackageNames)
		return protocol.PackageQueryResponse{Results: res}, c.PackageNames, err

	case protocol.ReindexPathCmd:
		_, err := d.pipeline.ReindexPath(ctx, c.IndexName, c.ArchiveSource)
		return protocol.NullResponse{}, nil, err

	case protocol.ReindexClasspathCmd:
		_, err := d.pipeline.ReindexClasspath(ctx, c.IndexName, c.ArchiveSource)
		return protocol.NullResponse{}, nil, err

	case protocol.ReindexProjectPathCmd:
		_, err := d.pipeline.ReindexProject(ctx, c.IndexName, c.ProjectPath)
		return protocol.NullResponse{}, nil, err

	case protocol.ListIndexesQuery:
		names, err := d.store.ListIndexes()
		if names == nil {
			names = []string{}
		}
		return protocol.IndexListResponse{Indexes: names}, nil, err

	case protocol.DropIndexCmd:
		return protocol.NullResponse{}, nil, d.store.Drop(c.IndexName)

	case protocol.ShutdownCmd:
		return nil, nil, nil

	default:
		return nil, nil, cerrors.InternalError(fmt.Sprintf("no handler for %s", cmd.CommandType()), nil)
	}
}

func errorResult(err error) protocol.ErrorResponse {
	ce, ok := cerrors.As(err)
	if !ok {
		return protocol.ErrorResponse{Code: cerrors.ErrCodeInternal, Message: err.Error()}
	}
	msg := ce.Message
	if ce.Cause != nil {
		msg += ": " + ce.Cause.Error()
	}
	return protocol.ErrorResponse{Code: ce.Code, Message: msg}
}

// misses returns the queried names that resolved to an empty list.
func misses(res protocol.Result) []string {
	var results index.Results
	switch r := res.(type) {
	case protocol.ClassQueryResponse:
		results = r.Results
	case protocol.PackageQueryResponse:
		results = r.Results
	default:
		return nil
	}
	var out []string
	for name, values := range results {
		if len(values) == 0 {
			out = append(out, name)
		}
	}
	return out
}
