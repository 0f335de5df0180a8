package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
	"github.com/Aman-CERP/cpid/internal/metrics"
	"github.com/Aman-CERP/cpid/internal/protocol"
)

// Handler executes one command. A false bool means the command gets no
// reply.
type Handler interface {
	Handle(ctx context.Context, cmd protocol.Command) (protocol.Result, bool)
}

// connInfo describes a live connection.
type connInfo struct {
	closer io.Closer
	opened time.Time
}

// Server accepts connections on a Unix socket and runs one worker per
// connection. Workers share a single shutdown flag; a supervisor polls it
// and tears the listener down once it is set.
type Server struct {
	cfg     Config
	codec   protocol.Codec
	handler Handler
	spawner Spawner
	metrics *metrics.Metrics
	lock    *InstanceLock

	shutdown atomic.Bool
	conns    *xsync.MapOf[string, connInfo]
}

// Option configures a Server.
type Option func(*Server)

// WithSpawner replaces the default goroutine-per-connection spawner.
func WithSpawner(sp Spawner) Option {
	return func(s *Server) { s.spawner = sp }
}

// WithServerMetrics tracks the number of open connections.
func WithServerMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server. Nothing is bound until ListenAndServe.
func NewServer(cfg Config, h Handler, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := protocol.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		codec:   codec,
		handler: h,
		lock:    NewInstanceLock(cfg.LockPath()),
		conns:   xsync.NewMapOf[string, connInfo](),
	}
	if cfg.MaxConnections > 0 {
		s.spawner = NewPoolSpawner(cfg.MaxConnections)
	} else {
		s.spawner = &GoSpawner{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RequestShutdown sets the shutdown flag. The supervisor notices it
// within one poll interval.
func (s *Server) RequestShutdown() {
	s.shutdown.Store(true)
}

// ShuttingDown reports whether shutdown was requested.
func (s *Server) ShuttingDown() bool {
	return s.shutdown.Load()
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	return s.conns.Size()
}

// ListenAndServe binds the socket and serves until a ShutdownCmd arrives
// or ctx is cancelled. It returns nil after a requested shutdown and
// ctx.Err() after cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.cfg.EnsureDir(); err != nil {
		return cerrors.New(cerrors.ErrCodeSocketBind, err.Error(), err)
	}
	if err := s.lock.Acquire(); err != nil {
		return err
	}
	defer func() { _ = s.lock.Release() }()

	// The lock proves no other server owns the path, so a leftover socket
	// file is stale.
	_ = os.Remove(s.cfg.SocketPath)

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return cerrors.New(cerrors.ErrCodeSocketBind,
			fmt.Sprintf("failed to listen on %s", s.cfg.SocketPath), err)
	}
	slog.Info("server listening",
		slog.String("socket", s.cfg.SocketPath),
		slog.String("codec", s.codec.Name()))

	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		s.supervise(ctx, listener)
	}()

	s.acceptLoop(ctx, listener)

	<-supervisorDone
	s.drain()

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

const maxAcceptDelay = time.Second

// acceptLoop hands accepted connections to the spawner until the listener
// is closed. Repeated accept failures (such as running out of file
// descriptors) back off from 5ms up to maxAcceptDelay.
func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.shutdown.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			delay = nextAcceptDelay(delay)
			slog.Error("accept failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay))
			time.Sleep(delay)
			continue
		}
		delay = 0
		s.spawner.Spawn(func() {
			s.handleConn(ctx, conn)
		})
	}
}

func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return 5 * time.Millisecond
	}
	return min(prev*2, maxAcceptDelay)
}

// supervise polls the shutdown flag. Once set, or once ctx is done, it
// removes the socket path and closes the listener.
func (s *Server) supervise(ctx context.Context, listener net.Listener) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for !s.shutdown.Load() {
		select {
		case <-ctx.Done():
			s.shutdown.Store(true)
		case <-ticker.C:
		}
	}

	slog.Info("shutting down", slog.Int("open_connections", s.conns.Size()))
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove socket", slog.String("error", err.Error()))
	}
	_ = listener.Close()
}

// drain waits up to the grace period for workers, then closes whatever
// connections remain.
func (s *Server) drain() {
	done := make(chan struct{})
	go func() {
		s.spawner.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(s.cfg.ShutdownGracePeriod):
	}

	slog.Warn("grace period expired, closing connections", slog.Int("open_connections", s.conns.Size()))
	s.conns.Range(func(id string, c connInfo) bool {
		_ = c.closer.Close()
		return true
	})
	<-done
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.serve(ctx, conn, conn, conn)
}

// ServeStream runs a single connection worker over r and w, such as
// stdin and stdout. It returns when r ends, a frame cannot be decoded, or
// a ShutdownCmd arrives.
func (s *Server) ServeStream(ctx context.Context, r io.Reader, w io.Writer) {
	s.serve(ctx, r, w, io.NopCloser(r))
}

func (s *Server) serve(ctx context.Context, r io.Reader, w io.Writer, closer io.Closer) {
	id := newConnID()
	s.conns.Store(id, connInfo{closer: closer, opened: time.Now()})
	s.metrics.ConnectionOpened()
	defer func() {
		s.conns.Delete(id)
		s.metrics.ConnectionClosed()
	}()

	log := slog.With(slog.String("conn", id))
	log.Debug("connection opened")

	dec := s.codec.NewDecoder(r)
	enc := s.codec.NewEncoder(w)
	for {
		req, err := dec.ReadRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug("connection closed by client")
			} else {
				log.Warn("closing connection", cerrors.LogAttrs(err)...)
			}
			return
		}

		res, reply := s.handler.Handle(ctx, req.Command)
		if !reply {
			log.Info("shutdown requested")
			s.RequestShutdown()
			return
		}
		if err := enc.WriteReply(protocol.Reply{ID: req.ID, Result: res}); err != nil {
			log.Warn("failed to write reply", slog.String("error", err.Error()))
			return
		}
	}
}

func newConnID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
