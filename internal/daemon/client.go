package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
	"github.com/Aman-CERP/cpid/internal/index"
	"github.com/Aman-CERP/cpid/internal/protocol"
)

// Client is a connection to a running server. Requests may be pipelined
// with Send and Receive; Call does both for one request. A Client is safe
// for concurrent Send calls, but replies must be read by one goroutine.
type Client struct {
	conn    net.Conn
	timeout time.Duration

	sendMu sync.Mutex
	enc    *protocol.Encoder
	dec    *protocol.Decoder

	requestID atomic.Uint64
}

// Dial connects to the server at cfg.SocketPath, retrying briefly while
// the socket is not yet accepting.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	codec, err := protocol.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	var conn net.Conn
	retry := cerrors.DefaultRetryConfig()
	retry.MaxRetries = 3
	err = cerrors.Retry(ctx, retry, func() error {
		var d net.Dialer
		c, err := d.DialContext(ctx, "unix", cfg.SocketPath)
		if err != nil {
			return cerrors.New(cerrors.ErrCodeServerUnavailable,
				fmt.Sprintf("cannot connect to %s", cfg.SocketPath), err).
				WithSuggestion("start a server with 'cpid serve'")
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		conn:    conn,
		timeout: cfg.Timeout,
		enc:     codec.NewEncoder(conn),
		dec:     codec.NewDecoder(conn),
	}, nil
}

// IsRunning reports whether a server accepts connections at socketPath.
func IsRunning(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Send writes cmd with a fresh correlation id and returns the id.
func (c *Client) Send(cmd protocol.Command) (uint64, error) {
	id := c.requestID.Add(1)
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.enc.WriteRequest(protocol.Request{ID: id, Command: cmd}); err != nil {
		return 0, err
	}
	return id, nil
}

// Receive reads the next reply.
func (c *Client) Receive() (protocol.Reply, error) {
	return c.dec.ReadReply()
}

// Call sends cmd and waits for its reply. An ErrorResponse is returned as
// the error. Replies to earlier Sends that are still outstanding are read
// and discarded, so Call should not be mixed with pipelined Sends.
func (c *Client) Call(ctx context.Context, cmd protocol.Command) (protocol.Result, error) {
	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if !deadline.IsZero() {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set deadline: %w", err)
		}
		defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	}

	id, err := c.Send(cmd)
	if err != nil {
		return nil, err
	}
	for {
		rep, err := c.Receive()
		if err != nil {
			return nil, fmt.Errorf("failed to receive reply: %w", err)
		}
		if rep.ID != id {
			slog.Debug("discarding reply to an earlier request",
				slog.Uint64("id", rep.ID),
				slog.Uint64("waiting_for", id),
				slog.String("result", rep.Result.ResultType()))
			continue
		}
		if errResp, ok := rep.Result.(protocol.ErrorResponse); ok {
			return nil, errResp
		}
		return rep.Result, nil
	}
}

// QueryClasses returns, per class, the packages declaring it across
// indexes.
func (c *Client) QueryClasses(ctx context.Context, indexes, classes []string) (index.Results, error) {
	res, err := c.Call(ctx, protocol.MultiClassQuery{IndexNames: indexes, ClassNames: classes})
	if err != nil {
		return nil, err
	}
	r, ok := res.(protocol.ClassQueryResponse)
	if !ok {
		return nil, unexpected(res)
	}
	return r.Results, nil
}

// QueryPackages returns, per package, its classes across indexes.
func (c *Client) QueryPackages(ctx context.Context, indexes, packages []string) (index.Results, error) {
	res, err := c.Call(ctx, protocol.MultiPackageQuery{IndexNames: indexes, PackageNames: packages})
	if err != nil {
		return nil, err
	}
	r, ok := res.(protocol.PackageQueryResponse)
	if !ok {
		return nil, unexpected(res)
	}
	return r.Results, nil
}

// Shutdown asks the server to stop. No reply is expected.
func (c *Client) Shutdown() error {
	_, err := c.Send(protocol.ShutdownCmd{})
	return err
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func unexpected(res protocol.Result) error {
	return cerrors.New(cerrors.ErrCodeMalformedFrame,
		fmt.Sprintf("unexpected reply %s", res.ResultType()), nil)
}
