package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
	"github.com/Aman-CERP/cpid/internal/index"
	"github.com/Aman-CERP/cpid/internal/protocol"
)

func TestDial_NoServer(t *testing.T) {
	cfg := testConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, cfg)
	require.Error(t, err)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeServerUnavailable))
	assert.False(t, IsRunning(cfg.SocketPath))
}

func TestDial_UnknownCodec(t *testing.T) {
	cfg := testConfig(t)
	cfg.Codec = "xml"
	_, err := Dial(context.Background(), cfg)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeInvalidInput))
}

func TestClient_ConcurrentSends(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDispatcher(t)
	startServer(t, cfg, d)
	c := dial(t, cfg)

	const n = 20
	var wg sync.WaitGroup
	ids := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := c.Send(protocol.ListIndexesQuery{})
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	sent := make(map[uint64]bool)
	for id := range ids {
		sent[id] = true
	}
	require.Len(t, sent, n)

	for i := 0; i < n; i++ {
		rep, err := c.Receive()
		require.NoError(t, err)
		assert.True(t, sent[rep.ID], "unexpected reply id %d", rep.ID)
		delete(sent, rep.ID)
	}
	assert.Empty(t, sent)
}

func TestClient_CallHonorsContextDeadline(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDispatcher(t)
	startServer(t, cfg, d)
	c := dial(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := c.Call(ctx, protocol.ClassQuery{IndexName: "demo", ClassName: "Map"})
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeClassQueryResponse, res.ResultType())
}

func TestClient_CallSkipsOutstandingReplies(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDispatcher(t)
	startServer(t, cfg, d)
	c := dial(t, cfg)

	// An earlier pipelined request is still unanswered when Call runs.
	_, err := c.Send(protocol.ListIndexesQuery{})
	require.NoError(t, err)

	res, err := c.Call(context.Background(), protocol.ClassQuery{IndexName: "demo", ClassName: "Map"})
	require.NoError(t, err)
	assert.Equal(t, protocol.ClassQueryResponse{Results: index.Results{"Map": {"java.util"}}}, res)
}
