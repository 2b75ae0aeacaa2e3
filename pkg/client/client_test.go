package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/mikekulinski/zkasync/pkg/server"
	"github.com/mikekulinski/zkasync/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

func startServer(t *testing.T) (*server.Server, *bufconn.Listener) {
	t.Helper()
	zk, err := server.NewServer()
	require.NoError(t, err)

	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(grpc.ForceServerCodec(wire.Codec{}))
	wire.RegisterEnsembleServer(s, zk)
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)
	return zk, lis
}

func newTestClient(lis *bufconn.Listener, opts ...Option) *Client {
	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	opts = append(opts, WithDialOptions(grpc.WithContextDialer(dialer)))
	return NewClient([]string{"bufnet"}, opts...)
}

func next(t *testing.T, ch <-chan *wire.Frame) *wire.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for a frame")
		return nil
	}
}

func TestClient_SessionRoundTrip(t *testing.T) {
	_, lis := startServer(t)
	client := newTestClient(lis, WithTimeout(time.Second))
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	assert.Equal(t, wire.StateAssociating, next(t, client.States()).State)
	connected := next(t, client.States())
	assert.Equal(t, wire.StateConnected, connected.State)
	assert.NotZero(t, connected.SessionID)
	assert.Equal(t, client.SessionID(), connected.SessionID)

	require.NoError(t, client.Send(ctx, &wire.Frame{Kind: wire.KindRequest, Xid: 1, Op: wire.OpExists, Path: "/zoo", Watch: true}))
	resp := next(t, client.Responses())
	assert.Equal(t, int64(1), resp.Xid)
	assert.Equal(t, wire.CodeNoNode, resp.Code)

	require.NoError(t, client.Send(ctx, &wire.Frame{Kind: wire.KindRequest, Xid: 2, Op: wire.OpCreate, Path: "/zoo", Data: []byte("secrets")}))
	notification := next(t, client.Notifications())
	assert.Equal(t, wire.EventCreated, notification.EventType)
	assert.Equal(t, "/zoo", notification.Path)
	resp = next(t, client.Responses())
	assert.Equal(t, int64(2), resp.Xid)
	assert.Equal(t, "/zoo", resp.Path)

	require.NoError(t, client.Send(ctx, &wire.Frame{Kind: wire.KindRequest, Xid: 3, Op: wire.OpCloseSession}))
	resp = next(t, client.Responses())
	assert.Equal(t, wire.OpCloseSession, resp.Op)
	assert.Equal(t, wire.CodeOK, resp.Code)

	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Send(ctx, &wire.Frame{Op: wire.OpPing}), ErrClosed)
}

// TestClient_IdleTimeout verifies that pings keep a quiet session alive past its timeout.
func TestClient_IdleTimeout(t *testing.T) {
	zk, lis := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go zk.Run(ctx)

	client := newTestClient(lis, WithTimeout(300*time.Millisecond))
	defer client.Close()
	require.NoError(t, client.Connect(ctx))
	next(t, client.States())
	next(t, client.States())

	time.Sleep(time.Second)

	require.NoError(t, client.Send(ctx, &wire.Frame{Kind: wire.KindRequest, Xid: 1, Op: wire.OpGetChildren2, Path: "/"}))
	resp := next(t, client.Responses())
	assert.Equal(t, wire.CodeOK, resp.Code)
}

func TestClient_Expired(t *testing.T) {
	zk, lis := startServer(t)
	client := newTestClient(lis, WithTimeout(time.Second))
	defer client.Close()

	require.NoError(t, client.Connect(context.Background()))
	next(t, client.States())
	next(t, client.States())

	zk.ExpireSession(client.SessionID())
	assert.Equal(t, wire.StateExpiredSession, next(t, client.States()).State)
}

func TestClient_Reattach(t *testing.T) {
	t.Run("expired session is not retried", func(t *testing.T) {
		zk, lis := startServer(t)
		client := newTestClient(lis, WithTimeout(time.Second))
		defer client.Close()
		require.NoError(t, client.Connect(context.Background()))
		next(t, client.States())
		next(t, client.States())

		zk.ExpireSession(client.SessionID())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := client.reattach(ctx)
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.NoError(t, ctx.Err())
	})
	t.Run("gives up when the context ends", func(t *testing.T) {
		unreachable := func(context.Context, string) (net.Conn, error) {
			return nil, errors.New("unreachable")
		}
		client := NewClient([]string{"nowhere"},
			WithTimeout(100*time.Millisecond),
			WithDialOptions(grpc.WithContextDialer(unreachable)),
		)
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		_, err := client.reattach(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

// TestClient_DropQueued verifies that requests queued for a broken stream
// never reach the next one.
func TestClient_DropQueued(t *testing.T) {
	_, lis := startServer(t)
	client := newTestClient(lis, WithTimeout(time.Second))
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Send(ctx, &wire.Frame{Kind: wire.KindRequest, Xid: 1, Op: wire.OpCreate, Path: "/dropped"}))
	client.dropQueued()
	require.NoError(t, client.Send(ctx, &wire.Frame{Kind: wire.KindRequest, Xid: 2, Op: wire.OpCreate, Path: "/kept"}))

	require.NoError(t, client.Connect(ctx))
	next(t, client.States())
	next(t, client.States())

	resp := next(t, client.Responses())
	assert.Equal(t, int64(2), resp.Xid)
	assert.Equal(t, wire.CodeOK, resp.Code)

	require.NoError(t, client.Send(ctx, &wire.Frame{Kind: wire.KindRequest, Xid: 3, Op: wire.OpExists, Path: "/dropped"}))
	resp = next(t, client.Responses())
	assert.Equal(t, int64(3), resp.Xid)
	assert.Equal(t, wire.CodeNoNode, resp.Code)
}

func TestClient_NoHosts(t *testing.T) {
	client := NewClient(nil)
	defer client.Close()
	assert.ErrorIs(t, client.Connect(context.Background()), ErrNoHosts)
}
