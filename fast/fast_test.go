package fast_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/node-fast-messages/fast"
)

func startTestServer(t *testing.T) (*fast.Server, string) {
	t.Helper()
	srv := fast.NewServer()
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	t.Cleanup(func() { srv.Close() })
	return srv, srv.Addr().String()
}

func TestUnaryCallRoundTrip(t *testing.T) {
	srv, addr := startTestServer(t)
	srv.RegisterUnary("echo", func(ctx context.Context, args []json.RawMessage) (any, error) {
		var s string
		require.NoError(t, json.Unmarshal(args[0], &s))
		return map[string]string{"echo": s}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := fast.Dial(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	data, err := client.Call("echo", "hello")
	require.NoError(t, err)

	var reply map[string]string
	require.NoError(t, json.Unmarshal(data, &reply))
	require.Equal(t, "hello", reply["echo"])
}

func TestUnaryCallPropagatesHandlerError(t *testing.T) {
	srv, addr := startTestServer(t)
	srv.RegisterUnary("boom", func(ctx context.Context, args []json.RawMessage) (any, error) {
		return nil, errors.New("kaboom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := fast.Dial(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call("boom")
	require.EqualError(t, err, "kaboom")
}

func TestUnknownMethodReturnsError(t *testing.T) {
	_, addr := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := fast.Dial(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call("nope")
	require.Error(t, err)
}

func TestStreamDeliversDataUntilEnd(t *testing.T) {
	srv, addr := startTestServer(t)
	srv.RegisterStream("count", func(ctx context.Context, args []json.RawMessage, stream *fast.Stream) error {
		for i := 0; i < 3; i++ {
			if err := stream.Send(i); err != nil {
				return err
			}
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := fast.Dial(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	stream, err := client.CallStream("count")
	require.NoError(t, err)

	var got []int
	for {
		data, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		var n int
		require.NoError(t, json.Unmarshal(data, &n))
		got = append(got, n)
	}
	require.Equal(t, []int{0, 1, 2}, got)
}

func TestStreamHandlerSeesContextCanceledOnDisconnect(t *testing.T) {
	srv, addr := startTestServer(t)
	canceled := make(chan struct{})
	srv.RegisterStream("forever", func(ctx context.Context, args []json.RawMessage, stream *fast.Stream) error {
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := fast.Dial(ctx, addr)
	require.NoError(t, err)

	_, err = client.CallStream("forever")
	require.NoError(t, err)

	require.NoError(t, client.Close())

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not observe disconnect")
	}
}

func TestClientCloseUnblocksPendingCall(t *testing.T) {
	srv, addr := startTestServer(t)
	block := make(chan struct{})
	srv.RegisterUnary("hang", func(ctx context.Context, args []json.RawMessage) (any, error) {
		<-block
		return nil, nil
	})
	t.Cleanup(func() { close(block) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := fast.Dial(ctx, addr)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := client.Call("hang")
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, fast.ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not unblock after Close")
	}
}
