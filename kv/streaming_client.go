package kv

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mechanism-s/silkrpc/utils"
)

// StreamingClient owns one bidirectional stream with the remote KV store.
//
// At most one ReadOne and one WriteOne may be pending at any time; the remote
// transaction enforces this by holding its serializer across the write/read
// pair. Any non-OK completion terminates the stream: every later operation
// reports the same status.
type StreamingClient interface {
	// StartCall initiates the stream. Completes when the server accepts.
	StartCall(ctx context.Context) error
	// ReadOne awaits the next inbound frame.
	ReadOne(ctx context.Context) (Pair, error)
	// WriteOne enqueues one frame. Completes when the peer has accepted it.
	WriteOne(ctx context.Context, req Cursor) error
	// EndCall half-closes the stream and awaits server completion.
	EndCall(ctx context.Context) error
}

const streamCloseGrace = 2 * time.Second

// WebsocketStreamingClient carries the stream over one websocket connection.
//
// gorilla/websocket requires a single reader AND a single writer per
// connection, so reads and writes are each guarded by their own mutex while
// the connection itself is guarded by an access mutex.
type WebsocketStreamingClient struct {
	kvUrl string

	accessMu sync.Mutex // guards open/close & replace of the connection
	conn     *websocket.Conn
	failed   *StatusError // sticky: first non-OK completion

	readMu  sync.Mutex // single pending read
	writeMu sync.Mutex // single pending write
}

func NewWebsocketStreamingClient(kvUrl string) *WebsocketStreamingClient {
	return &WebsocketStreamingClient{kvUrl: kvUrl}
}

func (c *WebsocketStreamingClient) StartCall(ctx context.Context) error {

	c.accessMu.Lock()
	defer c.accessMu.Unlock()

	if c.failed != nil {
		return c.failed
	}
	if c.conn != nil {
		return NewStatusError(StatusInternal, "stream already started")
	}

	u, err := url.Parse(c.kvUrl)
	if err != nil {
		return c.failLocked(NewStatusError(StatusInvalidArgument, fmt.Sprintf("invalid kv url: %v", err)))
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		utils.LogWithTimeThrottled(
			"KV:WS:DIAL",
			2*time.Second,
			fmt.Sprintf("KV stream dial failed: %v", err),
			utils.YELLOW_COLOR,
		)
		return c.failLocked(statusFromTransport(ctx, err))
	}

	c.conn = conn
	return nil
}

func (c *WebsocketStreamingClient) ReadOne(ctx context.Context) (Pair, error) {

	conn, err := c.liveConn()
	if err != nil {
		return Pair{}, err
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	stop := c.dropOnCancel(ctx, conn)
	_, raw, err := conn.ReadMessage()
	stop()

	if err != nil {
		return Pair{}, c.fail(statusFromTransport(ctx, err))
	}

	pair, err := DecodePair(raw)
	if err != nil {
		return Pair{}, c.fail(err.(*StatusError))
	}
	return pair, nil
}

func (c *WebsocketStreamingClient) WriteOne(ctx context.Context, req Cursor) error {

	conn, err := c.liveConn()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	stop := c.dropOnCancel(ctx, conn)
	err = conn.WriteMessage(websocket.BinaryMessage, req.Encode())
	stop()

	if err != nil {
		return c.fail(statusFromTransport(ctx, err))
	}
	return nil
}

func (c *WebsocketStreamingClient) EndCall(ctx context.Context) error {

	c.accessMu.Lock()
	conn := c.conn
	failed := c.failed
	c.accessMu.Unlock()

	if failed != nil {
		return failed
	}
	if conn == nil {
		return NewStatusError(StatusInternal, "stream not started")
	}

	c.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(streamCloseGrace))
	c.writeMu.Unlock()

	if err != nil {
		return c.fail(statusFromTransport(ctx, err))
	}

	// Drain until the peer acknowledges the close.
	c.readMu.Lock()
	_ = conn.SetReadDeadline(time.Now().Add(streamCloseGrace))
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	c.readMu.Unlock()

	c.accessMu.Lock()
	_ = conn.Close()
	c.conn = nil
	c.failed = NewStatusError(StatusCancelled, "stream ended")
	c.accessMu.Unlock()

	if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return NewStatusError(StatusUnavailable, err.Error())
}

func (c *WebsocketStreamingClient) liveConn() (*websocket.Conn, error) {
	c.accessMu.Lock()
	defer c.accessMu.Unlock()
	if c.failed != nil {
		return nil, c.failed
	}
	if c.conn == nil {
		return nil, NewStatusError(StatusInternal, "stream not started")
	}
	return c.conn, nil
}

// fail records the first non-OK completion and drops the connection. Every
// subsequent operation reports the same status.
func (c *WebsocketStreamingClient) fail(se *StatusError) *StatusError {
	c.accessMu.Lock()
	defer c.accessMu.Unlock()
	return c.failLocked(se)
}

func (c *WebsocketStreamingClient) failLocked(se *StatusError) *StatusError {
	if c.failed == nil {
		c.failed = se
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return c.failed
}

// dropOnCancel closes the connection if ctx is cancelled while a blocking
// read or write is in flight. Cancellation of a pending operation drops the
// stream.
func (c *WebsocketStreamingClient) dropOnCancel(ctx context.Context, conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func statusFromTransport(ctx context.Context, err error) *StatusError {
	if ctx.Err() != nil {
		return NewStatusError(StatusCancelled, ctx.Err().Error())
	}
	return NewStatusError(StatusUnavailable, err.Error())
}
