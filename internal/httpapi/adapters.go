package httpapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/fossclaw/fossclaw/internal/adapter/rpc"
)

// wsRPCConn adapts a gorilla websocket connection to the rpc package's
// line-delimited io.ReadWriteCloser Conn (spec §4.3.2).
type wsRPCConn struct {
	conn *websocket.Conn
	buf  []byte
}

func (c *wsRPCConn) Read(p []byte) (int, error) {
	for len(c.buf) == 0 {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.buf = append(data, '\n')
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *wsRPCConn) Write(p []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsRPCConn) Close() error { return c.conn.Close() }

func dialRPC(url string) func(ctx context.Context) (rpc.Conn, error) {
	return func(ctx context.Context) (rpc.Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial rpc adapter upstream: %w", err)
		}
		return &wsRPCConn{conn: conn}, nil
	}
}

// rpcAdapters tracks the one rpc.Adapter per live rpc-adapter session, so it can be
// closed alongside the bridge session (spec §4.3.2 "a persistent duplex socket"
// per external process, not shared like the SSE adapter's single upstream).
type rpcAdapters struct {
	mu   sync.Mutex
	byID map[string]*rpc.Adapter
}

func newRPCAdapters() *rpcAdapters {
	return &rpcAdapters{byID: make(map[string]*rpc.Adapter)}
}

func (r *rpcAdapters) put(sessionID string, a *rpc.Adapter) {
	r.mu.Lock()
	r.byID[sessionID] = a
	r.mu.Unlock()
}

func (r *rpcAdapters) remove(sessionID string) {
	r.mu.Lock()
	delete(r.byID, sessionID)
	r.mu.Unlock()
}

// StartAdapters starts the shared SSE adapter's upstream health check and
// reconnect loop, if one is configured. Best-effort: a failed or slow upstream
// only disables the sse-adapter provider, it never blocks fossclaw startup
// (spec §9 "adapters degrade independently of the core bridge").
func (s *Server) StartAdapters(ctx context.Context) {
	if s.sseAdapter == nil {
		return
	}
	go func() {
		if err := s.sseAdapter.Start(ctx); err != nil {
			s.logger.Warn("sse adapter upstream unavailable, sse-adapter provider disabled", "error", err)
		}
	}()
}
