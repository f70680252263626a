package bridge

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fossclaw/fossclaw/internal/protocol"
)

const (
	outboundBuffer = 64
	writeWait      = 10 * time.Second
)

var agentUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // local-only agent socket, spec §6.1
}

// ServeAgentSocket upgrades r to a websocket and runs the agent side of the bridge
// for the given session until the socket closes. No auth cookie is required here:
// this endpoint is only reachable from the local agent process (spec §6.1).
func (b *Bridge) ServeAgentSocket(w http.ResponseWriter, r *http.Request, s *Session, logger *slog.Logger) {
	conn, err := agentUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("agent socket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	out := make(chan []byte, outboundBuffer)
	done := make(chan struct{})
	closeOnce := make(chan struct{})
	closeFn := func() {
		select {
		case <-closeOnce:
		default:
			close(closeOnce)
			conn.Close()
		}
	}

	go func() {
		for {
			select {
			case frame, ok := <-out:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					closeFn()
					return
				}
			case <-done:
				return
			}
		}
	}()

	b.AttachAgent(s, func(frame []byte) {
		select {
		case out <- frame:
		default:
			logger.Warn("agent outbound buffer full, dropping frame", "session_id", s.ID)
		}
	}, closeFn)

	// A bare socket close here is always a transient detach (spec §4.1): it does not
	// archive the session. The launcher distinguishes actual process exit and calls
	// DetachAgent(s, true) itself once the child's Wait() returns.
	var framer protocol.LineFramer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		envs, ferr := framer.Feed(append(data, '\n'))
		if ferr != nil {
			logger.Warn("protocol error from agent", "session_id", s.ID, "error", ferr, "prefix", truncate(data, 200))
			continue
		}
		for _, env := range envs {
			env.SessionID = s.ID
			if err := b.HandleAgentFrame(s, env); err != nil {
				logger.Warn("error applying agent frame", "session_id", s.ID, "type", env.Type, "error", err)
			}
		}
	}
	close(done)
	close(out)
	b.DetachAgent(s, false)
}

var browserUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // origin allow-list enforced by httpapi middleware
}

// ServeBrowserSocket upgrades r to a websocket and runs the browser side of the
// bridge for the given session until the socket closes. Callers must have already
// validated the auth cookie (spec §6.1).
func (b *Bridge) ServeBrowserSocket(w http.ResponseWriter, r *http.Request, s *Session, connID string, logger *slog.Logger) {
	conn, err := browserUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("browser socket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	out := make(chan []byte, outboundBuffer)
	done := make(chan struct{})
	closeOnce := make(chan struct{})
	closeFn := func() {
		select {
		case <-closeOnce:
		default:
			close(closeOnce)
			conn.Close()
		}
	}

	go func() {
		for {
			select {
			case frame, ok := <-out:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					closeFn()
					return
				}
			case <-done:
				return
			}
		}
	}()

	sink := func(frame []byte) {
		select {
		case out <- frame:
		default:
			logger.Warn("browser outbound buffer full, dropping frame", "session_id", s.ID, "conn_id", connID)
		}
	}
	b.AttachBrowser(s, connID, sink, closeFn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var env protocol.Envelope
		var raw struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			logger.Warn("protocol error from browser", "session_id", s.ID, "error", err, "prefix", truncate(data, 200))
			continue
		}
		env.Type = raw.Type
		env.SessionID = s.ID
		env.Payload = append([]byte(nil), data...)
		if err := b.HandleBrowserFrame(s, connID, env); err != nil {
			logger.Warn("error applying browser frame", "session_id", s.ID, "conn_id", connID, "type", env.Type, "error", err)
		}
	}
	close(done)
	close(out)
	b.DetachBrowser(s, connID)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
