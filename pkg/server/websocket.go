package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/walnutseal1/yk-project/pkg/agent"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The socket carries the same surface as the local HTTP API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsInbound is a client frame. Event defaults to send_message when omitted.
type wsInbound struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

type wsChunkFrame struct {
	Event string      `json:"event"`
	Chunk agent.Chunk `json:"chunk"`
}

type wsErrorFrame struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// handleWebSocket streams chat turns over one socket. Each send_message
// frame produces a run of stream_chunk frames ending in is_complete; the
// socket stays open for the next message. A write failure aborts the
// in-flight turn.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	slog.Debug("websocket client connected", "remote", conn.RemoteAddr())

	for {
		var inbound wsInbound
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read failed", "error", err)
			}
			return
		}
		if inbound.Event != "" && inbound.Event != "send_message" {
			continue
		}
		if inbound.Message == "" {
			if err := conn.WriteJSON(wsErrorFrame{Event: "error", Error: "No message provided"}); err != nil {
				return
			}
			continue
		}

		if !s.streamTurn(conn, inbound.Message) {
			return
		}
	}
}

// streamTurn runs one foreground turn, forwarding chunks to the socket.
// Returns false when the connection is gone.
func (s *Server) streamTurn(conn *websocket.Conn, message string) bool {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := s.agent.ChatStream(ctx, message)
	for chunk := range stream {
		if err := conn.WriteJSON(wsChunkFrame{Event: "stream_chunk", Chunk: chunk}); err != nil {
			slog.Debug("websocket write failed, aborting turn", "error", err)
			cancel()
			for range stream {
			}
			return false
		}
	}
	return true
}
