// Package source consumes the chat platform's event gateway over an outbound
// WebSocket connection and feeds inbound messages into the pipeline. The
// gateway pushes JSON frames that each carry an envelope_id; a frame must be
// acked by that id or the gateway redelivers it, so acks are written before
// the payload is handed off. Webhook receiving and signature verification live
// on the platform side and never reach this package.
package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matsurihq/taskbot/internal/logging"
)

// Gateway frame types. Anything else is skipped after acking.
const (
	frameMessage    = "message"
	frameDisconnect = "disconnect"
)

// envelope is one gateway frame. Payload is set on message frames, Reason on
// disconnect frames.
type envelope struct {
	EnvelopeID string          `json:"envelope_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// ackFrame confirms receipt of one envelope.
type ackFrame struct {
	EnvelopeID string `json:"envelope_id"`
}

// stream owns a single gateway connection. gorilla/websocket permits one
// concurrent data writer, so acks are serialized through writeMu; pings and
// the close frame use WriteControl, which is safe alongside other writes.
type stream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  sync.Once
	log     *slog.Logger

	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
}

func newStream(conn *websocket.Conn) *stream {
	return &stream{
		conn:         conn,
		log:          logging.WithComponent("source.stream"),
		pingInterval: 20 * time.Second,
		pongWait:     50 * time.Second,
		writeWait:    5 * time.Second,
	}
}

// listen reads gateway frames on the calling goroutine until the context
// ends, the gateway sends a disconnect frame, or the connection fails.
// Message payloads are passed to deliver in arrival order, each after its
// envelope has been acked. A disconnect or cancellation returns nil; the
// caller decides whether to reconnect.
func (s *stream) listen(ctx context.Context, deliver func(json.RawMessage)) error {
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))

	stop := make(chan struct{})
	defer close(stop)
	go s.keepalive(stop)
	go func() {
		// tear the connection down when the context ends so the blocked
		// read below returns
		select {
		case <-ctx.Done():
			s.close()
		case <-stop:
		}
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.close()
			if ctx.Err() != nil || websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warn("unreadable gateway frame", slog.Any("error", err))
			continue
		}
		if env.EnvelopeID == "" {
			s.log.Warn("gateway frame without envelope_id, skipped")
			continue
		}

		// ack first; the gateway redelivers anything unacked
		if err := s.send(ackFrame{EnvelopeID: env.EnvelopeID}); err != nil {
			s.log.Error("ack write failed",
				slog.String("envelope_id", env.EnvelopeID),
				slog.Any("error", err))
		}

		switch env.Type {
		case frameDisconnect:
			s.log.Info("gateway requested disconnect", slog.String("reason", env.Reason))
			s.close()
			return nil
		case frameMessage:
			deliver(env.Payload)
		default:
			s.log.Warn("unhandled gateway frame", slog.String("type", env.Type))
		}
	}
}

// send marshals v and writes it as one data frame under the write mutex.
func (s *stream) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// keepalive pings on an interval until stop closes or a ping fails. The pong
// handler pushes the read deadline forward, so a dead peer surfaces as a read
// timeout in listen.
func (s *stream) keepalive(stop <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.writeWait)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.log.Warn("keepalive ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

// close sends a close frame once and drops the connection.
func (s *stream) close() {
	s.closed.Do(func() {
		deadline := time.Now().Add(s.writeWait)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = s.conn.Close()
	})
}
