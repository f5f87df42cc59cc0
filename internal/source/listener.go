package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/matsurihq/taskbot/internal/config"
	"github.com/matsurihq/taskbot/internal/logging"
	"github.com/matsurihq/taskbot/internal/pipeline"
	"github.com/matsurihq/taskbot/internal/store"
)

const (
	reconnectBase = 2 * time.Second
	reconnectMax  = time.Minute
)

// messageEvent is the inner payload of a "message" envelope.
type messageEvent struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// Listener maintains the socket connection, persists inbound messages with
// edge deduplication, and hands each new message to the pipeline.
type Listener struct {
	config    *config.SourceConfig
	store     *store.Store
	processor *pipeline.Processor
	log       *slog.Logger
}

// NewListener creates a listener for the configured event stream.
func NewListener(cfg *config.SourceConfig, s *store.Store, p *pipeline.Processor) *Listener {
	return &Listener{
		config:    cfg,
		store:     s,
		processor: p,
		log:       logging.WithComponent("source"),
	}
}

// Run connects to the event stream and consumes it until the context is
// cancelled, reconnecting with backoff on connection loss.
func (l *Listener) Run(ctx context.Context) {
	backoff := reconnectBase

	for {
		if ctx.Err() != nil {
			return
		}

		if err := l.runOnce(ctx); err != nil {
			l.log.Warn("socket connection lost",
				slog.Any("error", err),
				slog.Duration("retry_in", backoff))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// runOnce dials the gateway and consumes its frames until the connection
// drops or the context ends.
func (l *Listener) runOnce(ctx context.Context) error {
	header := http.Header{}
	if l.config.Token != "" {
		header.Set("Authorization", "Bearer "+l.config.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, l.config.URL, header)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	l.log.Info("connected to event gateway", slog.String("url", l.config.URL))

	return newStream(conn).listen(ctx, func(payload json.RawMessage) {
		l.handleMessage(ctx, payload)
	})
}

// handleMessage stores one inbound message and runs the pipeline over it.
// Duplicate deliveries (same platform message ID) are dropped at the edge.
func (l *Listener) handleMessage(ctx context.Context, payload json.RawMessage) {
	var evt messageEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		l.log.Error("failed to decode message event", slog.Any("error", err))
		return
	}
	if evt.Text == "" || evt.ChannelID == "" {
		return
	}

	receivedAt := time.Now()
	if evt.Timestamp > 0 {
		receivedAt = time.Unix(evt.Timestamp, 0)
	}

	msg := &store.Message{
		ID:          uuid.New().String(),
		ExternalID:  evt.MessageID,
		WorkspaceID: l.workspaceFor(evt.ChannelID),
		ChannelID:   evt.ChannelID,
		SenderID:    evt.SenderID,
		Text:        evt.Text,
		ReceivedAt:  receivedAt,
	}

	inserted, err := l.store.InsertMessage(msg)
	if err != nil {
		l.log.Error("failed to store message",
			slog.String("external_id", evt.MessageID),
			slog.Any("error", err))
		return
	}
	if !inserted {
		l.log.Debug("duplicate message dropped", slog.String("external_id", evt.MessageID))
		return
	}

	ctx = logging.ContextWithMessageID(ctx, msg.ID)
	ctx = logging.ContextWithWorkspace(ctx, msg.WorkspaceID)
	result := l.processor.Process(ctx, msg)

	l.log.Info("message processed",
		slog.String("message_id", msg.ID),
		slog.String("intent", string(result.Intent)),
		slog.Float64("confidence", result.Confidence),
		slog.Bool("success", result.Success))
}

// workspaceFor maps a channel external ID onto a workspace.
func (l *Listener) workspaceFor(channelID string) string {
	if ws, ok := l.config.Workspaces[channelID]; ok {
		return ws
	}
	return l.config.DefaultWorkspace
}
