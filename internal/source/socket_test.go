package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// socketServer upgrades incoming connections and hands the server side of
// each connection to the test.
func socketServer(t *testing.T, handle func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		handle(conn)
	}))
}

func dialSocket(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestStreamDeliversPayloadsInOrder(t *testing.T) {
	server := socketServer(t, func(conn *websocket.Conn) {
		frames := []envelope{
			{EnvelopeID: "env-1", Type: "message", Payload: json.RawMessage(`{"message_id":"m1"}`)},
			{EnvelopeID: "env-2", Type: "message", Payload: json.RawMessage(`{"message_id":"m2"}`)},
			{EnvelopeID: "env-3", Type: "disconnect", Reason: "done"},
		}
		for _, frame := range frames {
			if err := conn.WriteJSON(frame); err != nil {
				t.Errorf("write failed: %v", err)
				return
			}
			var ack ackFrame
			if err := conn.ReadJSON(&ack); err != nil {
				t.Errorf("ack read failed: %v", err)
				return
			}
			if ack.EnvelopeID != frame.EnvelopeID {
				t.Errorf("ack = %q, want %q", ack.EnvelopeID, frame.EnvelopeID)
			}
		}
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []string
	err := newStream(dialSocket(t, server)).listen(ctx, func(payload json.RawMessage) {
		var m struct {
			MessageID string `json:"message_id"`
		}
		if err := json.Unmarshal(payload, &m); err != nil {
			t.Errorf("payload decode failed: %v", err)
			return
		}
		got = append(got, m.MessageID)
	})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	if len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Errorf("delivered payloads = %v, want [m1 m2]", got)
	}
}

func TestStreamSkipsMalformedFrames(t *testing.T) {
	server := socketServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteJSON(envelope{Type: "message"}) // no envelope_id, no ack expected
		for _, frame := range []envelope{
			{EnvelopeID: "env-ok", Type: "message", Payload: json.RawMessage(`{}`)},
			{EnvelopeID: "env-bye", Type: "disconnect"},
		} {
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
			var ack ackFrame
			if err := conn.ReadJSON(&ack); err != nil {
				t.Errorf("ack read failed: %v", err)
				return
			}
			if ack.EnvelopeID != frame.EnvelopeID {
				t.Errorf("ack = %q, want %q (malformed frames must not be acked)", ack.EnvelopeID, frame.EnvelopeID)
			}
		}
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	delivered := 0
	err := newStream(dialSocket(t, server)).listen(ctx, func(json.RawMessage) { delivered++ })
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	server := socketServer(t, func(conn *websocket.Conn) {
		// hold the connection open until the client drops it
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	st := newStream(dialSocket(t, server))
	done := make(chan error, 1)
	go func() {
		done <- st.listen(ctx, func(json.RawMessage) {})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("listen = %v after cancel, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not return after cancel")
	}
}

func TestStreamKeepaliveInterleavesWithAcks(t *testing.T) {
	const total = 30

	server := socketServer(t, func(conn *websocket.Conn) {
		for i := 0; i < total; i++ {
			frame := envelope{
				EnvelopeID: fmt.Sprintf("env-%d", i),
				Type:       "message",
				Payload:    json.RawMessage(`{}`),
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
			var ack ackFrame
			if err := conn.ReadJSON(&ack); err != nil {
				t.Errorf("ack %d unreadable: %v", i, err)
				return
			}
			if ack.EnvelopeID != frame.EnvelopeID {
				t.Errorf("ack %d = %q, want %q", i, ack.EnvelopeID, frame.EnvelopeID)
			}
		}
		if err := conn.WriteJSON(envelope{EnvelopeID: "env-bye", Type: "disconnect"}); err != nil {
			return
		}
		var ack ackFrame
		_ = conn.ReadJSON(&ack)
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// pings fire constantly while acks are written, so the two write paths
	// contend the whole run
	st := newStream(dialSocket(t, server))
	st.pingInterval = time.Millisecond

	delivered := 0
	if err := st.listen(ctx, func(json.RawMessage) { delivered++ }); err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	if delivered != total {
		t.Errorf("delivered = %d, want %d", delivered, total)
	}
}
