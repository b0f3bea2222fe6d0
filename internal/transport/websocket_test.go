package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newStreamServer serves one scripted answer stream per websocket client.
func newStreamServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Drain until the client closes.
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	return httptest.NewServer(mux)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/stream?session_id=itest"
}

func TestWebsocketDialer_StreamToCompletion(t *testing.T) {
	defer goleak.VerifyNone(t)

	ts := newStreamServer(t, []string{
		"event: Working",
		"data: Answer A",
		"event: end",
	})
	defer ts.Close()

	h := newRecordingHandler()
	cfg := DefaultConfig()
	cfg.SessionID = "itest"
	conn := New(wsURL(ts.URL), cfg, h)
	defer conn.Close()

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	h.expect(t, "open")
	h.expect(t, "frame:event:Working")
	h.expect(t, "frame:data:Answer A")
	h.expect(t, "close:nil")

	if conn.State() != StateClosed {
		t.Errorf("State() = %v, want %v", conn.State(), StateClosed)
	}
}

func TestWebsocketDialer_RefusedEndpoint(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Plain HTTP endpoint that never upgrades.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no websocket here", http.StatusBadRequest)
	}))
	defer ts.Close()

	h := newRecordingHandler()
	cfg := Config{
		MaxRetries:        1,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	conn := New(wsURL(ts.URL), cfg, h)
	defer conn.Close()

	err := conn.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect() to non-websocket endpoint succeeded")
	}
	h.expect(t, "status:Reconnecting... (1/1)")
}
