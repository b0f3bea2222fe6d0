package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"agentstream/internal/frame"
)

// -----------------------------------------------------------------------------
// Test doubles
// -----------------------------------------------------------------------------

// fakeSocket is an in-memory Socket fed by the test.
type fakeSocket struct {
	in        chan string
	closed    chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	sent []string
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan string, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (string, error) {
	select {
	case msg := <-s.in:
		return msg, nil
	case <-s.closed:
		return "", io.EOF
	}
}

func (s *fakeSocket) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return io.ErrClosedPipe
	default:
	}
	s.sent = append(s.sent, string(data))
	return nil
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) sentMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// fakeDialer scripts dial outcomes: the first failures errors, then sockets
// from the queue.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	sockets  []*fakeSocket
	attempts int
}

func (d *fakeDialer) DialContext(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial refused")
	}
	if len(d.sockets) == 0 {
		return nil, errors.New("dial refused")
	}
	sock := d.sockets[0]
	d.sockets = d.sockets[1:]
	return sock, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// blockingDialer blocks until the context is cancelled.
type blockingDialer struct{}

func (blockingDialer) DialContext(ctx context.Context, url string) (Socket, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// recordingHandler serializes every callback into an event channel so tests
// can assert order deterministically.
type recordingHandler struct {
	events chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: make(chan string, 64)}
}

func (h *recordingHandler) OnOpen() { h.events <- "open" }
func (h *recordingHandler) OnFrame(f frame.Frame) {
	h.events <- fmt.Sprintf("frame:%s:%s", f.Kind, f.Text)
}
func (h *recordingHandler) OnMessageComplete(marker string) { h.events <- "complete:" + marker }
func (h *recordingHandler) OnStatusUpdate(status string)    { h.events <- "status:" + status }
func (h *recordingHandler) OnClose(err error) {
	if err == nil {
		h.events <- "close:nil"
	} else {
		h.events <- "close:" + err.Error()
	}
}

func (h *recordingHandler) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-h.events:
		if got != want {
			t.Fatalf("event = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event %q", want)
	}
}

func (h *recordingHandler) expectPrefix(t *testing.T, prefix string) string {
	t.Helper()
	select {
	case got := <-h.events:
		if len(got) < len(prefix) || got[:len(prefix)] != prefix {
			t.Fatalf("event = %q, want prefix %q", got, prefix)
		}
		return got
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event with prefix %q", prefix)
		return ""
	}
}

func (h *recordingHandler) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-h.events:
		t.Fatalf("unexpected event %q", got)
	case <-time.After(d):
	}
}

func fastConfig() Config {
	return Config{
		MaxRetries:        3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

// -----------------------------------------------------------------------------
// Backoff schedule
// -----------------------------------------------------------------------------

func TestBackoffSchedule(t *testing.T) {
	cfg := Config{
		BaseDelay:         1000 * time.Millisecond,
		MaxDelay:          30000 * time.Millisecond,
		BackoffMultiplier: 2,
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for i, w := range want {
		if got := backoffDelay(cfg, i+1); got != w {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", i+1, got, w)
		}
	}
}

// -----------------------------------------------------------------------------
// Connect / retry / close
// -----------------------------------------------------------------------------

func TestConnect_Success(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{sockets: []*fakeSocket{sock}}
	h := newRecordingHandler()

	cfg := fastConfig()
	cfg.Dialer = dialer
	conn := New("ws://example/stream?session_id=s1", cfg, h)
	defer conn.Close()

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.expect(t, "open")

	if !conn.IsConnected() {
		t.Error("IsConnected() = false after successful Connect")
	}
	if got := conn.State(); got != StateOpen {
		t.Errorf("State() = %v, want %v", got, StateOpen)
	}
}

func TestConnect_RetriesThenSucceeds(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{failures: 2, sockets: []*fakeSocket{sock}}
	h := newRecordingHandler()

	cfg := fastConfig()
	cfg.Dialer = dialer
	conn := New("ws://example/stream", cfg, h)
	defer conn.Close()

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.expect(t, "status:Reconnecting... (1/3)")
	h.expect(t, "status:Reconnecting... (2/3)")
	h.expect(t, "open")

	if got := dialer.dialCount(); got != 3 {
		t.Errorf("dial attempts = %d, want 3", got)
	}
}

func TestConnect_RetryExhausted(t *testing.T) {
	dialer := &fakeDialer{failures: 100}
	h := newRecordingHandler()

	cfg := fastConfig()
	cfg.MaxRetries = 2
	cfg.Dialer = dialer
	conn := New("ws://example/stream", cfg, h)

	err := conn.Connect(context.Background())
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Connect() error = %v, want ErrRetryExhausted", err)
	}

	h.expect(t, "status:Reconnecting... (1/2)")
	h.expect(t, "status:Reconnecting... (2/2)")
	// The failure travels through the Connect outcome; OnClose must not
	// also fire for a channel that never opened.
	h.expectSilence(t, 50*time.Millisecond)

	if got := conn.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
}

func TestConnect_CloseReleasesWaiter(t *testing.T) {
	h := newRecordingHandler()
	cfg := fastConfig()
	cfg.Dialer = blockingDialer{}
	conn := New("ws://example/stream", cfg, h)

	done := make(chan error, 1)
	go func() { done <- conn.Connect(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-done:
		// Caller-requested closure resolves cleanly, not as a failure.
		if err != nil {
			t.Errorf("Connect() after Close = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect() still hanging after Close()")
	}
}

func TestClose_Idempotent(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{sockets: []*fakeSocket{sock}}
	h := newRecordingHandler()

	cfg := fastConfig()
	cfg.Dialer = dialer
	conn := New("ws://example/stream", cfg, h)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.expect(t, "open")

	if err := conn.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	// No OnClose after explicit close - the caller already knows.
	h.expectSilence(t, 50*time.Millisecond)

	if conn.State() != StateClosed {
		t.Errorf("State() = %v, want %v", conn.State(), StateClosed)
	}
}

// -----------------------------------------------------------------------------
// Frame delivery
// -----------------------------------------------------------------------------

func TestTerminalFrameClosesConnection(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{sockets: []*fakeSocket{sock}}
	h := newRecordingHandler()

	cfg := fastConfig()
	cfg.Dialer = dialer
	conn := New("ws://example/stream", cfg, h)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.expect(t, "open")

	sock.in <- "data: Answer A\nevent: end\ndata: never delivered"

	h.expect(t, "frame:data:Answer A")
	h.expect(t, "close:nil")
	h.expectSilence(t, 50*time.Millisecond)

	if conn.State() != StateClosed {
		t.Errorf("State() = %v, want %v after terminal frame", conn.State(), StateClosed)
	}
}

func TestBoundaryMarkerFiresMessageComplete(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{sockets: []*fakeSocket{sock}}
	h := newRecordingHandler()

	cfg := fastConfig()
	cfg.Dialer = dialer
	conn := New("ws://example/stream", cfg, h)
	defer conn.Close()
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.expect(t, "open")

	sock.in <- "event: Response"
	h.expect(t, "frame:event:Response")
	h.expect(t, "complete:Response")

	// Boundary markers do not close the channel.
	if !conn.IsConnected() {
		t.Error("connection closed by boundary marker")
	}

	sock.in <- "event: Working on it"
	h.expect(t, "frame:event:Working on it")
	h.expectSilence(t, 50*time.Millisecond)
}

func TestPreserveDataLineBreaks(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{sockets: []*fakeSocket{sock}}
	h := newRecordingHandler()

	cfg := fastConfig()
	cfg.Dialer = dialer
	cfg.PreserveDataLineBreaks = true
	conn := New("ws://example/stream", cfg, h)
	defer conn.Close()
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.expect(t, "open")

	sock.in <- "data: line one\nline two"
	h.expect(t, "frame:data:line one\nline two")
}

// -----------------------------------------------------------------------------
// Send
// -----------------------------------------------------------------------------

func TestSend_NotConnected(t *testing.T) {
	cfg := fastConfig()
	cfg.Dialer = &fakeDialer{}
	conn := New("ws://example/stream", cfg, newRecordingHandler())

	if err := conn.Send("hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() before Connect = %v, want ErrNotConnected", err)
	}
}

func TestSend_SerializesStructuredValues(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{sockets: []*fakeSocket{sock}}
	h := newRecordingHandler()

	cfg := fastConfig()
	cfg.Dialer = dialer
	conn := New("ws://example/stream", cfg, h)
	defer conn.Close()
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.expect(t, "open")

	if err := conn.Send("plain text"); err != nil {
		t.Fatalf("Send(string) error = %v", err)
	}
	if err := conn.Send(map[string]string{"type": "retry", "sub_id": "b"}); err != nil {
		t.Fatalf("Send(map) error = %v", err)
	}

	sent := sock.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2: %v", len(sent), sent)
	}
	if sent[0] != "plain text" {
		t.Errorf("sent[0] = %q", sent[0])
	}
	if sent[1] != `{"sub_id":"b","type":"retry"}` {
		t.Errorf("sent[1] = %q", sent[1])
	}
}

// -----------------------------------------------------------------------------
// Reconnect after drop
// -----------------------------------------------------------------------------

func TestDroppedChannelReconnects(t *testing.T) {
	first := newFakeSocket()
	second := newFakeSocket()
	dialer := &fakeDialer{sockets: []*fakeSocket{first, second}}
	h := newRecordingHandler()

	cfg := fastConfig()
	cfg.Dialer = dialer
	conn := New("ws://example/stream", cfg, h)
	defer conn.Close()
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.expect(t, "open")

	// Drop the channel out from under the connection.
	first.Close()

	h.expect(t, "status:Reconnecting... (1/3)")
	h.expect(t, "open")

	// Frames flow again on the replacement socket.
	second.in <- "data: back online"
	h.expect(t, "frame:data:back online")
}

func TestDroppedChannelExhaustsBudget(t *testing.T) {
	first := newFakeSocket()
	dialer := &fakeDialer{sockets: []*fakeSocket{first}, failures: 0}
	h := newRecordingHandler()

	cfg := fastConfig()
	cfg.MaxRetries = 1
	cfg.Dialer = dialer
	conn := New("ws://example/stream", cfg, h)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.expect(t, "open")

	// No replacement socket queued: the single retry fails.
	first.Close()

	h.expect(t, "status:Reconnecting... (1/1)")
	got := h.expectPrefix(t, "close:")
	if !strings.Contains(got, "retry budget exhausted") {
		t.Errorf("OnClose event = %q, want retry-exhausted", got)
	}
	if conn.State() != StateClosed {
		t.Errorf("State() = %v, want %v", conn.State(), StateClosed)
	}
}
