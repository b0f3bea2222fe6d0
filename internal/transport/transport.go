// Package transport implements the reconnecting duplex channel that carries
// one streaming answer session.
//
// A Connection owns the websocket for exactly one session id: it dials,
// retries with capped exponential backoff when the channel drops, feeds raw
// messages through the frame parser, and delivers typed frames to a Handler.
// The stream's own "event: end" line closes the connection cleanly; explicit
// Close detaches the handler before tearing the socket down so no late frame
// is ever delivered after a requested close.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"agentstream/internal/frame"
	"agentstream/internal/logging"
)

// State represents the connection lifecycle state.
type State int

const (
	// StateIdle - created, Connect not yet called
	StateIdle State = iota
	// StateConnecting - dialing or waiting out a backoff delay
	StateConnecting
	// StateOpen - channel established, frames flowing
	StateOpen
	// StateClosed - torn down, either by the caller, the stream's terminal
	// frame, or retry exhaustion
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var (
	// ErrNotConnected - Send was called while the channel is not open.
	// Send never retries; only Connect owns the retry budget.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrRetryExhausted - the reconnect budget is spent.
	ErrRetryExhausted = errors.New("transport: retry budget exhausted")
)

// Config holds the tunables for one Connection.
type Config struct {
	// MaxRetries bounds reconnect attempts. Call sites differ: batch units
	// run tight budgets, interactive sessions looser ones.
	MaxRetries int

	// BaseDelay seeds the backoff schedule.
	BaseDelay time.Duration

	// MaxDelay caps the backoff schedule.
	MaxDelay time.Duration

	// BackoffMultiplier grows the delay between attempts.
	BackoffMultiplier float64

	// PreserveDataLineBreaks treats a whole data-prefixed message as one
	// frame so newlines inside an answer survive parsing.
	PreserveDataLineBreaks bool

	// SessionID is carried only for log correlation.
	SessionID string

	// Dialer opens the underlying socket. Defaults to the websocket dialer.
	Dialer Dialer
}

// DefaultConfig returns the library defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		BaseDelay:         1000 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
	}
}

// withDefaults fills in zero values so a partially specified Config behaves.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.Dialer == nil {
		c.Dialer = NewWebsocketDialer()
	}
	return c
}

// backoffDelay computes the wait before attempt n (1-based):
// min(BaseDelay * BackoffMultiplier^(n-1), MaxDelay).
func backoffDelay(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(cfg.BaseDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1)))
	if d <= 0 || d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}

// Connection is one reconnecting duplex channel. Exactly one Connection is
// live per session id at any time; the orchestrator enforces that.
type Connection struct {
	url string
	cfg Config

	mu            sync.Mutex
	state         State
	sock          Socket
	handler       Handler // nil once detached; checked per callback
	retryCount    int
	isClosing     bool
	retryTimer    *time.Timer
	connectCancel context.CancelFunc
	ctx           context.Context // for async redials after a drop

	closeOnce sync.Once
	closeCh   chan struct{}

	log *logging.SessionLogger
}

// New creates a Connection for the given stream URL. The handler receives
// lifecycle and frame callbacks; it may be partially implemented via
// HandlerFuncs. Connect must be called to open the channel.
func New(url string, cfg Config, handler Handler) *Connection {
	cfg = cfg.withDefaults()
	return &Connection{
		url:     url,
		cfg:     cfg,
		state:   StateIdle,
		handler: handler,
		closeCh: make(chan struct{}),
		log:     logging.WithSession(logging.CategoryTransport, cfg.SessionID),
	}
}

// Connect opens the channel, blocking until it is established or the retry
// budget is spent. On success the retry count resets and OnOpen fires.
// Each failed attempt emits OnStatusUpdate("Reconnecting... (n/max)") and
// waits out the backoff delay. If Close is requested while connecting, the
// caller is released cleanly with a nil error: the closure was its own doing
// and is not a failure.
func (c *Connection) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.isClosing || c.state == StateClosed {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.state = StateConnecting
	c.connectCancel = cancel
	c.ctx = ctx
	c.mu.Unlock()

	var lastErr error
	for {
		logging.Transcript(logging.TranscriptEvent{
			EventType: logging.TranscriptConnectAttempt,
			SessionID: c.cfg.SessionID,
			Attempt:   c.currentRetry() + 1,
		})

		sock, err := c.cfg.Dialer.DialContext(ctx, c.url)
		if err == nil {
			if c.adopt(sock) {
				return nil
			}
			// Closed while the dial was in flight.
			sock.Close()
			return nil
		}
		lastErr = err

		if c.closingNow() {
			return nil
		}

		attempt, budget := c.noteFailure()
		c.log.Warn("connect attempt failed (attempt=%d/%d): %v", attempt, c.cfg.MaxRetries, err)
		if !budget {
			logging.Transcript(logging.TranscriptEvent{
				EventType: logging.TranscriptConnectFailed,
				SessionID: c.cfg.SessionID,
				Attempt:   attempt,
				Error:     err.Error(),
			})
			// The outcome itself fails; OnClose is reserved for channels
			// that actually opened.
			c.shutdown()
			if c.closingNow() {
				return nil
			}
			return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempt, lastErr)
		}

		delay := backoffDelay(c.cfg, attempt)
		c.notifyStatus(fmt.Sprintf("Reconnecting... (%d/%d)", attempt, c.cfg.MaxRetries))
		logging.Transcript(logging.TranscriptEvent{
			EventType: logging.TranscriptConnectRetry,
			SessionID: c.cfg.SessionID,
			Attempt:   attempt,
			Detail:    delay.String(),
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			if c.closingNow() {
				return nil
			}
			return ctx.Err()
		case <-c.closeCh:
			return nil
		}
	}
}

// adopt installs an open socket and starts the reader. Returns false if the
// connection was closed while the dial was in flight.
func (c *Connection) adopt(sock Socket) bool {
	c.mu.Lock()
	if c.isClosing || c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.sock = sock
	c.state = StateOpen
	c.retryCount = 0
	h := c.handler
	c.mu.Unlock()

	c.log.Info("channel open: %s", c.url)
	logging.Transcript(logging.TranscriptEvent{
		EventType: logging.TranscriptConnectOpen,
		SessionID: c.cfg.SessionID,
	})
	if h != nil {
		h.OnOpen()
	}
	go c.readLoop(sock)
	return true
}

// Send transmits a message over the open channel. Strings and byte slices
// go out verbatim; anything else is JSON-serialized first. Fails
// immediately with ErrNotConnected when the channel is not open - there is
// no send-side retry.
func (c *Connection) Send(v interface{}) error {
	c.mu.Lock()
	sock, state := c.sock, c.state
	c.mu.Unlock()

	if state != StateOpen || sock == nil {
		return ErrNotConnected
	}

	var data []byte
	switch m := v.(type) {
	case string:
		data = []byte(m)
	case []byte:
		data = m
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("transport: serialize message: %w", err)
		}
		data = encoded
	}
	return sock.WriteMessage(data)
}

// Close tears the connection down. Idempotent. The handler is detached
// before the socket is closed so no late-arriving frame can be delivered
// after logical close; any pending retry timer is cancelled and any caller
// still waiting in Connect is released cleanly. The retry count resets.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.isClosing = true
	c.handler = nil
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.connectCancel != nil {
		c.connectCancel()
		c.connectCancel = nil
	}
	sock := c.sock
	c.sock = nil
	c.state = StateClosed
	c.retryCount = 0
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.closeCh) })
	if sock != nil {
		sock.Close()
	}
	c.log.Info("closed by caller")
	logging.Transcript(logging.TranscriptEvent{
		EventType: logging.TranscriptConnectClosed,
		SessionID: c.cfg.SessionID,
		Detail:    "caller",
	})
	return nil
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the channel is open.
func (c *Connection) IsConnected() bool {
	return c.State() == StateOpen
}

// ResetRetries zeroes the retry counter, restoring the full budget.
func (c *Connection) ResetRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryCount = 0
}

// currentRetry returns the retry counter for logging.
func (c *Connection) currentRetry() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

func (c *Connection) closingNow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosing
}

// noteFailure increments the retry counter. Returns the 1-based attempt
// number and whether budget remains.
func (c *Connection) noteFailure() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryCount++
	return c.retryCount, c.retryCount <= c.cfg.MaxRetries
}

func (c *Connection) notifyStatus(status string) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h.OnStatusUpdate(status)
	}
}

// readLoop pumps messages from one established socket until it drops or the
// stream terminates itself. All frame callbacks fire from this goroutine, so
// per-connection delivery order is wire order.
func (c *Connection) readLoop(sock Socket) {
	for {
		raw, err := sock.ReadMessage()
		if err != nil {
			c.handleDrop(err)
			return
		}
		if terminal := c.dispatch(raw); terminal {
			c.log.Info("stream completed (event: end)")
			c.terminate(nil)
			return
		}
	}
}

// dispatch parses one raw message and delivers its frames. Returns true
// when the message carried the stream's terminal line.
func (c *Connection) dispatch(raw string) bool {
	frames, terminal := frame.Parse(raw, c.cfg.PreserveDataLineBreaks)
	for _, f := range frames {
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h == nil {
			// Detached mid-message: drop the rest.
			return terminal
		}

		logging.FrameDebug("[sid=%s] %s frame (%d bytes)", c.cfg.SessionID, f.Kind, len(f.Text))
		logging.TranscriptFrameEvent(c.cfg.SessionID, f.Kind.String(), fmt.Sprintf("%d bytes", len(f.Text)))
		h.OnFrame(f)

		// Boundary markers additionally fire the dedicated completion
		// callback so a consumer can finalize the current block. This is
		// orthogonal to closing the connection.
		if f.Kind == frame.KindEvent && frame.IsBoundaryMarker(f.Text) {
			h.OnMessageComplete(f.Text)
		}
	}
	return terminal
}

// handleDrop reacts to a read error on an established channel: silent exit
// when the caller requested close, otherwise an asynchronous reconnect
// under the remaining budget.
func (c *Connection) handleDrop(cause error) {
	c.mu.Lock()
	if c.isClosing || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.sock = nil
	c.state = StateConnecting
	c.retryCount++
	attempt := c.retryCount
	budget := attempt <= c.cfg.MaxRetries
	c.mu.Unlock()

	if !budget {
		c.log.Error("channel dropped, retries exhausted (attempt=%d/%d): %v", attempt, c.cfg.MaxRetries, cause)
		c.terminate(fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempt, cause))
		return
	}

	delay := backoffDelay(c.cfg, attempt)
	c.log.Warn("channel dropped, reconnecting in %v (attempt=%d/%d): %v", delay, attempt, c.cfg.MaxRetries, cause)
	c.notifyStatus(fmt.Sprintf("Reconnecting... (%d/%d)", attempt, c.cfg.MaxRetries))
	logging.Transcript(logging.TranscriptEvent{
		EventType: logging.TranscriptConnectRetry,
		SessionID: c.cfg.SessionID,
		Attempt:   attempt,
		Error:     cause.Error(),
	})

	c.mu.Lock()
	if c.isClosing {
		c.mu.Unlock()
		return
	}
	c.retryTimer = time.AfterFunc(delay, c.redial)
	c.mu.Unlock()
}

// redial runs a single reconnect attempt from the retry timer.
func (c *Connection) redial() {
	c.mu.Lock()
	if c.isClosing || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	logging.Transcript(logging.TranscriptEvent{
		EventType: logging.TranscriptConnectAttempt,
		SessionID: c.cfg.SessionID,
		Attempt:   c.currentRetry(),
	})

	sock, err := c.cfg.Dialer.DialContext(ctx, c.url)
	if err != nil {
		c.handleDrop(err)
		return
	}
	if !c.adopt(sock) {
		sock.Close()
	}
}

// shutdown marks the connection closed without notifying the handler.
// Used when a never-opened Connect exhausts its budget: the error travels
// through the Connect outcome instead.
func (c *Connection) shutdown() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.handler = nil
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.connectCancel != nil {
		c.connectCancel()
		c.connectCancel = nil
	}
	sock := c.sock
	c.sock = nil
	c.state = StateClosed
	c.retryCount = 0
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.closeCh) })
	if sock != nil {
		sock.Close()
	}
}

// terminate finishes the connection from within: retry exhaustion or the
// stream's own terminal frame. Unlike Close, the handler hears about it via
// OnClose (nil error means the stream completed normally).
func (c *Connection) terminate(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	h := c.handler
	c.handler = nil
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.connectCancel != nil {
		c.connectCancel()
		c.connectCancel = nil
	}
	sock := c.sock
	c.sock = nil
	c.state = StateClosed
	c.retryCount = 0
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.closeCh) })
	if sock != nil {
		sock.Close()
	}
	detail := "completed"
	if err != nil {
		detail = err.Error()
	}
	logging.Transcript(logging.TranscriptEvent{
		EventType: logging.TranscriptConnectClosed,
		SessionID: c.cfg.SessionID,
		Detail:    detail,
	})
	if h != nil {
		h.OnClose(err)
	}
}
