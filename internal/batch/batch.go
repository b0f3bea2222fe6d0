// Package batch executes an ordered list of independent sub-requests, each
// isolated behind its own session id and streaming connection.
//
// Units run strictly in order with a throttle delay between one unit
// settling and the next starting. Every unit gets a freshly minted session
// id so a backend that multiplexes by session id never cross-talks between
// siblings. A failed unit can be retried on its own without touching the
// others.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"agentstream/internal/frame"
	"agentstream/internal/logging"
	"agentstream/internal/transport"
	"agentstream/internal/trigger"
)

// ============================================================================
// UNIT MODEL
// ============================================================================

// UnitState tracks a unit through its lifecycle. Transitions only move
// forward, except that an explicit retry takes Error back to Processing.
type UnitState int

const (
	UnitQueued UnitState = iota
	UnitPending
	UnitProcessing
	UnitCompleted
	UnitError
)

func (s UnitState) String() string {
	switch s {
	case UnitQueued:
		return "queued"
	case UnitPending:
		return "pending"
	case UnitProcessing:
		return "processing"
	case UnitCompleted:
		return "completed"
	case UnitError:
		return "error"
	default:
		return "unknown"
	}
}

// Request is one sub-request going into a batch.
type Request struct {
	SubID    string // caller-chosen identifier, unique within the batch
	Question string
	// AgentPath optionally overrides the default trigger path so one
	// batch can target several agents.
	AgentPath string
}

// Unit is the live state of one sub-request. Content only grows while the
// unit is Processing.
type Unit struct {
	SubID        string
	Question     string
	AgentPath    string
	SessionID    string
	State        UnitState
	Content      string
	ErrorMessage string
}

// Sink receives unit and progress updates as the batch runs. Implementations
// must be safe to call from the orchestrator goroutine and from connection
// reader goroutines, must be cheap, and must not call back into the
// Orchestrator (UnitChanged fires under its lock).
type Sink interface {
	// UnitChanged delivers a snapshot of a unit after any state or
	// content change.
	UnitChanged(u Unit)

	// Progress reports completed units over total after each settlement.
	Progress(completed, total int)
}

// NopSink discards all updates.
type NopSink struct{}

func (NopSink) UnitChanged(Unit)  {}
func (NopSink) Progress(int, int) {}

// ============================================================================
// WIRING
// ============================================================================

// Starter fires the backend trigger for one unit. *trigger.Client satisfies
// this.
type Starter interface {
	Fire(ctx context.Context, agentPath, question, sessionID string) error
}

// Conn is the slice of transport.Connection the orchestrator needs.
type Conn interface {
	Connect(ctx context.Context) error
	Close() error
}

// ConnFactory builds the streaming connection for a session id with the
// unit's handler attached.
type ConnFactory func(sessionID string, h transport.Handler) (Conn, error)

// WebsocketFactory is the production ConnFactory: it resolves the stream URL
// for the session id and dials it over websocket.
func WebsocketFactory(endpoints trigger.Endpoints, cfg transport.Config) ConnFactory {
	return func(sessionID string, h transport.Handler) (Conn, error) {
		url, err := endpoints.StreamURL(sessionID)
		if err != nil {
			return nil, err
		}
		unitCfg := cfg
		unitCfg.SessionID = sessionID
		return transport.New(url, unitCfg, h), nil
	}
}

// Config tunes the orchestrator.
type Config struct {
	// InterUnitDelay is the pause between one unit settling and the next
	// starting. Never applied before the first unit.
	InterUnitDelay time.Duration
}

// DefaultConfig returns the standard batch settings.
func DefaultConfig() Config {
	return Config{InterUnitDelay: 1 * time.Second}
}

func (c Config) withDefaults() Config {
	if c.InterUnitDelay <= 0 {
		c.InterUnitDelay = 1 * time.Second
	}
	return c
}

// ============================================================================
// ORCHESTRATOR
// ============================================================================

// Orchestrator runs a batch. Construct with New, drive with Run, then Retry
// individual failures and Cleanup when done.
type Orchestrator struct {
	mu    sync.Mutex
	units []*Unit
	index map[string]int  // subID -> units index
	conns map[string]Conn // sessionID -> live connection

	starter Starter
	dial    ConnFactory
	sink    Sink
	cfg     Config

	// Injection points for tests.
	sleep        func(ctx context.Context, d time.Duration) error
	newSessionID func() string
}

// New builds an orchestrator over the given sub-requests. sink may be nil.
func New(reqs []Request, starter Starter, dial ConnFactory, sink Sink, cfg Config) *Orchestrator {
	if sink == nil {
		sink = NopSink{}
	}
	o := &Orchestrator{
		index:        make(map[string]int, len(reqs)),
		conns:        make(map[string]Conn),
		starter:      starter,
		dial:         dial,
		sink:         sink,
		cfg:          cfg.withDefaults(),
		sleep:        sleepCtx,
		newSessionID: uuid.NewString,
	}
	for i, r := range reqs {
		o.units = append(o.units, &Unit{
			SubID:     r.SubID,
			Question:  r.Question,
			AgentPath: r.AgentPath,
			State:     UnitQueued,
		})
		o.index[r.SubID] = i
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes every unit in order. The first unit starts immediately; each
// subsequent unit waits InterUnitDelay after the previous one settled. Run
// returns once every unit has settled, or early with the context's error.
func (o *Orchestrator) Run(ctx context.Context) error {
	total := len(o.units)
	logging.Batch("batch starting: %d units", total)

	// Render every card up front: the first is pending, the rest queued.
	o.mu.Lock()
	if total > 0 {
		o.units[0].State = UnitPending
	}
	snapshots := o.snapshotLocked()
	o.mu.Unlock()
	for _, u := range snapshots {
		o.sink.UnitChanged(u)
	}
	o.sink.Progress(0, total)

	for i := 0; i < total; i++ {
		if i > 0 {
			if err := o.sleep(ctx, o.cfg.InterUnitDelay); err != nil {
				o.markRemainingAborted(i, err)
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			o.markRemainingAborted(i, err)
			return err
		}
		o.runUnit(ctx, i)
	}

	logging.Batch("batch done: %d/%d completed", o.CompletedCount(), total)
	return nil
}

// Retry re-runs exactly one failed unit. Siblings keep their state and
// connections; a unit can only be retried from Error.
func (o *Orchestrator) Retry(ctx context.Context, subID string) error {
	o.mu.Lock()
	i, ok := o.index[subID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("batch: unknown sub-request %q", subID)
	}
	if o.units[i].State != UnitError {
		state := o.units[i].State
		o.mu.Unlock()
		return fmt.Errorf("batch: sub-request %q is %s, only failed units can retry", subID, state)
	}
	// A retried unit starts from scratch: fresh session id, fresh content.
	o.units[i].Content = ""
	o.units[i].ErrorMessage = ""
	o.units[i].State = UnitPending
	o.mu.Unlock()

	logging.Batch("retrying unit %s", subID)
	o.runUnit(ctx, i)
	return nil
}

// Cleanup closes every connection still live. Used when the surrounding
// session ends or the UI quits mid-batch.
func (o *Orchestrator) Cleanup() error {
	o.mu.Lock()
	conns := make([]Conn, 0, len(o.conns))
	for sid, c := range o.conns {
		conns = append(conns, c)
		delete(o.conns, sid)
	}
	o.mu.Unlock()

	if len(conns) == 0 {
		return nil
	}
	logging.Batch("cleanup: closing %d live connections", len(conns))
	var g errgroup.Group
	for _, c := range conns {
		c := c
		g.Go(c.Close)
	}
	return g.Wait()
}

// CompletedCount recounts completed units. Always derived from unit states,
// never cached.
func (o *Orchestrator) CompletedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, u := range o.units {
		if u.State == UnitCompleted {
			n++
		}
	}
	return n
}

// Units returns a snapshot of every unit.
func (o *Orchestrator) Units() []Unit {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Unit returns a snapshot of one unit by sub-request id.
func (o *Orchestrator) Unit(subID string) (Unit, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	i, ok := o.index[subID]
	if !ok {
		return Unit{}, false
	}
	return *o.units[i], true
}

func (o *Orchestrator) snapshotLocked() []Unit {
	out := make([]Unit, len(o.units))
	for i, u := range o.units {
		out[i] = *u
	}
	return out
}

// ============================================================================
// UNIT EXECUTION
// ============================================================================

// runUnit drives one unit to settlement: trigger, connect, stream, close.
func (o *Orchestrator) runUnit(ctx context.Context, i int) {
	sessionID := o.newSessionID()

	o.mu.Lock()
	u := o.units[i]
	u.SessionID = sessionID
	u.State = UnitPending
	subID := u.SubID
	question := u.Question
	agentPath := u.AgentPath
	o.notifyLocked(i)
	o.mu.Unlock()

	logging.Batch("unit %s starting sid=%s", subID, sessionID)
	logging.Transcript(logging.TranscriptEvent{
		EventType: logging.TranscriptSessionStart,
		SessionID: sessionID,
		SubID:     subID,
	})
	defer logging.Transcript(logging.TranscriptEvent{
		EventType: logging.TranscriptSessionEnd,
		SessionID: sessionID,
		SubID:     subID,
	})
	logging.TranscriptUnitEvent(subID, sessionID, UnitPending.String())

	if err := o.starter.Fire(ctx, agentPath, question, sessionID); err != nil {
		logging.BatchError("unit %s trigger failed: %v", subID, err)
		o.settle(i, UnitError, fmt.Sprintf("trigger failed: %v", err))
		return
	}

	o.setState(i, UnitProcessing)

	done := make(chan error, 1)
	handler := transport.HandlerFuncs{
		Frame: func(f frame.Frame) {
			if f.Kind != frame.KindData {
				return
			}
			o.appendContent(i, f.Text)
		},
		Closed: func(err error) {
			done <- err
		},
	}

	conn, err := o.dial(sessionID, handler)
	if err != nil {
		o.settle(i, UnitError, fmt.Sprintf("connection setup failed: %v", err))
		return
	}

	o.mu.Lock()
	o.conns[sessionID] = conn
	o.mu.Unlock()

	if err := conn.Connect(ctx); err != nil {
		// The channel never opened; no close callback will fire.
		o.dropConn(sessionID)
		o.settle(i, UnitError, fmt.Sprintf("connection failed: %v", err))
		return
	}

	select {
	case err := <-done:
		o.dropConn(sessionID)
		if err == nil {
			// The stream signalled its own completion.
			o.settle(i, UnitCompleted, "")
		} else {
			// The channel opened but went away before completing.
			logging.BatchWarn("unit %s channel dropped: %v", subID, err)
			o.settle(i, UnitError, "closed unexpectedly")
		}
	case <-ctx.Done():
		conn.Close()
		o.dropConn(sessionID)
		o.settle(i, UnitError, fmt.Sprintf("aborted: %v", ctx.Err()))
	}
}

// settle records a unit's terminal state and refreshes aggregate progress.
func (o *Orchestrator) settle(i int, state UnitState, errMsg string) {
	o.mu.Lock()
	u := o.units[i]
	u.State = state
	u.ErrorMessage = errMsg
	subID, sessionID := u.SubID, u.SessionID
	o.notifyLocked(i)
	completed, total := 0, len(o.units)
	for _, x := range o.units {
		if x.State == UnitCompleted {
			completed++
		}
	}
	o.mu.Unlock()

	logging.Batch("unit %s settled %s (%d/%d)", subID, state, completed, total)
	logging.TranscriptUnitEvent(subID, sessionID, state.String())
	o.sink.Progress(completed, total)
}

func (o *Orchestrator) setState(i int, state UnitState) {
	o.mu.Lock()
	o.units[i].State = state
	o.notifyLocked(i)
	o.mu.Unlock()
}

// appendContent grows a unit's accumulated content. Frames that race past a
// settlement are dropped; content only grows while Processing.
func (o *Orchestrator) appendContent(i int, text string) {
	o.mu.Lock()
	u := o.units[i]
	if u.State != UnitProcessing {
		o.mu.Unlock()
		return
	}
	u.Content += text
	o.notifyLocked(i)
	o.mu.Unlock()
}

func (o *Orchestrator) dropConn(sessionID string) {
	o.mu.Lock()
	delete(o.conns, sessionID)
	o.mu.Unlock()
}

// markRemainingAborted settles every unit from index on that never ran.
func (o *Orchestrator) markRemainingAborted(from int, cause error) {
	for i := from; i < len(o.units); i++ {
		o.mu.Lock()
		terminal := o.units[i].State == UnitCompleted || o.units[i].State == UnitError
		o.mu.Unlock()
		if !terminal {
			o.settle(i, UnitError, fmt.Sprintf("aborted: %v", cause))
		}
	}
}

// notifyLocked snapshots a unit and hands it to the sink. Called with mu
// held; the sink call itself happens after copying, still under mu, because
// sinks are expected to be cheap (channel send or map update).
func (o *Orchestrator) notifyLocked(i int) {
	u := *o.units[i]
	o.sink.UnitChanged(u)
}
