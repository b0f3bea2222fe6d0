package ui

import (
	"agentstream/internal/batch"
)

// ProgressUpdate carries aggregate progress from the orchestrator.
type ProgressUpdate struct {
	Completed int
	Total     int
}

// Events bridges the orchestrator's sink callbacks into the bubbletea
// program. It satisfies batch.Sink; the model drains the channels via
// listen commands. Sends never block: unit updates are refresh hints, so
// dropping one under backpressure only delays a repaint until the next.
type Events struct {
	units    chan batch.Unit
	progress chan ProgressUpdate
	done     chan error
}

// NewEvents creates the channel bridge.
func NewEvents() *Events {
	return &Events{
		units:    make(chan batch.Unit, 256),
		progress: make(chan ProgressUpdate, 64),
		done:     make(chan error, 1),
	}
}

// UnitChanged implements batch.Sink.
func (e *Events) UnitChanged(u batch.Unit) {
	select {
	case e.units <- u:
	default:
	}
}

// Progress implements batch.Sink.
func (e *Events) Progress(completed, total int) {
	select {
	case e.progress <- ProgressUpdate{Completed: completed, Total: total}:
	default:
	}
}

// RunDone reports the orchestrator's Run result to the view.
func (e *Events) RunDone(err error) {
	select {
	case e.done <- err:
	default:
	}
}

var _ batch.Sink = (*Events)(nil)
