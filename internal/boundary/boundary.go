// Package boundary assembles the two logical sub-streams a session can
// multiplex over one connection: a primary answer phase followed by an
// appended evaluation phase.
//
// Data frames alone cannot distinguish the phases; the connection's
// message-complete callback, driven by boundary-marker events, tells the
// assembler when to finalize the current render target and switch to the
// next one.
package boundary

import (
	"strings"
	"sync"

	"agentstream/internal/frame"
	"agentstream/internal/logging"
)

// Phase identifies which sub-stream content currently belongs to.
type Phase int

const (
	PhaseAnswer Phase = iota
	PhaseEvaluation
)

func (p Phase) String() string {
	if p == PhaseEvaluation {
		return "evaluation"
	}
	return "answer"
}

// Target is one render destination: a card, a terminal region, a buffer.
// Append streams segments in as they arrive; Finalize is called exactly once
// when the phase's content is complete.
type Target interface {
	Append(seg frame.Segment)
	Finalize()
}

// TargetFactory creates render targets on demand. The evaluation target is
// only created if evaluation content actually arrives.
type TargetFactory interface {
	NewTarget(phase Phase) Target
}

// Sanitizer cleans inbound payload text before it reaches a target.
type Sanitizer interface {
	Sanitize(s string) string
}

// Escaper protects payload text against the target's own markup.
type Escaper interface {
	Escape(s string) string
}

// NopSanitizer passes text through untouched.
type NopSanitizer struct{}

func (NopSanitizer) Sanitize(s string) string { return s }

// NopEscaper passes text through untouched.
type NopEscaper struct{}

func (NopEscaper) Escape(s string) string { return s }

// MarkdownEscaper escapes characters a markdown renderer would otherwise
// interpret inside agent output, currently just `$` (math-mode trigger).
type MarkdownEscaper struct{}

func (MarkdownEscaper) Escape(s string) string {
	return strings.ReplaceAll(s, "$", "\\$")
}

// ============================================================================
// ASSEMBLER
// ============================================================================

// Assembler routes one connection's frames into phase targets. Wire its
// HandleFrame and HandleMarker methods into the connection's handler. Safe
// for the single reader goroutine plus concurrent snapshot reads.
type Assembler struct {
	factory  TargetFactory
	sanitize Sanitizer
	escape   Escaper

	mu      sync.Mutex
	phase   Phase
	current Target
	answer  strings.Builder
	eval    strings.Builder
	done    bool
}

// New builds an assembler. sanitize and escape may be nil for passthrough.
func New(factory TargetFactory, sanitize Sanitizer, escape Escaper) *Assembler {
	if sanitize == nil {
		sanitize = NopSanitizer{}
	}
	if escape == nil {
		escape = NopEscaper{}
	}
	return &Assembler{factory: factory, sanitize: sanitize, escape: escape}
}

// HandleFrame consumes one frame. Only Data frames carry renderable payload;
// everything else passes through untouched for other consumers.
func (a *Assembler) HandleFrame(f frame.Frame) {
	if f.Kind != frame.KindData {
		return
	}

	// Split before sanitizing: the delimiter and Plot: prefix are wire
	// syntax, and base64 image payloads must pass through verbatim.
	segments := frame.SplitSegments(f.Text)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return
	}
	if a.current == nil {
		a.current = a.factory.NewTarget(a.phase)
	}
	for _, seg := range segments {
		if seg.Kind == frame.SegmentText {
			seg.Text = a.escape.Escape(a.sanitize.Sanitize(seg.Text))
			a.bufferLocked(seg.Text)
		}
		a.current.Append(seg)
	}
}

// HandleMarker consumes one boundary marker from the message-complete
// callback. Every marker finalizes the current target; the Evaluation marker
// additionally switches the phase so subsequent data opens an evaluation
// target; message_complete ends assembly.
func (a *Assembler) HandleMarker(marker string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return
	}

	logging.Boundary("marker %q in phase %s", marker, a.phase)
	if a.current != nil {
		a.current.Finalize()
		a.current = nil
	}

	switch marker {
	case frame.MarkerEvaluation:
		a.phase = PhaseEvaluation
	case frame.MarkerMessageComplete:
		a.done = true
	}
}

// Phase reports the phase the next data frame would land in.
func (a *Assembler) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Done reports whether a message_complete marker has ended assembly.
func (a *Assembler) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Answer returns the accumulated answer-phase text (image segments
// excluded).
func (a *Assembler) Answer() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.answer.String()
}

// Evaluation returns the accumulated evaluation-phase text.
func (a *Assembler) Evaluation() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eval.String()
}

func (a *Assembler) bufferLocked(text string) {
	if a.phase == PhaseEvaluation {
		a.eval.WriteString(text)
	} else {
		a.answer.WriteString(text)
	}
}
