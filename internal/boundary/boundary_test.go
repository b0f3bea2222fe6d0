package boundary

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"agentstream/internal/frame"
)

// recordingTarget logs every append and finalize as a flat event list.
type recordingTarget struct {
	phase  Phase
	events *[]string
}

func (t *recordingTarget) Append(seg frame.Segment) {
	kind := "text"
	if seg.Kind == frame.SegmentImage {
		kind = "image"
	}
	*t.events = append(*t.events, fmt.Sprintf("%s/%s:%s", t.phase, kind, seg.Text))
}

func (t *recordingTarget) Finalize() {
	*t.events = append(*t.events, fmt.Sprintf("%s/finalize", t.phase))
}

type recordingFactory struct {
	events  []string
	created []Phase
}

func (f *recordingFactory) NewTarget(phase Phase) Target {
	f.created = append(f.created, phase)
	return &recordingTarget{phase: phase, events: &f.events}
}

func data(text string) frame.Frame { return frame.Data(text) }

func TestSinglePhaseAssembly(t *testing.T) {
	f := &recordingFactory{}
	a := New(f, nil, nil)

	a.HandleFrame(data("Hello, "))
	a.HandleFrame(data("world"))
	a.HandleMarker(frame.MarkerResponse)

	want := []string{
		"answer/text:Hello, ",
		"answer/text:world",
		"answer/finalize",
	}
	if diff := cmp.Diff(want, f.events); diff != "" {
		t.Errorf("target events mismatch (-want +got):\n%s", diff)
	}
	if got := a.Answer(); got != "Hello, world" {
		t.Errorf("Answer() = %q, want %q", got, "Hello, world")
	}
	if a.Phase() != PhaseAnswer {
		t.Errorf("Phase() = %s, want answer", a.Phase())
	}
}

func TestEvaluationPhaseSwitch(t *testing.T) {
	f := &recordingFactory{}
	a := New(f, nil, nil)

	a.HandleFrame(data("The answer."))
	a.HandleMarker(frame.MarkerEvaluation)
	a.HandleFrame(data("Confidence: high."))
	a.HandleMarker(frame.MarkerMessageComplete)

	want := []string{
		"answer/text:The answer.",
		"answer/finalize",
		"evaluation/text:Confidence: high.",
		"evaluation/finalize",
	}
	if diff := cmp.Diff(want, f.events); diff != "" {
		t.Errorf("target events mismatch (-want +got):\n%s", diff)
	}
	if got := a.Answer(); got != "The answer." {
		t.Errorf("Answer() = %q", got)
	}
	if got := a.Evaluation(); got != "Confidence: high." {
		t.Errorf("Evaluation() = %q", got)
	}
	if !a.Done() {
		t.Error("Done() = false after message_complete")
	}
}

func TestEvaluationTargetCreatedLazily(t *testing.T) {
	f := &recordingFactory{}
	a := New(f, nil, nil)

	a.HandleFrame(data("Answer only."))
	a.HandleMarker(frame.MarkerEvaluation)
	// No evaluation data ever arrives.
	a.HandleMarker(frame.MarkerMessageComplete)

	if diff := cmp.Diff([]Phase{PhaseAnswer}, f.created); diff != "" {
		t.Errorf("created targets mismatch (-want +got):\n%s", diff)
	}
}

func TestPlotSegmentsRouted(t *testing.T) {
	f := &recordingFactory{}
	a := New(f, nil, nil)

	a.HandleFrame(data("Here is the chart$%$%Plot:QUFB"))
	a.HandleMarker(frame.MarkerResponse)

	want := []string{
		"answer/text:Here is the chart",
		"answer/image:QUFB",
		"answer/finalize",
	}
	if diff := cmp.Diff(want, f.events); diff != "" {
		t.Errorf("target events mismatch (-want +got):\n%s", diff)
	}
	// Image payloads stay out of the text accumulation.
	if got := a.Answer(); got != "Here is the chart" {
		t.Errorf("Answer() = %q, want text only", got)
	}
}

func TestNonDataFramesIgnored(t *testing.T) {
	f := &recordingFactory{}
	a := New(f, nil, nil)

	a.HandleFrame(frame.Event("Working on it..."))
	a.HandleFrame(frame.Raw("noise"))
	a.HandleFrame(frame.JSON(map[string]interface{}{}))

	if len(f.events) != 0 || len(f.created) != 0 {
		t.Errorf("non-data frames reached a target: %v", f.events)
	}
}

func TestMarkdownEscaper(t *testing.T) {
	f := &recordingFactory{}
	a := New(f, nil, MarkdownEscaper{})

	a.HandleFrame(data("Price is $5"))

	if got := a.Answer(); got != "Price is \\$5" {
		t.Errorf("Answer() = %q, want escaped dollar", got)
	}
}

func TestMarkdownEscaperLeavesPlotSegmentsIntact(t *testing.T) {
	f := &recordingFactory{}
	a := New(f, nil, MarkdownEscaper{})

	a.HandleFrame(data("Here is the chart$%$%Plot:QUFB"))
	a.HandleMarker(frame.MarkerResponse)

	// Escaping applies per text segment; the delimiter and the base64
	// payload must never see the escaper.
	want := []string{
		"answer/text:Here is the chart",
		"answer/image:QUFB",
		"answer/finalize",
	}
	if diff := cmp.Diff(want, f.events); diff != "" {
		t.Errorf("target events mismatch (-want +got):\n%s", diff)
	}
	if got := a.Answer(); got != "Here is the chart" {
		t.Errorf("Answer() = %q, want text only", got)
	}
}

func TestFramesAfterCompletionDropped(t *testing.T) {
	f := &recordingFactory{}
	a := New(f, nil, nil)

	a.HandleFrame(data("done"))
	a.HandleMarker(frame.MarkerMessageComplete)
	a.HandleFrame(data("straggler"))
	a.HandleMarker(frame.MarkerResponse)

	if got := a.Answer(); got != "done" {
		t.Errorf("Answer() = %q, stragglers leaked in", got)
	}
}
