package frame

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse_LineClassification(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Frame
	}{
		{
			name: "event line is trimmed",
			raw:  "event: Running SQL query  ",
			want: []Frame{Event("Running SQL query")},
		},
		{
			name: "data payload keeps whitespace",
			raw:  "data:   indented answer ",
			want: []Frame{Data("  indented answer ")},
		},
		{
			name: "json object",
			raw:  `{"status": "ok", "rows": 3}`,
			want: []Frame{JSON(map[string]interface{}{"status": "ok", "rows": float64(3)})},
		},
		{
			name: "json array",
			raw:  `[1, 2, 3]`,
			want: []Frame{JSON([]interface{}{float64(1), float64(2), float64(3)})},
		},
		{
			name: "malformed json degrades to raw",
			raw:  `{"status": "ok"`,
			want: []Frame{Raw(`{"status": "ok"`)},
		},
		{
			name: "bare number stays raw",
			raw:  "42",
			want: []Frame{Raw("42")},
		},
		{
			name: "unknown line is raw",
			raw:  "some free-form progress text",
			want: []Frame{Raw("some free-form progress text")},
		},
		{
			name: "blank lines dropped",
			raw:  "data: a\n\n\ndata: b",
			want: []Frame{Data("a"), Data("b")},
		},
		{
			name: "keep-alive comment dropped",
			raw:  ": keep-alive\ndata: still here",
			want: []Frame{Data("still here")},
		},
		{
			name: "empty status not reported",
			raw:  "event:  \ndata: x",
			want: []Frame{Data("x")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, terminal := Parse(tt.raw, false)
			if terminal {
				t.Fatalf("Parse(%q) unexpectedly terminal", tt.raw)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestParse_Terminal(t *testing.T) {
	frames, terminal := Parse("data: final chunk\nevent: end\ndata: never delivered", false)
	if !terminal {
		t.Fatalf("expected terminal parse")
	}
	want := []Frame{Data("final chunk")}
	if diff := cmp.Diff(want, frames); diff != "" {
		t.Errorf("frames before terminal (-want +got):\n%s", diff)
	}
}

func TestParse_TerminalMatchesRawLineOnly(t *testing.T) {
	// "end" must begin the raw status; status text that merely contains
	// "end" further in is ordinary.
	frames, terminal := Parse("event: sending results", false)
	if terminal {
		t.Fatalf("status containing 'end' mid-line must not be terminal")
	}
	if len(frames) != 1 || frames[0] != Event("sending results") {
		t.Fatalf("unexpected frames: %v", frames)
	}

	if _, terminal := Parse("event: end", false); !terminal {
		t.Fatalf("bare 'event: end' must be terminal")
	}
}

func TestParse_PreserveDataLineBreaks(t *testing.T) {
	raw := "data: line one\nline two\n\nline four"

	// Preserve mode: one frame, embedded newlines intact.
	frames, terminal := Parse(raw, true)
	if terminal {
		t.Fatalf("unexpected terminal")
	}
	want := []Frame{Data("line one\nline two\n\nline four")}
	if diff := cmp.Diff(want, frames); diff != "" {
		t.Errorf("preserve mode (-want +got):\n%s", diff)
	}

	// Without preserve the same message splits per line.
	frames, _ = Parse(raw, false)
	want = []Frame{Data("line one"), Raw("line two"), Raw("line four")}
	if diff := cmp.Diff(want, frames); diff != "" {
		t.Errorf("split mode (-want +got):\n%s", diff)
	}
}

func TestParse_PreserveOnlyAppliesToDataPrefix(t *testing.T) {
	// Preserve mode only short-circuits for data-prefixed messages.
	frames, terminal := Parse("event: Working\ndata: x", true)
	if terminal {
		t.Fatalf("unexpected terminal")
	}
	want := []Frame{Event("Working"), Data("x")}
	if diff := cmp.Diff(want, frames); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestIsBoundaryMarker(t *testing.T) {
	for _, marker := range []string{MarkerResponse, MarkerEvaluation, MarkerMessageComplete} {
		if !IsBoundaryMarker(marker) {
			t.Errorf("IsBoundaryMarker(%q) = false, want true", marker)
		}
	}
	for _, status := range []string{"end", "Working", "response", ""} {
		if IsBoundaryMarker(status) {
			t.Errorf("IsBoundaryMarker(%q) = true, want false", status)
		}
	}
}

func TestSplitSegments(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []Segment
	}{
		{
			name:    "plain text",
			payload: "Hello world",
			want:    []Segment{{Kind: SegmentText, Text: "Hello world"}},
		},
		{
			name:    "text plus plot",
			payload: "Hello$%$%Plot:QUFB",
			want: []Segment{
				{Kind: SegmentText, Text: "Hello"},
				{Kind: SegmentImage, Text: "QUFB"},
			},
		},
		{
			name:    "plot only",
			payload: "Plot: iVBORw0KGgo= ",
			want:    []Segment{{Kind: SegmentImage, Text: "iVBORw0KGgo="}},
		},
		{
			name:    "empty pieces dropped",
			payload: "$%$%Hello$%$%",
			want:    []Segment{{Kind: SegmentText, Text: "Hello"}},
		},
		{
			name:    "empty plot dropped",
			payload: "before$%$%Plot:",
			want:    []Segment{{Kind: SegmentText, Text: "before"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSegments(tt.payload)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("SplitSegments(%q) mismatch (-want +got):\n%s", tt.payload, diff)
			}
		})
	}
}

func TestSegment_DataURI(t *testing.T) {
	img := Segment{Kind: SegmentImage, Text: "QUFB"}
	if got, want := img.DataURI(), "data:image/png;base64,QUFB"; got != want {
		t.Errorf("DataURI() = %q, want %q", got, want)
	}
	txt := Segment{Kind: SegmentText, Text: "hi"}
	if got := txt.DataURI(); got != "" {
		t.Errorf("DataURI() on text segment = %q, want empty", got)
	}
}
