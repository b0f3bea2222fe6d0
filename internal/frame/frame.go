// Package frame translates raw wire-protocol messages from the agent
// backend into typed frames.
//
// The protocol is line-oriented. Each line is one of:
//   - "event: <text>"  status/progress text from the agent
//   - "data: <text>"   answer payload (may embed plot images, see segment.go)
//   - a bare JSON object or array
//   - anything else, delivered verbatim as a raw frame
//
// The parser is stateless and never fails: a line it cannot make sense of
// degrades to a Raw frame so the client tolerates backend format drift.
package frame

import (
	"encoding/json"
	"strings"
)

// Kind discriminates the frame variants.
type Kind int

const (
	// KindEvent - status/progress text ("event: " prefix)
	KindEvent Kind = iota
	// KindData - answer payload ("data: " prefix), whitespace preserved
	KindData
	// KindJSON - structured frame (bare JSON object or array)
	KindJSON
	// KindRaw - anything else, original line as payload
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindData:
		return "data"
	case KindJSON:
		return "json"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Frame is one parsed unit of the wire protocol. Frames are immutable
// once constructed; only the parser produces them.
type Frame struct {
	Kind  Kind
	Text  string      // Event status, Data payload, or Raw line
	Value interface{} // decoded JSON for KindJSON, nil otherwise
}

// Event builds a status frame.
func Event(status string) Frame {
	return Frame{Kind: KindEvent, Text: status}
}

// Data builds a payload frame. The payload is kept verbatim: leading and
// trailing whitespace inside an answer chunk can be meaningful.
func Data(payload string) Frame {
	return Frame{Kind: KindData, Text: payload}
}

// JSON builds a structured frame.
func JSON(value interface{}) Frame {
	return Frame{Kind: KindJSON, Value: value}
}

// Raw builds a frame for a line the parser could not classify.
func Raw(line string) Frame {
	return Frame{Kind: KindRaw, Text: line}
}

// Wire prefixes and reserved status values.
const (
	eventPrefix = "event: "
	dataPrefix  = "data: "

	// terminalStatus closes the stream. Matched against the raw line,
	// not the trimmed status, to mirror the backend's framing.
	terminalStatus = "end"

	keepAlivePrefix = ": keep-alive"
)

// Boundary markers: reserved status values that signal the current logical
// block of content is finished and a new one begins. Orthogonal to stream
// termination.
const (
	MarkerResponse        = "Response"
	MarkerEvaluation      = "Evaluation"
	MarkerMessageComplete = "message_complete"
)

// IsBoundaryMarker reports whether a trimmed event status is one of the
// reserved block-boundary values.
func IsBoundaryMarker(status string) bool {
	switch status {
	case MarkerResponse, MarkerEvaluation, MarkerMessageComplete:
		return true
	}
	return false
}

// IsTerminal reports whether a raw line is the stream's own completion
// signal ("event: end"). The check is on the untrimmed line so that
// ordinary status text that merely mentions "end" is not terminal.
func IsTerminal(line string) bool {
	return strings.HasPrefix(line, eventPrefix+terminalStatus)
}

// Parse translates one raw transport message into frames.
//
// When preserveDataLineBreaks is set and the message begins with the data
// prefix, the entire message is one Data frame: its payload may contain
// newlines that are semantically part of the answer and must not be split.
//
// Otherwise the message is split on newline, blank lines and keep-alive
// comments are dropped, and each remaining line parses independently.
//
// The second return value reports whether a terminal line was seen.
// Parsing stops at the terminal line; frames before it are still returned.
func Parse(raw string, preserveDataLineBreaks bool) ([]Frame, bool) {
	if preserveDataLineBreaks && strings.HasPrefix(raw, dataPrefix) {
		return []Frame{Data(strings.TrimPrefix(raw, dataPrefix))}, false
	}

	var frames []Frame
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, keepAlivePrefix) {
			continue
		}
		if IsTerminal(line) {
			return frames, true
		}
		if f, ok := parseLine(line); ok {
			frames = append(frames, f)
		}
	}
	return frames, false
}

// parseLine classifies a single non-blank line. The second return value
// is false for lines that produce no frame (an empty status).
func parseLine(line string) (Frame, bool) {
	if strings.HasPrefix(line, eventPrefix) {
		status := strings.TrimSpace(strings.TrimPrefix(line, eventPrefix))
		if status == "" {
			return Frame{}, false
		}
		return Event(status), true
	}
	if strings.HasPrefix(line, dataPrefix) {
		// Payload is everything after the prefix, NOT trimmed.
		return Data(strings.TrimPrefix(line, dataPrefix)), true
	}
	if value, ok := tryJSON(line); ok {
		return JSON(value), true
	}
	return Raw(line), true
}

// tryJSON attempts a structured parse. Only objects and arrays qualify;
// a line that merely starts with a digit or quote stays raw.
func tryJSON(line string) (interface{}, bool) {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return nil, false
	}
	var value interface{}
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return nil, false
	}
	return value, true
}
