package frame

import "strings"

// A data payload may interleave prose with base64-encoded plot images.
// Segments are separated by "$%$%"; an image segment carries a "Plot:"
// prefix followed by the base64 payload:
//
//	data: Here is the trend$%$%Plot:iVBORw0KGgo...
const (
	segmentDelimiter = "$%$%"
	plotPrefix       = "Plot:"
	pngDataURIPrefix = "data:image/png;base64,"
)

// SegmentKind discriminates text from image segments.
type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentImage
)

// Segment is one piece of a decomposed data payload.
type Segment struct {
	Kind SegmentKind
	Text string // prose for SegmentText, base64 payload for SegmentImage
}

// DataURI renders an image segment as a PNG data URI suitable for an
// <img> source or terminal inline-image escape. Empty for text segments.
func (s Segment) DataURI() string {
	if s.Kind != SegmentImage {
		return ""
	}
	return pngDataURIPrefix + s.Text
}

// SplitSegments decomposes a data payload into ordered text and image
// segments. Payloads without the delimiter come back as a single text
// segment; empty pieces are dropped.
func SplitSegments(payload string) []Segment {
	var segments []Segment
	for _, part := range strings.Split(payload, segmentDelimiter) {
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, plotPrefix) {
			data := strings.TrimSpace(strings.TrimPrefix(part, plotPrefix))
			if data == "" {
				continue
			}
			segments = append(segments, Segment{Kind: SegmentImage, Text: data})
			continue
		}
		segments = append(segments, Segment{Kind: SegmentText, Text: part})
	}
	return segments
}
