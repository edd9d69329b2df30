// Package sse incrementally parses server-sent-event framing from a byte
// stream that may be split at arbitrary boundaries. The upstreams use two
// dialects: plain "data: {json}" records, and named "event:<name>" records
// whose payload arrives on the following "data:{json}" line. Both reduce to
// the same Event type here.
package sse

import (
	"bytes"
	"strings"
)

// Event is one complete logical upstream record.
type Event struct {
	// Name is the value of the preceding "event:" line, or "" for bare
	// data records.
	Name string
	// Data is the raw payload after the "data:" prefix.
	Data string
}

// Scanner reassembles events from network chunks. Feed bytes with Write;
// each call returns the events completed by that chunk. A trailing partial
// line is buffered until the next write, so splitting the input anywhere,
// including mid-line, yields the same event sequence.
type Scanner struct {
	partial bytes.Buffer
	// pendingName holds an "event:" name waiting for its data line. A data
	// line is only actionable once seen, so the scanner carries the name
	// across writes instead of processing line-by-line blindly.
	pendingName string
}

func NewScanner() *Scanner {
	return &Scanner{}
}

// Write consumes one network chunk and returns completed events in order.
func (s *Scanner) Write(p []byte) []Event {
	var events []Event

	for {
		idx := bytes.IndexByte(p, '\n')
		if idx < 0 {
			s.partial.Write(p)
			return events
		}

		s.partial.Write(p[:idx])
		line := s.partial.String()
		s.partial.Reset()
		p = p[idx+1:]

		if ev, ok := s.consumeLine(line); ok {
			events = append(events, ev)
		}
	}
}

// Flush drains a trailing line left unterminated at the end of the body.
// Upstreams occasionally omit the final newline; without a flush that last
// record would be lost. Callers invoke it once, at EOF.
func (s *Scanner) Flush() (Event, bool) {
	if s.partial.Len() == 0 {
		return Event{}, false
	}
	line := s.partial.String()
	s.partial.Reset()
	return s.consumeLine(line)
}

func (s *Scanner) consumeLine(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")
	line = strings.TrimSpace(line)

	switch {
	case line == "":
		// Blank lines separate records; a pending event name survives
		// them until its data line arrives.
		return Event{}, false
	case strings.HasPrefix(line, "event:"):
		s.pendingName = strings.TrimSpace(line[len("event:"):])
		return Event{}, false
	case strings.HasPrefix(line, "data:"):
		data := strings.TrimPrefix(line[len("data:"):], " ")
		ev := Event{Name: s.pendingName, Data: data}
		s.pendingName = ""
		if data == "" {
			return Event{}, false
		}
		return ev, true
	default:
		// Comments and unknown fields are ignored.
		return Event{}, false
	}
}
