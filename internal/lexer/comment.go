// Package lexer splits annotated source into code fragments and comment
// blocks, and extracts macro invocations from code.
package lexer

import (
	"regexp"
	"strings"
)

// Source is one input file split into lines without terminators.
type Source struct {
	File  string
	Lines []string
}

// NewSource splits data into lines. A trailing newline does not produce an
// empty last line and carriage returns are dropped.
func NewSource(file string, data []byte) *Source {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}
	return &Source{File: file, Lines: lines}
}

// EventKind classifies what the scanner found.
type EventKind int

const (
	// EventCode is a code fragment outside any comment. Whole is set when
	// the fragment is an entire source line.
	EventCode EventKind = iota + 1
	// EventComment is a complete block comment.
	EventComment
	// EventCloseBrace is a line starting with '}' in code state.
	EventCloseBrace
	// EventError reports a comment marker the scanner cannot resolve.
	EventError
)

// Event is one scanner result. Line is 1-based; for comments it is the
// line the block started on.
type Event struct {
	Kind  EventKind
	Text  string
	Line  int
	Whole bool
}

type state int

const (
	stateCode state = iota
	stateComment
)

// Scanner walks a Source line by line, tracking whether it is inside a
// block comment.
type Scanner struct {
	src         *Source
	next        int
	state       state
	comment     strings.Builder
	commentLine int
	queue       []Event
}

// NewScanner returns a scanner positioned at the first line.
func NewScanner(src *Source) *Scanner {
	return &Scanner{src: src}
}

// NextLine returns the 0-based index of the first unconsumed line.
func (s *Scanner) NextLine() int { return s.next }

// Skip marks lines up to (not including) index next as consumed. Callers
// that read ahead, such as the function table parser, use it to resume
// scanning after what they handled.
func (s *Scanner) Skip(next int) {
	if next > s.next {
		s.next = min(next, len(s.src.Lines))
	}
}

// Next returns the next event. It returns false once the source is
// exhausted; an unterminated trailing comment is reported first.
func (s *Scanner) Next() (Event, bool) {
	for len(s.queue) == 0 {
		if s.next >= len(s.src.Lines) {
			if s.state == stateComment {
				s.state = stateCode
				return Event{Kind: EventError, Line: s.commentLine, Text: "unterminated block comment at end of file"}, true
			}
			return Event{}, false
		}
		line := s.src.Lines[s.next]
		s.next++
		s.scanLine(line)
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *Scanner) emit(ev Event) { s.queue = append(s.queue, ev) }

func (s *Scanner) scanLine(line string) {
	lineNo := s.next
	slash := strings.IndexByte(line, '/')
	switch {
	case slash >= 0 && (slash+1 >= len(line) || line[slash+1] != '/' || s.state != stateCode):
		s.scanMarkers(line, lineNo)
	case slash >= 0:
		if slash > 0 {
			s.emit(Event{Kind: EventCode, Text: line[:slash], Line: lineNo})
		}
	case s.state == stateComment:
		s.comment.WriteString(line)
		s.comment.WriteByte('\n')
	default:
		s.emit(Event{Kind: EventCode, Text: line, Line: lineNo, Whole: true})
		if strings.HasPrefix(line, "}") {
			s.emit(Event{Kind: EventCloseBrace, Line: lineNo})
		}
	}
}

func (s *Scanner) scanMarkers(line string, lineNo int) {
	off := 0
	for off < len(line) {
		rest := line[off:]
		if s.state == stateCode {
			hit := strings.Index(rest, "/*")
			if hit < 0 {
				s.emit(Event{Kind: EventCode, Text: rest, Line: lineNo})
				return
			}
			if hit > 0 {
				s.emit(Event{Kind: EventCode, Text: rest[:hit], Line: lineNo})
			}
			s.comment.Reset()
			s.commentLine = lineNo
			s.state = stateComment
			off += hit + 2
			continue
		}

		end := strings.Index(rest, "*/")
		if open := strings.Index(rest, "/*"); open >= 0 && (end < 0 || open < end) {
			s.emit(Event{Kind: EventError, Line: lineNo, Text: "nested block comment start inside comment"})
		}
		if end < 0 {
			s.comment.WriteString(rest)
			s.comment.WriteByte('\n')
			return
		}
		s.comment.WriteString(rest[:end])
		s.state = stateCode
		s.emit(Event{Kind: EventComment, Text: s.comment.String(), Line: s.commentLine})
		off += end + 2
	}
}

var reFullComment = regexp.MustCompile(`//.*?$|/\*.*?\*/`)

// StripComments replaces complete comments on a single line with a space.
// It reports false when a dangling block comment marker remains.
func StripComments(line string) (string, bool) {
	line = reFullComment.ReplaceAllString(line, " ")
	ok := !strings.Contains(line, "/*") && !strings.Contains(line, "*/")
	return line, ok
}
