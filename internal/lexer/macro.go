package lexer

import (
	"regexp"
	"strings"

	"github.com/robert-at-pretension-io/opspec/internal/diag"
)

var reMacroName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Call is a parsed macro invocation. Args excludes the macro name.
type Call struct {
	Name string
	Args []string
	// Line is the 1-based line the invocation starts on.
	Line int
}

// Arg returns argument i or "" when the call has fewer arguments.
func (c *Call) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// FindCall looks for name immediately followed by '(' in code, which sits on
// 1-based line. Lines after it are read when the invocation spans lines.
// A missing invocation returns (nil, nil). Hitting end of file before the
// closing parenthesis is fatal.
func (s *Source) FindCall(code string, line int, name string) (*Call, error) {
	off := 0
	for {
		hit := strings.Index(code[off:], name)
		if hit < 0 {
			return nil, nil
		}
		hit += off
		off = hit + len(name)
		if hit > 0 && isIdentByte(code[hit-1]) {
			continue
		}
		after := strings.TrimLeft(code[off:], " \t")
		if !strings.HasPrefix(after, "(") {
			continue
		}
		return s.parseCall(code[hit:], line)
	}
}

// FindFirstCall tries each name in order and returns the first hit.
func (s *Source) FindFirstCall(code string, line int, names ...string) (*Call, error) {
	for _, name := range names {
		call, err := s.FindCall(code, line, name)
		if call != nil || err != nil {
			return call, err
		}
	}
	return nil, nil
}

func (s *Source) parseCall(text string, line int) (*Call, error) {
	open := strings.IndexByte(text, '(')
	name := strings.TrimSpace(text[:open])
	if !reMacroName.MatchString(name) {
		return nil, nil
	}
	call := &Call{Name: name, Line: line}

	next := line // 0-based index of the following line
	depth := 1
	start := open + 1
	var quote byte
	for off := open + 1; depth > 0; off++ {
		for off >= len(text) {
			if next >= len(s.Lines) {
				return nil, diag.Fatalf(s.File, line, "macro invocation %s beyond end of file", name)
			}
			text += "\n" + s.Lines[next]
			next++
		}
		ch := text[off]
		switch {
		case quote != 0:
			if ch == '\\' && off+1 < len(text) {
				off++
			} else if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == ',' || ch == ')':
			if depth == 1 {
				call.Args = append(call.Args, strings.TrimSpace(text[start:off]))
				start = off + 1
			}
			if ch == ')' {
				depth--
			}
		case ch == '(':
			depth++
		}
	}
	return call, nil
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
