// Package syntax runs a tree-sitter C++ parse over annotated sources to
// find comment blocks and obvious syntax damage before the tag parser runs.
// Its findings are advisory.
package syntax

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"
)

// Probe parses files with the C++ grammar. A Probe without a language uses
// the regex fallback.
type Probe struct {
	lang *sitter.Language
}

// Result summarizes one file.
type Result struct {
	File     string
	Comments int
	// Tagged counts comments containing at least one @op tag.
	Tagged   int
	Errors   []Issue
	Fallback bool
}

// Issue is an ERROR or MISSING node reported by the grammar.
type Issue struct {
	Line int
	Kind string
	Text string
}

func (i Issue) String() string {
	if i.Text == "" {
		return fmt.Sprintf("line %d: %s", i.Line, i.Kind)
	}
	return fmt.Sprintf("line %d: %s near %q", i.Line, i.Kind, i.Text)
}

// New returns a probe using the C++ grammar.
func New() *Probe {
	return &Probe{lang: cpp.GetLanguage()}
}

// NewFallback returns a probe that only counts comments with regexes.
func NewFallback() *Probe {
	return &Probe{}
}

// Run parses content. Tree-sitter parsers are not safe for concurrent use,
// so each call gets its own. A failed parse drops to the regex fallback.
func (p *Probe) Run(ctx context.Context, file string, content []byte) (Result, error) {
	if p.lang == nil {
		return scanSimple(file, content), nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(p.lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		if ctx.Err() != nil {
			return Result{File: file}, ctx.Err()
		}
		return scanSimple(file, content), nil
	}
	defer tree.Close()

	res := Result{File: file}
	walkTree(tree.RootNode(), content, &res)
	return res, nil
}

func walkTree(node *sitter.Node, source []byte, res *Result) {
	if node == nil {
		return
	}

	switch {
	case node.Type() == "comment":
		res.Comments++
		if strings.Contains(node.Content(source), "@op") {
			res.Tagged++
		}
		return
	case node.IsMissing():
		res.Errors = append(res.Errors, Issue{Line: line(node), Kind: "missing " + node.Type()})
		return
	case node.IsError():
		res.Errors = append(res.Errors, Issue{Line: line(node), Kind: "syntax error", Text: snippet(node.Content(source))})
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		walkTree(node.Child(i), source, res)
	}
}

func line(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
