// Package parser turns annotated decoder sources into instructions. It
// drives the lexer, dispatches @op* tags, reconciles tags with the decoder
// macros that follow them and reads PFNIEMOP function tables.
package parser

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/opspec/internal/diag"
	"github.com/robert-at-pretension-io/opspec/internal/lexer"
	"github.com/robert-at-pretension-io/opspec/internal/model"
	"github.com/robert-at-pretension-io/opspec/internal/optest"
)

var (
	reMnemonic = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reStats    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reFunction = regexp.MustCompile(`^iemOp_[A-Za-z_][A-Za-z0-9_]*$`)
	reGroup    = regexp.MustCompile(`^og_[a-z0-9]+(|_[a-z0-9]+|_[a-z0-9]+_[a-z0-9]+)$`)
	reDisEnum  = regexp.MustCompile(`^OP_[A-Z0-9_]+$`)
	reFunTable = regexp.MustCompile(`^(IEM_STATIC|static) +const +PFNIEMOP +g_apfn[A-Za-z0-9_]+ *\[ *\d* *\] *= *$`)
)

// Stats summarizes one parsed file.
type Stats struct {
	Instructions int
	Stubs        int
	Tagged       int
}

// Parser parses one source file into a shared Context.
type Parser struct {
	Ctx   *model.Context
	Src   *lexer.Source
	Diags *diag.List
	Log   logrus.FieldLogger

	b     *model.Builder
	scan  *lexer.Scanner
	tests *optest.Compiler

	// 1-based line of the event being handled and of the current comment.
	line        int
	commentLine int
}

// New returns a parser for src. Instructions without @opmaps go to
// defaultMap.
func New(ctx *model.Context, src *lexer.Source, defaultMap *model.Map, diags *diag.List) *Parser {
	return &Parser{
		Ctx:   ctx,
		Src:   src,
		Diags: diags,
		Log:   logrus.StandardLogger(),
		b:     model.NewBuilder(ctx, src.File, defaultMap, diags),
		scan:  lexer.NewScanner(src),
		tests: optest.New(ctx.Catalog),
	}
}

// Parse runs the file to completion. Recoverable problems go to Diags; the
// returned error is non-nil only for fatal lexing failures.
func (p *Parser) Parse() error {
	skipBrace := false
	for {
		ev, ok := p.scan.Next()
		if !ok {
			break
		}
		p.line = ev.Line
		switch ev.Kind {
		case lexer.EventError:
			p.errorf("%s", ev.Text)
		case lexer.EventComment:
			p.parseComment(ev.Text, ev.Line)
		case lexer.EventCloseBrace:
			if !skipBrace {
				p.b.Done(ev.Line)
			}
		case lexer.EventCode:
			skipBrace = false
			var err error
			switch {
			case !ev.Whole:
				err = p.checkMacros(ev.Text)
			case strings.Contains(ev.Text, "IEMOP_"):
				skipBrace = true
				err = p.checkMacros(ev.Text)
			case strings.Contains(ev.Text, "PFNIEMOP") && reFunTable.MatchString(ev.Text):
				p.parseFunctionTable(ev.Text)
			}
			if err != nil {
				return err
			}
		}
	}
	p.line = len(p.Src.Lines)
	p.b.Done(p.line)

	st := p.Stats()
	pct := 0
	if st.Instructions > 0 {
		pct = st.Stubs * 100 / st.Instructions
	}
	p.Log.WithFields(logrus.Fields{
		"file":         filepath.Base(p.Src.File),
		"stubs":        st.Stubs,
		"instructions": st.Instructions,
		"tagged":       st.Tagged,
	}).Debugf("%d%% stubs", pct)
	return nil
}

// Stats returns the counters accumulated so far.
func (p *Parser) Stats() Stats {
	return Stats{Instructions: p.b.TotalInstr, Stubs: p.b.TotalStubs, Tagged: p.b.TotalTagged}
}

// errorf reports at the line being handled.
func (p *Parser) errorf(format string, args ...interface{}) {
	p.Diags.Errorf(p.Src.File, p.line, format, args...)
}

// errorComment reports at a line offset within the current comment.
func (p *Parser) errorComment(tagLine int, format string, args ...interface{}) {
	p.Diags.Errorf(p.Src.File, p.commentLine+tagLine, format, args...)
}
