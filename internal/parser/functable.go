package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/opspec/internal/lexer"
	"github.com/robert-at-pretension-io/opspec/internal/model"
)

var (
	reTableName  = regexp.MustCompile(` *([a-zA-Z_0-9]+) *\[`)
	reTableShort = regexp.MustCompile(`\[ *(256|32) *\]`)
	reLoneBrace  = regexp.MustCompile(`^ *\{ *$`)
)

var tablePrefixes = []string{"none", "0x66", "0xf3", "0xf2"}

// parseFunctionTable reads a PFNIEMOP table starting after header and
// assigns opcode and prefix to the instructions its entries name. It
// consumes the table's lines from the scanner.
func (p *Parser) parseFunctionTable(header string) {
	name := reTableName.FindStringSubmatch(header)[1]
	m, ok := p.Ctx.MapByIemName(name)
	if !ok {
		p.Log.WithField("table", name).Debug("no map for PFNIEMOP table, using the file default")
		m = p.b.DefaultMap
	}

	perByte, length, prefixes := 4, 1024, tablePrefixes
	if sm := reTableShort.FindStringSubmatch(header); sm != nil {
		perByte, prefixes = 1, []string{""}
		length, _ = strconv.Atoi(sm[1])
	}

	next := p.scan.NextLine()
	lines := p.Src.Lines
	if next >= len(lines) || !reLoneBrace.MatchString(lines[next]) {
		p.Diags.Errorf(p.Src.File, next+1, `Expected lone "{" on line following PFNIEMOP table %s start`, name)
		return
	}
	next++

	entry := 0
	for next < len(lines) {
		code, _ := lexer.StripComments(lines[next])
		next++
		p.line = next
		for _, e := range tableEntries(code) {
			if e == "};" || e == "}" {
				p.scan.Skip(next)
				if entry != length {
					p.errorf("Wrong table length for %s: %#x, expected %#x", name, entry, length)
				}
				return
			}
			if !strings.HasPrefix(e, "iemOp_Invalid") {
				p.bindTableEntry(m, name, e, entry, perByte, prefixes)
			}
			entry++
		}
	}
	p.scan.Skip(next)
	p.errorf("Unexpected end of file in PFNIEMOP table")
}

// tableEntries splits one table line into entries, expanding IEMOP_X4.
func tableEntries(code string) []string {
	var out []string
	for _, e := range strings.Split(strings.TrimSpace(code), ",") {
		e = strings.TrimSpace(e)
		if inner, ok := strings.CutPrefix(e, "IEMOP_X4("); ok && strings.HasSuffix(inner, ")") {
			inner = strings.TrimSpace(strings.TrimSuffix(inner, ")"))
			out = append(out, inner, inner, inner, inner)
			continue
		}
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

func (p *Parser) bindTableEntry(m *model.Map, table, fn string, entry, perByte int, prefixes []string) {
	prefix := prefixes[entry%perByte]
	opcode := fmt.Sprintf("0x%02x", entry/perByte)
	instrs := p.Ctx.ByFunction[fn]
	if len(instrs) == 0 {
		p.Log.WithFields(logrus.Fields{"function": fn, "table": table}).
			Debugf("entry 0x%02x / byte 0x%02x is not associated with an instruction", entry, entry/perByte)
		return
	}
	for _, in := range instrs {
		switch {
		case in.Opcode == opcode && in.Prefix == prefix:
		case in.Opcode == opcode && in.Prefix == "":
			in.Prefix = prefix
		case in.Opcode == "" && in.Prefix == "":
			in.Opcode, in.Prefix = opcode, prefix
		default:
			continue
		}
		return
	}
	p.Ctx.Clone(instrs[0], m, opcode, prefix)
}
