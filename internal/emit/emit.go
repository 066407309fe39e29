// Package emit renders disassembler opcode tables from a parsed model.
package emit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/opspec/internal/catalog"
	"github.com/robert-at-pretension-io/opspec/internal/model"
	"github.com/robert-at-pretension-io/opspec/internal/opindex"
)

// maxOperands is the widest operand list a table record can describe.
const maxOperands = 4

// columns are the starting offsets of the record fields after the
// mnemonic string.
var columns = []int{4, 29, 49, 65, 77, 89, 109, 125, 141, 157, 183, 199}

// Options selects what gets emitted.
type Options struct {
	// Maps names the maps to emit. Empty means every map.
	Maps []string
	// SplitPrefixes turns each byte+pfx map into four byte maps, one per
	// mandatory prefix.
	SplitPrefixes bool
	Log           logrus.FieldLogger
}

// Table summarizes one emitted table.
type Table struct {
	Map   string `json:"map"`
	Name  string `json:"name"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Short bool   `json:"short"`
}

// Output is the result of a run.
type Output struct {
	Body   string   `json:"body"`
	Header []string `json:"header"`
	Tables []Table  `json:"tables"`
}

// Tables renders every selected map. Instructions that cannot be placed in
// their map come back as errors; the remaining output is still produced.
func Tables(ctx *model.Context, opts Options) (*Output, []error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	maps, err := SelectMaps(ctx, opts)
	if err != nil {
		return nil, []error{err}
	}
	log.WithField("maps", strings.Join(lo.Map(maps, func(m *model.Map, _ int) string { return m.Name }), ", ")).
		Debug("emitting disassembler tables")

	out := &Output{}
	var body strings.Builder
	var errs []error
	for _, m := range maps {
		lines, t, terrs := renderMap(ctx.Catalog, m)
		errs = append(errs, terrs...)
		if !t.Short {
			out.Header = append(out.Header, fmt.Sprintf("extern const DISOPCODE %s[%d];", t.Name, t.End-t.Start))
		}
		out.Header = append(out.Header, fmt.Sprintf("extern const DISOPMAPDESC %s;", m.DisasRangeName()))
		out.Tables = append(out.Tables, t)
		body.WriteString(strings.Join(lines, "\n"))
		body.WriteString("\n\n")
	}
	out.Body = body.String()
	return out, errs
}

// SelectMaps returns the maps to emit, ordered by encoding and lead bytes.
// Unknown names are an error.
func SelectMaps(ctx *model.Context, opts Options) ([]*model.Map, error) {
	maps := append([]*model.Map(nil), ctx.Maps...)
	if len(opts.Maps) > 0 {
		maps = maps[:0]
		for _, name := range opts.Maps {
			m, ok := ctx.Map(name)
			if !ok {
				if s := catalog.Suggest(name, ctx.MapNames(), 2); s != "" {
					return nil, fmt.Errorf("unknown map %q (did you mean %q?)", name, s)
				}
				return nil, fmt.Errorf("unknown map %q", name)
			}
			maps = append(maps, m)
		}
	}
	sort.SliceStable(maps, func(i, j int) bool { return sortKey(maps[i]) < sortKey(maps[j]) })

	if !opts.SplitPrefixes {
		return maps, nil
	}
	var out []*model.Map
	for _, m := range maps {
		if m.Selector != "byte+pfx" {
			out = append(out, m)
			continue
		}
		out = append(out,
			m.Copy(m.Name, "none"),
			m.Copy(m.Name+"_66", "0x66"),
			m.Copy(m.Name+"_F3", "0xf3"),
			m.Copy(m.Name+"_F2", "0xf2"),
		)
	}
	return out, nil
}

func sortKey(m *model.Map) string { return m.Encoding + strings.Join(m.Lead, "") }

func renderMap(cat *catalog.Catalog, m *model.Map) ([]string, Table, []error) {
	order, errs := opindex.TableOrder(m, cat.PrefixOrder)
	start, end, short := opindex.Bounds(order)
	perByte := m.EntriesPerByte()
	row := 0x10 * perByte
	name := m.DisasTableName()
	t := Table{Map: m.Name, Name: name, Start: start, End: end, Short: short}

	lines := []string{fmt.Sprintf("/* Generated from: %-11s  Selector: %-7s  Encoding: %-7s  Lead bytes opcodes: %s */",
		m.Name, m.Selector, m.Encoding, strings.Join(m.Lead, " "))}
	if short {
		lines = append(lines, fmt.Sprintf("static const DISOPCODE %s[] =", name))
	} else {
		lines = append(lines, fmt.Sprintf("const DISOPCODE %s[%d] =", name, end-start))
	}
	lines = append(lines, "{")
	if short && start&(row-1) != 0 {
		lines = append(lines, fmt.Sprintf("    /* 0x%02x: */", start))
	}

	for i := start; i < end; i++ {
		if i&(row-1) == 0 {
			if i != start {
				lines = append(lines, "")
			}
			lines = append(lines, fmt.Sprintf("    /* %x */", (i/perByte)>>4))
		}

		slot := order[i]
		switch {
		case slot.Empty():
			run := 1
			for i+run < len(order) && order[i+run].Empty() {
				run++
			}
			switch {
			case i&(row-1) == 0 && run >= row:
				lines = append(lines, fmt.Sprintf("    INVALID_OPCODE_BLOCK_%d,", row))
				i += row - 1
			case perByte > 1 && i&(perByte-1) == 0 && run >= perByte:
				lines = append(lines, fmt.Sprintf("    INVALID_OPCODE_BLOCK_%d,", perByte))
				i += perByte - 1
			case perByte > 1:
				lines = append(lines, fmt.Sprintf("    /* 0x%02x/%d */ INVALID_OPCODE,", i/perByte, i%perByte))
			default:
				lines = append(lines, fmt.Sprintf("    /* 0x%02x */ INVALID_OPCODE,", i))
			}
		case slot.Collision():
			descs := lo.Map(slot, func(in *model.Instruction, _ int) string { return in.String() })
			lines = append(lines, fmt.Sprintf("    /* 0x%02x */ ComplicatedListStuffNeedingWrapper, /* \n -- %s */",
				i, strings.Join(descs, "\n -- ")))
		default:
			entry, err := FormatEntry(cat, slot[0])
			if err != nil {
				errs = append(errs, err)
			}
			lines = append(lines, entry)
		}
	}
	if start >= end {
		lines = append(lines, "    /* dummy */ INVALID_OPCODE")
	}

	lines = append(lines,
		"};",
		fmt.Sprintf("AssertCompile(RT_ELEMENTS(%s) == %d);", name, end-start),
		fmt.Sprintf("const DISOPMAPDESC %s = { &%s[0], 0x%02x, RT_ELEMENTS(%s) };", m.DisasRangeName(), name, start, name),
	)
	return lines, t, errs
}
