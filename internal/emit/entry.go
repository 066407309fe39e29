package emit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/robert-at-pretension-io/opspec/internal/catalog"
	"github.com/robert-at-pretension-io/opspec/internal/model"
)

// EntryError reports an instruction that cannot be turned into a table
// record. The record is still rendered with placeholders.
type EntryError struct {
	Instr *model.Instruction
	Msg   string
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Instr.Where(), e.Msg, e.Instr)
}

// FormatEntry renders one DISOPCODE record.
func FormatEntry(cat *catalog.Catalog, in *model.Instruction) (string, error) {
	var problems []string
	macro, width := "OP", 3
	if len(in.Operands) > 3 {
		macro, width = "OPVEX", maxOperands
	}
	if len(in.Operands) > maxOperands {
		problems = append(problems, fmt.Sprintf("%d operands, at most %d fit a record", len(in.Operands), maxOperands))
	}

	var asm strings.Builder
	asm.WriteString(macro + `("` + in.Mnemonic)
	for i, op := range in.Operands {
		if i == 0 {
			asm.WriteByte(' ')
		} else {
			asm.WriteByte(',')
		}
		f := cat.OpTypes[op.Type].DisFmt
		if !strings.HasPrefix(f, "%") {
			f = strings.ToUpper(f)
		}
		asm.WriteString(f)
	}
	asm.WriteString(`",`)
	cols := []string{asm.String()}

	// The encoding consumes the leading operand parsers.
	lead := len(cols)
	switch in.Encoding {
	case "ModR/M", "VEX.ModR/M":
		if len(in.Operands) == 0 || !in.Operands[0].UsesModRM() {
			problems = append(problems, "ModR/M encoding without a ModR/M first operand")
		}
		cols = append(cols, "IDX_ParseModRM,")
	case "prefix":
		for range in.Operands {
			cols = append(cols, "0,")
		}
	case "fixed", "VEX.fixed", "":
	case "vex2":
		cols = append(cols, "IDX_ParseVex2b,")
	case "vex3":
		cols = append(cols, "IDX_ParseVex3b,")
	default:
		if def, ok := mapDef(cat, in.Encoding); ok && def.DisParse != "" {
			cols = append(cols, def.DisParse+",")
		} else {
			problems = append(problems, fmt.Sprintf("no parser for encoding %q", in.Encoding))
		}
	}
	for i := len(cols) - lead; i < len(in.Operands); i++ {
		cols = append(cols, cat.OpTypes[in.Operands[i].Type].Parser+",")
	}
	for len(cols)-lead < width {
		cols = append(cols, "0,")
	}

	if in.DisEnum == "" {
		problems = append(problems, "no disassembler enum")
	}
	cols = append(cols, in.DisEnum+",")

	for i := 0; i < width || i < len(in.Operands); i++ {
		if i < len(in.Operands) {
			cols = append(cols, "OP_PARM_"+cat.OpTypes[in.Operands[i].Type].Param+",")
		} else {
			cols = append(cols, "OP_PARM_NONE,")
		}
	}

	hints := append([]string(nil), in.Hints...)
	sort.Strings(hints)
	var flags []string
	for _, h := range hints {
		if d := cat.Hints[h]; strings.HasPrefix(d, "DISOPTYPE_") {
			flags = append(flags, d)
		}
	}
	if len(flags) > 0 {
		cols = append(cols, strings.Join(flags, " | ")+"),")
	} else {
		cols = append(cols, "0),")
	}

	line := layout(cols)
	if len(problems) > 0 {
		return line, &EntryError{Instr: in, Msg: strings.Join(problems, "; ")}
	}
	return line, nil
}

// layout pads each field to its column, or separates it by a single space
// when the previous field overran.
func layout(cols []string) string {
	var b strings.Builder
	for i, c := range cols {
		if i < len(columns) && b.Len() < columns[i] {
			b.WriteString(strings.Repeat(" ", columns[i]-b.Len()))
		} else if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(c)
	}
	return b.String()
}

func mapDef(cat *catalog.Catalog, name string) (catalog.MapDef, bool) {
	for _, d := range cat.Maps {
		if d.Name == name {
			return d, true
		}
	}
	return catalog.MapDef{}, false
}
