package model

import (
	"errors"
	"strings"

	"github.com/robert-at-pretension-io/opspec/internal/diag"
)

// ErrFinalized is returned when an instruction is finalized twice.
var ErrFinalized = errors.New("instruction already finalized")

// Builder tracks the instructions under construction while one file is
// parsed. EnsureCurrent is the only way to materialize the working set.
type Builder struct {
	Ctx        *Context
	File       string
	DefaultMap *Map
	Diags      *diag.List

	current []*Instruction

	TotalInstr  int
	TotalStubs  int
	TotalTagged int
}

// NewBuilder returns a builder for file whose instructions default to
// defaultMap.
func NewBuilder(ctx *Context, file string, defaultMap *Map, diags *diag.List) *Builder {
	return &Builder{Ctx: ctx, File: file, DefaultMap: defaultMap, Diags: diags}
}

// Current returns the instructions under construction.
func (b *Builder) Current() []*Instruction { return b.current }

// Add starts a new instruction on line and adds it to the working set.
func (b *Builder) Add(line int) *Instruction {
	in := b.Ctx.NewInstruction(b.File, line)
	b.current = append(b.current, in)
	return in
}

// EnsureCurrent returns the most recent instruction under construction,
// creating one on line when the working set is empty.
func (b *Builder) EnsureCurrent(line int) *Instruction {
	if len(b.current) == 0 {
		return b.Add(line)
	}
	return b.current[len(b.current)-1]
}

// CountTag records one dispatched tag on every current instruction,
// creating one if needed, and returns the most recent.
func (b *Builder) CountTag(line int) *Instruction {
	in := b.EnsureCurrent(line)
	for _, cur := range b.current {
		cur.OpTags++
		if cur.OpTags == 1 {
			b.TotalTagged++
		}
	}
	return in
}

// Done finalizes every instruction under construction and clears the
// working set.
func (b *Builder) Done(line int) {
	for _, in := range b.current {
		if err := b.Finalize(in, line); err != nil {
			b.Diags.Errorf(b.File, line, "%s: %v", in, err)
			continue
		}
		if in.Stub {
			b.TotalStubs++
		}
	}
	b.TotalInstr += len(b.current)
	b.current = nil
}

// Finalize fills in defaults for in, adds it to its maps and commits it to
// the stat and function indexes. Duplicate stats names are reported and
// the first instruction keeps the key.
func (b *Builder) Finalize(in *Instruction, line int) error {
	if in.finalized {
		return ErrFinalized
	}
	in.finalized = true
	in.LineCompleted = line
	ctx := b.Ctx

	for n, op := range in.Operands {
		if op.IsZero() {
			b.Diags.Errorf(in.File, in.LineCreated, "operand %d of %s was never specified", n+1, in)
		}
	}

	// (a) mnemonic and operands from the stats or function name.
	if in.Mnemonic == "" {
		if in.Stats != "" {
			ctx.DeriveFromStats(in, in.Stats)
		} else if in.Function != "" {
			ctx.DeriveFromStats(in, strings.TrimPrefix(in.Function, "iemOp_"))
		}
	}

	// (b) disassembler enum.
	if in.DisEnum == "" && in.Mnemonic != "" {
		in.DisEnum = "OP_" + strings.ToUpper(in.Mnemonic)
	}

	// (c) stats name.
	if in.Stats == "" {
		if in.Function != "" {
			in.Stats = strings.TrimPrefix(in.Function, "iemOp_")
		} else if in.Mnemonic != "" {
			in.Stats = in.Mnemonic + operandSuffix(in.Operands)
		}
	}

	// (d) function name.
	if in.Function == "" {
		if in.Mnemonic != "" {
			in.Function = "iemOp_" + in.Mnemonic + operandSuffix(in.Operands)
		} else if in.Stats != "" {
			in.Function = "iemOp_" + in.Stats
		}
	}

	// (e), (f) maps.
	if len(in.Maps) == 0 && b.DefaultMap != nil {
		in.Maps = []*Map{b.DefaultMap}
	}
	for _, m := range in.Maps {
		m.Instructions = append(m.Instructions, in)
	}

	// (g) encoding.
	if in.Encoding == "" {
		in.Encoding = deriveEncoding(in)
	}

	if in.Stats != "" {
		if prev, dup := ctx.ByStat[in.Stats]; dup {
			b.Diags.Errorf(in.File, line, "duplicate opstat value %q (first defined at %s)", in.Stats, prev.Where())
		} else {
			ctx.ByStat[in.Stats] = in
		}
	}
	if in.Function != "" {
		ctx.ByFunction[in.Function] = append(ctx.ByFunction[in.Function], in)
	}
	return nil
}

func operandSuffix(ops []Operand) string {
	var b strings.Builder
	for _, op := range ops {
		if op.Type != "" {
			b.WriteString("_" + op.Type)
		}
	}
	return b.String()
}

func deriveEncoding(in *Instruction) string {
	vexOnly := in.OnlyInVexMaps()
	if len(in.Operands) == 0 {
		switch {
		case in.Unused && in.SubOpcode != "" && vexOnly:
			return "VEX.ModR/M"
		case in.Unused && in.SubOpcode != "":
			return "ModR/M"
		case vexOnly:
			return "VEX.fixed"
		default:
			return "fixed"
		}
	}
	if !in.Operands[0].UsesModRM() {
		return ""
	}
	if vexOnly || len(in.Operands) >= 2 && in.Operands[1].Where == "vvvv" {
		return "VEX.ModR/M"
	}
	return "ModR/M"
}
