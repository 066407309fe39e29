package model

import (
	"io"

	"github.com/davecgh/go-spew/spew"
	"github.com/samber/lo"
)

// InstructionView is a flat, pointer-free projection of an instruction for
// debugging output.
type InstructionView struct {
	Where    string
	Summary  string
	Brief    string
	Operands []Operand
	Maps     []string
	Flags    FlagMasks
	Tests    []string
	Parent   string
}

// View projects in.
func (c *Context) View(in *Instruction) InstructionView {
	v := InstructionView{
		Where:    in.Where(),
		Summary:  in.String(),
		Brief:    in.Brief,
		Operands: in.Operands,
		Maps:     lo.Map(in.Maps, func(m *Map, _ int) string { return m.Name }),
		Flags:    c.FlagMasks(in),
		Tests:    lo.Map(in.Tests, func(t *Test, _ int) string { return t.String() }),
	}
	if in.Parent != nil {
		v.Parent = in.Parent.Where()
	}
	return v
}

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// DumpInstruction writes a spew rendering of in.
func (c *Context) DumpInstruction(w io.Writer, in *Instruction) {
	dumpConfig.Fdump(w, c.View(in))
}

// Dump renders every instruction in creation order.
func (c *Context) Dump(w io.Writer) {
	for _, in := range c.Instructions {
		c.DumpInstruction(w, in)
	}
}
