package model

import (
	"strings"

	"github.com/robert-at-pretension-io/opspec/internal/catalog"
)

// Context owns every registry of one compiler run. It is built once and
// threaded through the parser, the post-pass and the emitters.
type Context struct {
	Catalog *catalog.Catalog

	Instructions []*Instruction
	ByStat       map[string]*Instruction
	ByFunction   map[string][]*Instruction
	Maps         []*Map
	OnlyTest     []*Instruction

	mapsByName map[string]*Map
	mapsByIem  map[string]*Map
}

// NewContext creates the registries and the opcode maps from cat.
func NewContext(cat *catalog.Catalog) *Context {
	c := &Context{
		Catalog:    cat,
		ByStat:     make(map[string]*Instruction),
		ByFunction: make(map[string][]*Instruction),
		mapsByName: make(map[string]*Map, len(cat.Maps)),
		mapsByIem:  make(map[string]*Map),
	}
	for _, def := range cat.Maps {
		m := NewMap(def, cat.Selectors)
		c.Maps = append(c.Maps, m)
		c.mapsByName[m.Name] = m
		if m.IemName != "" {
			c.mapsByIem[m.IemName] = m
		}
	}
	return c
}

// Map looks up a map by name.
func (c *Context) Map(name string) (*Map, bool) {
	m, ok := c.mapsByName[name]
	return m, ok
}

// MapByIemName looks up a map by its function table name.
func (c *Context) MapByIemName(name string) (*Map, bool) {
	m, ok := c.mapsByIem[name]
	return m, ok
}

// MapNames returns all map names in catalog order.
func (c *Context) MapNames() []string {
	names := make([]string, len(c.Maps))
	for i, m := range c.Maps {
		names[i] = m.Name
	}
	return names
}

// NewInstruction creates an instruction and records it in the run.
func (c *Context) NewInstruction(file string, line int) *Instruction {
	in := &Instruction{File: file, LineCreated: line}
	c.Instructions = append(c.Instructions, in)
	return in
}

// Clone copies src into map m at the given opcode and prefix and registers
// the copy under src's function name. Function tables use it when one
// decoder function serves several slots.
func (c *Context) Clone(src *Instruction, m *Map, opcode, prefix string) *Instruction {
	cp := src.Copy(m, opcode, "", prefix)
	cp.finalized = true
	c.Instructions = append(c.Instructions, cp)
	c.ByFunction[src.Function] = append(c.ByFunction[src.Function], cp)
	m.Instructions = append(m.Instructions, cp)
	return cp
}

// AddOnlyTest marks in as one of the only instructions to keep tests for.
func (c *Context) AddOnlyTest(in *Instruction) bool {
	for _, have := range c.OnlyTest {
		if have == in {
			return false
		}
	}
	c.OnlyTest = append(c.OnlyTest, in)
	return true
}

// DeriveFromStats fills the mnemonic, and the operands when none are set,
// from a stats style name such as "add_Eb_Gb". Derivation stops at the
// first word that is not an operand type; it reports whether every word
// was consumed.
func (c *Context) DeriveFromStats(in *Instruction, stats string) bool {
	if in.Mnemonic != "" {
		return true
	}
	words := strings.Split(stats, "_")
	in.Mnemonic = strings.ToLower(words[0])
	if len(words) == 1 || len(in.Operands) > 0 {
		return true
	}
	for _, typ := range words[1:] {
		desc, ok := c.Catalog.OpTypes[typ]
		if !ok {
			return false
		}
		in.Operands = append(in.Operands, Operand{Where: desc.Where, Type: typ})
	}
	return true
}

// FlagMasks holds an instruction's EFLAGS lists as bit masks.
type FlagMasks struct {
	Tested    uint64 `json:"tested"`
	Modified  uint64 `json:"modified"`
	Undefined uint64 `json:"undefined"`
	Set       uint64 `json:"set"`
	Cleared   uint64 `json:"cleared"`
}

// FlagMasks converts the EFLAGS lists of in to masks. Negated mnemonics
// such as "nc" contribute nothing.
func (c *Context) FlagMasks(in *Instruction) FlagMasks {
	mask := func(names []string) uint64 {
		var m uint64
		for _, name := range names {
			constant := c.Catalog.EflagsMnemonics[name]
			if strings.HasPrefix(constant, "!") {
				continue
			}
			m |= c.Catalog.EflagsConstants[constant]
		}
		return m
	}
	return FlagMasks{
		Tested:    mask(in.FlTest),
		Modified:  mask(in.FlModify),
		Undefined: mask(in.FlUndefined),
		Set:       mask(in.FlSet),
		Cleared:   mask(in.FlClear),
	}
}
