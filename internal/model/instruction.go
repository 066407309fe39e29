// Package model holds the instruction model the annotation parser builds:
// instructions, their operands and tests, the opcode maps they belong to,
// and the per-run registries that index them.
package model

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Operand is one instruction operand. A zero Operand marks a slot that was
// skipped, e.g. @op2 given without @op1.
type Operand struct {
	Where string `json:"where"`
	Type  string `json:"type"`
}

// IsZero reports whether the slot is unfilled.
func (o Operand) IsZero() bool { return o.Type == "" }

// UsesModRM reports whether the operand is encoded through ModR/M.
func (o Operand) UsesModRM() bool {
	return o.Type != "" && strings.ContainsRune("EGM", rune(o.Type[0]))
}

// Instruction is one decodable operation. Empty strings and nil slices
// mean "not specified"; flag lists distinguish nil (unset) from empty
// (explicitly none).
type Instruction struct {
	Parent *Instruction

	Mnemonic     string
	Brief        string
	Desc         []string
	Maps         []*Map
	Operands     []Operand
	Prefix       string
	Opcode       string
	SubOpcode    string
	Encoding     string
	FlTest       []string
	FlModify     []string
	FlUndefined  []string
	FlSet        []string
	FlClear      []string
	Hints        []string
	DisEnum      string
	CPUIDs       []string
	Tests        []*Test
	MinCPU       string
	Group        string
	Unused       bool
	Invalid      bool
	InvalidStyle string
	XcptType     string

	Stats    string
	Function string
	Stub     bool
	UdStub   bool

	File          string
	LineCreated   int
	LineCompleted int
	OpTags        int
	// Lines of the FNIEMOP_* and IEMOP_MNEMONIC* macros, 0 when not seen.
	LineFnMacro       int
	LineMnemonicMacro int

	RawOldOpcodes string
	CopyTests     []string

	finalized bool
}

// Finalized reports whether the instruction has been committed.
func (i *Instruction) Finalized() bool { return i.finalized }

// HasHint reports whether hint is set.
func (i *Instruction) HasHint(hint string) bool { return lo.Contains(i.Hints, hint) }

// AddHint sets hint and reports whether it was new.
func (i *Instruction) AddHint(hint string) bool {
	if i.HasHint(hint) {
		return false
	}
	i.Hints = append(i.Hints, hint)
	return true
}

// OnlyInVexMaps reports whether every map the instruction belongs to is a
// VEX map. An instruction without maps is not.
func (i *Instruction) OnlyInVexMaps() bool {
	if len(i.Maps) == 0 {
		return false
	}
	return lo.EveryBy(i.Maps, func(m *Map) bool { return m.IsVex() })
}

// OpcodeByte decodes the opcode specifier into a byte. The /N forms
// place N in the ModR/M reg field; 11/N sets mod=3 and !11/N mod=2.
func (i *Instruction) OpcodeByte() (int, error) {
	op := i.Opcode
	switch {
	case op == "":
		return 0, fmt.Errorf("no opcode byte for %s", i)
	case strings.HasPrefix(op, "0x"):
		v, err := strconv.ParseUint(op[2:], 16, 8)
		if err != nil {
			return 0, fmt.Errorf("parsing opcode %q: %w", op, err)
		}
		return int(v), nil
	}
	reg, ok := lastDigit(op)
	switch {
	case ok && len(op) == 2 && op[0] == '/':
		return reg << 3, nil
	case ok && len(op) == 4 && strings.HasPrefix(op, "11/"):
		return reg<<3 | 0xc0, nil
	case ok && len(op) == 5 && strings.HasPrefix(op, "!11/"):
		return reg<<3 | 0x80, nil
	}
	return 0, fmt.Errorf("unsupported opcode byte spec %q for %s", op, i)
}

func lastDigit(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	c := s[len(s)-1]
	if c < '0' || c > '9' {
		return 0, false
	}
	return int(c - '0'), true
}

// Copy clones the instruction for placement in another map or another slot
// of the same map. Non-empty arguments override the copied values.
func (i *Instruction) Copy(m *Map, opcode, subOpcode, prefix string) *Instruction {
	c := *i
	c.Parent = i
	c.finalized = false
	c.Desc = slices.Clone(i.Desc)
	c.Operands = slices.Clone(i.Operands)
	c.Hints = slices.Clone(i.Hints)
	c.CPUIDs = slices.Clone(i.CPUIDs)
	c.Tests = slices.Clone(i.Tests)
	c.CopyTests = slices.Clone(i.CopyTests)
	if m != nil {
		c.Maps = []*Map{m}
	} else {
		c.Maps = slices.Clone(i.Maps)
	}
	if opcode != "" {
		c.Opcode = opcode
	}
	if subOpcode != "" {
		c.SubOpcode = subOpcode
	}
	if prefix != "" {
		c.Prefix = prefix
	}
	return &c
}

// String renders the set fields in a compact key=value form.
func (i *Instruction) String() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("opcode", i.Opcode)
	add("prefix", i.Prefix)
	add("mnemonic", i.Mnemonic)
	for n, op := range i.Operands {
		if !op.IsZero() {
			add(fmt.Sprintf("op%d", n+1), op.Where+":"+op.Type)
		}
	}
	add("maps", strings.Join(lo.Map(i.Maps, func(m *Map, _ int) string { return m.Name }), ","))
	add("encoding", i.Encoding)
	add("hints", strings.Join(i.Hints, ","))
	add("disenum", i.DisEnum)
	add("cpuid", strings.Join(i.CPUIDs, ","))
	add("group", i.Group)
	add("stats", i.Stats)
	add("function", i.Function)
	if i.Stub {
		add("stub", "true")
	}
	return strings.Join(parts, "; ")
}

// Where returns "file:line" of the instruction's creation.
func (i *Instruction) Where() string {
	return fmt.Sprintf("%s:%d", i.File, i.LineCreated)
}
