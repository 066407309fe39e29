// Package opindex maps instructions to opcode table slots.
package opindex

import (
	"fmt"
	"strings"

	"github.com/robert-at-pretension-io/opspec/internal/model"
)

// AssertionError reports an instruction whose opcode contradicts what its
// map's selector assumes, such as a register-form opcode in a memory-only
// map. These are defects in the annotations, not in the input syntax.
type AssertionError struct {
	Map   string
	Instr *model.Instruction
	Msg   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: map %s: %s: %s", e.Instr.Where(), e.Map, e.Msg, e.Instr)
}

func assertf(m *model.Map, in *model.Instruction, format string, args ...interface{}) error {
	return &AssertionError{Map: m.Name, Instr: in, Msg: fmt.Sprintf(format, args...)}
}

// IndexFor returns the slot of in within m. The result is always below
// m.TableSize().
func IndexFor(m *model.Map, in *model.Instruction, prefixOrder map[string]int) (int, error) {
	b, err := in.OpcodeByte()
	if err != nil {
		return 0, assertf(m, in, "%v", err)
	}
	mod := b >> 6
	reg := (b >> 3) & 7

	var idx int
	switch m.Selector {
	case "byte":
		if !isFullByte(in.Opcode) {
			return 0, assertf(m, in, "selector %q needs a full opcode byte, got %q", m.Selector, in.Opcode)
		}
		idx = b
	case "byte+pfx":
		if !isFullByte(in.Opcode) {
			return 0, assertf(m, in, "selector %q needs a full opcode byte, got %q", m.Selector, in.Opcode)
		}
		ord, ok := prefixOrder[in.Prefix]
		if !ok {
			return 0, assertf(m, in, "selector %q needs a prefix, got %q", m.Selector, in.Prefix)
		}
		idx = b*4 + ord
	case "/r":
		idx = reg
	case "mod /r":
		idx = (b >> 3) & 0x1f
	case "memreg /r":
		idx = reg
		if mod == 3 {
			idx |= 8
		}
	case "!11 /r":
		if mod == 3 {
			return 0, assertf(m, in, "selector %q requires mod!=3, opcode %q has mod=3", m.Selector, in.Opcode)
		}
		idx = reg
	case "11 /r":
		if mod != 3 {
			return 0, assertf(m, in, "selector %q requires mod=3, opcode %q has mod=%d", m.Selector, in.Opcode, mod)
		}
		idx = reg
	case "11":
		if mod != 3 {
			return 0, assertf(m, in, "selector %q requires mod=3, opcode %q has mod=%d", m.Selector, in.Opcode, mod)
		}
		idx = b & 0x3f
	default:
		return 0, assertf(m, in, "unknown selector %q", m.Selector)
	}
	if idx >= m.TableSize() {
		return 0, assertf(m, in, "slot %#x outside table of %d entries", idx, m.TableSize())
	}
	return idx, nil
}

func isFullByte(op string) bool {
	return len(op) == 4 && strings.HasPrefix(op, "0x")
}

// Slot is one table entry: empty, a single instruction, or a collision of
// several instructions sharing the slot.
type Slot []*model.Instruction

// Empty reports whether no instruction occupies the slot.
func (s Slot) Empty() bool { return len(s) == 0 }

// Collision reports whether more than one instruction occupies the slot.
func (s Slot) Collision() bool { return len(s) > 1 }

// TableOrder places every member of m with an opcode at its slot.
// Instructions that cannot be placed are returned as errors and left out.
func TableOrder(m *model.Map, prefixOrder map[string]int) ([]Slot, []error) {
	table := make([]Slot, m.TableSize())
	var errs []error
	for _, in := range m.Instructions {
		if in.Opcode == "" {
			continue
		}
		idx, err := IndexFor(m, in, prefixOrder)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		table[idx] = append(table[idx], in)
	}
	return table, errs
}

// Bounds trims unassigned slots from both ends of table. Short is set when
// the trimmed slots amount to more than a thirtieth of the table; otherwise
// the full range is returned.
func Bounds(table []Slot) (start, end int, short bool) {
	end = len(table)
	for end > 0 && table[end-1].Empty() {
		end--
	}
	for start < end && table[start].Empty() {
		start++
	}
	saved := start + len(table) - end
	if saved*30 > len(table) {
		return start, end, true
	}
	return 0, len(table), false
}
