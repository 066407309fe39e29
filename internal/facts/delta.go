package facts

import "strconv"

// Delta captures added and removed fact rows between two snapshots.
// A changed instruction shows up as one removal and one addition.
type Delta struct {
	Added   Tables `json:"added"`
	Removed Tables `json:"removed"`
}

// Empty reports whether the snapshots were identical.
func (d Delta) Empty() bool {
	return d.Added.Len() == 0 && d.Removed.Len() == 0
}

// Len is the total number of rows.
func (t Tables) Len() int {
	return len(t.Files) + len(t.Instructions) + len(t.Operands) + len(t.MapMembers) +
		len(t.Tests) + len(t.Hints) + len(t.CPUIDs)
}

// ComputeDelta computes row-level additions and removals between two snapshots.
func ComputeDelta(prev, next Tables) Delta {
	return Delta{
		Added:   diffTables(prev, next),
		Removed: diffTables(next, prev),
	}
}

func diffTables(from, to Tables) Tables {
	out := emptyTables()

	out.Files = diffRows(from.Files, to.Files, func(r FileRow) string {
		return r.Path + "|" + r.DefaultMap + "|" + r.Hash + "|" + intKey(r.Instructions) + "|" + intKey(r.Stubs)
	})
	out.Instructions = diffRows(from.Instructions, to.Instructions, func(r InstructionRow) string {
		return r.Fingerprint
	})
	out.Operands = diffRows(from.Operands, to.Operands, func(r OperandRow) string {
		return r.Instr + "|" + intKey(r.Index) + "|" + r.Where + "|" + r.Type
	})
	out.MapMembers = diffRows(from.MapMembers, to.MapMembers, func(r MapMemberRow) string {
		return r.Instr + "|" + r.Map
	})
	out.Tests = diffRows(from.Tests, to.Tests, func(r TestRow) string {
		return r.Instr + "|" + intKey(r.Index) + "|" + r.Text
	})
	out.Hints = diffRows(from.Hints, to.Hints, func(r HintRow) string {
		return r.Instr + "|" + r.Hint
	})
	out.CPUIDs = diffRows(from.CPUIDs, to.CPUIDs, func(r CPUIDRow) string {
		return r.Instr + "|" + r.CPUID
	})

	return out
}

func emptyTables() Tables {
	return Tables{
		Files:        []FileRow{},
		Instructions: []InstructionRow{},
		Operands:     []OperandRow{},
		MapMembers:   []MapMemberRow{},
		Tests:        []TestRow{},
		Hints:        []HintRow{},
		CPUIDs:       []CPUIDRow{},
	}
}

func diffRows[T any](from, to []T, key func(T) string) []T {
	fromSet := make(map[string]struct{}, len(from))
	for _, row := range from {
		fromSet[key(row)] = struct{}{}
	}
	diff := []T{}
	for _, row := range to {
		if _, ok := fromSet[key(row)]; !ok {
			diff = append(diff, row)
		}
	}
	return diff
}

func boolKey(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func intKey(v int) string {
	return strconv.Itoa(v)
}
