package facts

// FilterTablesByFiles returns a new Tables object containing only rows whose file
// or path is present in the provided file set.
func FilterTablesByFiles(tables Tables, files map[string]bool) Tables {
	out := emptyTables()
	if len(files) == 0 {
		return out
	}

	out.Files = filterRows(tables.Files, func(r FileRow) bool { return files[r.Path] })
	out.Instructions = filterRows(tables.Instructions, func(r InstructionRow) bool { return files[r.File] })
	out.Operands = filterRows(tables.Operands, func(r OperandRow) bool { return files[r.File] })
	out.MapMembers = filterRows(tables.MapMembers, func(r MapMemberRow) bool { return files[r.File] })
	out.Tests = filterRows(tables.Tests, func(r TestRow) bool { return files[r.File] })
	out.Hints = filterRows(tables.Hints, func(r HintRow) bool { return files[r.File] })
	out.CPUIDs = filterRows(tables.CPUIDs, func(r CPUIDRow) bool { return files[r.File] })

	return out
}

// FilterDeltaByFiles returns a new Delta containing only rows for the specified files.
func FilterDeltaByFiles(delta Delta, files map[string]bool) Delta {
	return Delta{
		Added:   FilterTablesByFiles(delta.Added, files),
		Removed: FilterTablesByFiles(delta.Removed, files),
	}
}

func filterRows[T any](rows []T, keep func(T) bool) []T {
	out := []T{}
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
