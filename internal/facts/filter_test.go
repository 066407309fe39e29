package facts

import "testing"

func TestFilterTablesByFiles(t *testing.T) {
	tables := Tables{
		Files: []FileRow{
			{Path: "a.cpp.h"},
			{Path: "b.cpp.h"},
		},
		Instructions: []InstructionRow{
			{ID: "1", File: "a.cpp.h"},
			{ID: "2", File: "b.cpp.h"},
		},
		Operands: []OperandRow{
			{Instr: "1", Type: "Eb", File: "a.cpp.h"},
			{Instr: "2", Type: "Gb", File: "b.cpp.h"},
		},
		CPUIDs: []CPUIDRow{
			{Instr: "2", CPUID: "avx", File: "b.cpp.h"},
		},
	}

	files := map[string]bool{"a.cpp.h": true}
	filtered := FilterTablesByFiles(tables, files)

	if len(filtered.Files) != 1 || filtered.Files[0].Path != "a.cpp.h" {
		t.Fatalf("expected only a.cpp.h file row, got %#v", filtered.Files)
	}
	if len(filtered.Instructions) != 1 || filtered.Instructions[0].File != "a.cpp.h" {
		t.Fatalf("expected only a.cpp.h instruction rows, got %#v", filtered.Instructions)
	}
	if len(filtered.Operands) != 1 || filtered.Operands[0].File != "a.cpp.h" {
		t.Fatalf("expected only a.cpp.h operand rows, got %#v", filtered.Operands)
	}
	if filtered.CPUIDs == nil || len(filtered.CPUIDs) != 0 {
		t.Fatalf("expected empty non-nil cpuid rows, got %#v", filtered.CPUIDs)
	}
}

func TestFilterDeltaByFilesEmpty(t *testing.T) {
	delta := Delta{
		Added: Tables{
			Files: []FileRow{{Path: "a.cpp.h"}},
		},
		Removed: Tables{
			Files: []FileRow{{Path: "b.cpp.h"}},
		},
	}

	filtered := FilterDeltaByFiles(delta, map[string]bool{})
	if len(filtered.Added.Files) != 0 || len(filtered.Removed.Files) != 0 {
		t.Fatalf("expected empty delta, got %#v", filtered)
	}
}
