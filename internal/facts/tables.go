package facts

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"

	"github.com/robert-at-pretension-io/opspec/internal/model"
)

// Tables is the relational view of a compiled model.
// Each slice is a relation (table) with flat rows.
type Tables struct {
	Files        []FileRow        `json:"files"`
	Instructions []InstructionRow `json:"instructions"`
	Operands     []OperandRow     `json:"operands"`
	MapMembers   []MapMemberRow   `json:"map_members"`
	Tests        []TestRow        `json:"tests"`
	Hints        []HintRow        `json:"hints"`
	CPUIDs       []CPUIDRow       `json:"cpuids"`
}

type FileRow struct {
	Path         string `json:"path"`
	DefaultMap   string `json:"default_map"`
	Hash         string `json:"hash,omitempty"`
	Instructions int    `json:"instructions"`
	Stubs        int    `json:"stubs"`
}

// InstructionRow is one instruction. ID is stable across runs as long as
// the identifying fields do not change; Fingerprint covers every column.
type InstructionRow struct {
	ID           string `json:"id"`
	Fingerprint  string `json:"fingerprint"`
	File         string `json:"file"`
	Line         int    `json:"line"`
	Mnemonic     string `json:"mnemonic"`
	Brief        string `json:"brief,omitempty"`
	Stats        string `json:"stats,omitempty"`
	Function     string `json:"function,omitempty"`
	Encoding     string `json:"encoding,omitempty"`
	Opcode       string `json:"opcode,omitempty"`
	SubOpcode    string `json:"sub_opcode,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	DisEnum      string `json:"dis_enum,omitempty"`
	MinCPU       string `json:"min_cpu,omitempty"`
	Group        string `json:"group,omitempty"`
	XcptType     string `json:"xcpt_type,omitempty"`
	InvalidStyle string `json:"invalid_style,omitempty"`
	Stub         bool   `json:"stub"`
	UdStub       bool   `json:"ud_stub"`
	Invalid      bool   `json:"invalid"`
	Unused       bool   `json:"unused"`
	Copy         bool   `json:"copy"`
	VexOnly      bool   `json:"vex_only"`
	Tests        int    `json:"tests"`

	TestedMask    uint64 `json:"tested_mask"`
	ModifiedMask  uint64 `json:"modified_mask"`
	UndefinedMask uint64 `json:"undefined_mask"`
	SetMask       uint64 `json:"set_mask"`
	ClearedMask   uint64 `json:"cleared_mask"`
}

type OperandRow struct {
	Instr string `json:"instr"`
	Index int    `json:"index"`
	Where string `json:"where"`
	Type  string `json:"type"`
	File  string `json:"file"`
}

type MapMemberRow struct {
	Instr    string `json:"instr"`
	Map      string `json:"map"`
	Encoding string `json:"encoding"`
	File     string `json:"file"`
}

type TestRow struct {
	Instr string `json:"instr"`
	Index int    `json:"index"`
	Text  string `json:"text"`
	File  string `json:"file"`
}

type HintRow struct {
	Instr string `json:"instr"`
	Hint  string `json:"hint"`
	File  string `json:"file"`
}

type CPUIDRow struct {
	Instr string `json:"instr"`
	CPUID string `json:"cpuid"`
	File  string `json:"file"`
}

// BuildTables flattens every instruction of ctx. files supplies the file
// rows; their instruction and stub counts are filled in here.
func BuildTables(ctx *model.Context, files []FileRow) Tables {
	tables := emptyTables()

	perFile := make(map[string]*FileRow, len(files))
	tables.Files = append(tables.Files, files...)
	for i := range tables.Files {
		tables.Files[i].Instructions, tables.Files[i].Stubs = 0, 0
		perFile[tables.Files[i].Path] = &tables.Files[i]
	}

	ids := make(map[string]int)
	for _, in := range ctx.Instructions {
		id := InstructionID(in)
		// Identical identifying fields can occur for stubs; keep IDs unique.
		if n := ids[id]; n > 0 {
			ids[id] = n + 1
			id += "." + strconv.Itoa(n)
		} else {
			ids[id] = 1
		}

		if f, ok := perFile[in.File]; ok {
			f.Instructions++
			if in.Stub {
				f.Stubs++
			}
		}

		masks := ctx.FlagMasks(in)
		row := InstructionRow{
			ID:            id,
			File:          in.File,
			Line:          in.LineCreated,
			Mnemonic:      in.Mnemonic,
			Brief:         in.Brief,
			Stats:         in.Stats,
			Function:      in.Function,
			Encoding:      in.Encoding,
			Opcode:        in.Opcode,
			SubOpcode:     in.SubOpcode,
			Prefix:        in.Prefix,
			DisEnum:       in.DisEnum,
			MinCPU:        in.MinCPU,
			Group:         in.Group,
			XcptType:      in.XcptType,
			InvalidStyle:  in.InvalidStyle,
			Stub:          in.Stub,
			UdStub:        in.UdStub,
			Invalid:       in.Invalid,
			Unused:        in.Unused,
			Copy:          in.Parent != nil,
			VexOnly:       in.OnlyInVexMaps(),
			Tests:         len(in.Tests),
			TestedMask:    masks.Tested,
			ModifiedMask:  masks.Modified,
			UndefinedMask: masks.Undefined,
			SetMask:       masks.Set,
			ClearedMask:   masks.Cleared,
		}
		row.Fingerprint = rowFingerprint(row)
		tables.Instructions = append(tables.Instructions, row)

		for i, op := range in.Operands {
			tables.Operands = append(tables.Operands, OperandRow{Instr: id, Index: i, Where: op.Where, Type: op.Type, File: in.File})
		}
		for _, m := range in.Maps {
			tables.MapMembers = append(tables.MapMembers, MapMemberRow{Instr: id, Map: m.Name, Encoding: m.Encoding, File: in.File})
		}
		for i, t := range in.Tests {
			tables.Tests = append(tables.Tests, TestRow{Instr: id, Index: i, Text: t.String(), File: in.File})
		}
		for _, h := range in.Hints {
			tables.Hints = append(tables.Hints, HintRow{Instr: id, Hint: h, File: in.File})
		}
		for _, c := range in.CPUIDs {
			tables.CPUIDs = append(tables.CPUIDs, CPUIDRow{Instr: id, CPUID: c, File: in.File})
		}
	}

	sort.SliceStable(tables.Files, func(i, j int) bool { return tables.Files[i].Path < tables.Files[j].Path })
	return tables
}

// InstructionID derives a short stable identifier from the fields that
// identify an instruction: file, mnemonic, stats, function, placement.
func InstructionID(in *model.Instruction) string {
	maps := lo.Map(in.Maps, func(m *model.Map, _ int) string { return m.Name })
	return "i" + hashFields(in.File, in.Mnemonic, in.Stats, in.Function, in.Opcode, in.SubOpcode, in.Prefix, strings.Join(maps, ","))
}

func rowFingerprint(r InstructionRow) string {
	return hashFields(
		r.ID, r.File, intKey(r.Line), r.Mnemonic, r.Brief, r.Stats, r.Function,
		r.Encoding, r.Opcode, r.SubOpcode, r.Prefix, r.DisEnum, r.MinCPU, r.Group,
		r.XcptType, r.InvalidStyle, boolKey(r.Stub), boolKey(r.UdStub),
		boolKey(r.Invalid), boolKey(r.Unused), boolKey(r.Copy), boolKey(r.VexOnly),
		intKey(r.Tests),
		strconv.FormatUint(r.TestedMask, 16), strconv.FormatUint(r.ModifiedMask, 16),
		strconv.FormatUint(r.UndefinedMask, 16), strconv.FormatUint(r.SetMask, 16),
		strconv.FormatUint(r.ClearedMask, 16),
	)
}

func hashFields(fields ...string) string {
	d := xxhash.New()
	for _, f := range fields {
		_, _ = d.WriteString(f)
		_, _ = d.Write([]byte{0})
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
