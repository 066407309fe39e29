package emit

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/opspec/internal/catalog"
	"github.com/robert-at-pretension-io/opspec/internal/model"
)

const oneByteGolden = `/* Generated from: one          Selector: byte     Encoding: legacy   Lead bytes opcodes:  */
static const DISOPCODE g_aDisasOne[] =
{
    /* 0 */
    OP("add %Eb,%Gb",        IDX_ParseModRM,     IDX_UseModRM,   0,          OP_ADD,     OP_PARM_Eb,         OP_PARM_Gb,     OP_PARM_NONE,   DISOPTYPE_HARMLESS),
    /* 0x01 */ INVALID_OPCODE,
    /* 0x02 */ INVALID_OPCODE,
    /* 0x03 */ INVALID_OPCODE,
    /* 0x04 */ INVALID_OPCODE,
    /* 0x05 */ INVALID_OPCODE,
    /* 0x06 */ INVALID_OPCODE,
    /* 0x07 */ INVALID_OPCODE,
    /* 0x08 */ INVALID_OPCODE,
    /* 0x09 */ INVALID_OPCODE,
    /* 0x0a */ INVALID_OPCODE,
    /* 0x0b */ INVALID_OPCODE,
    /* 0x0c */ INVALID_OPCODE,
    /* 0x0d */ INVALID_OPCODE,
    /* 0x0e */ INVALID_OPCODE,
    /* 0x0f */ INVALID_OPCODE,

    /* 1 */
    INVALID_OPCODE_BLOCK_16,

    /* 2 */
    OP("and %Eb,%Gb",        IDX_ParseModRM,     IDX_UseModRM,   0,          OP_AND,     OP_PARM_Eb,         OP_PARM_Gb,     OP_PARM_NONE,   DISOPTYPE_HARMLESS),
};
AssertCompile(RT_ELEMENTS(g_aDisasOne) == 33);
const DISOPMAPDESC g_DisasOneRange = { &g_aDisasOne[0], 0x00, RT_ELEMENTS(g_aDisasOne) };
`

func newContext(t *testing.T) *model.Context {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default() error = %v", err)
	}
	return model.NewContext(cat)
}

// place puts a ModR/M encoded instruction into a map.
func place(t *testing.T, ctx *model.Context, mapName, opcode, prefix, mnemonic string, ops ...string) *model.Instruction {
	t.Helper()
	m, ok := ctx.Map(mapName)
	if !ok {
		t.Fatalf("no map %q", mapName)
	}
	in := ctx.NewInstruction("test.cpp.h", len(ctx.Instructions)+1)
	in.Mnemonic = mnemonic
	in.Opcode = opcode
	in.Prefix = prefix
	in.Encoding = "ModR/M"
	in.DisEnum = "OP_" + strings.ToUpper(mnemonic)
	in.Hints = []string{"harmless"}
	for _, typ := range ops {
		in.Operands = append(in.Operands, model.Operand{Where: ctx.Catalog.OpTypes[typ].Where, Type: typ})
	}
	in.Maps = []*model.Map{m}
	m.Instructions = append(m.Instructions, in)
	return in
}

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

func mustEmit(t *testing.T, ctx *model.Context, opts Options) *Output {
	t.Helper()
	opts.Log = quiet()
	out, errs := Tables(ctx, opts)
	if len(errs) > 0 {
		t.Fatalf("Tables() errors = %v", errs)
	}
	return out
}

func diffText(want, got string) string {
	dmp := diffmatchpatch.New()
	return dmp.DiffPrettyText(dmp.DiffMain(want, got, false))
}

func TestShortTableGolden(t *testing.T) {
	ctx := newContext(t)
	place(t, ctx, "one", "0x00", "", "add", "Eb", "Gb")
	place(t, ctx, "one", "0x20", "", "and", "Eb", "Gb")

	out := mustEmit(t, ctx, Options{Maps: []string{"one"}})
	if want := oneByteGolden + "\n"; out.Body != want {
		t.Fatalf("table mismatch:\n%s", diffText(want, out.Body))
	}
	if diff := cmp.Diff([]string{"extern const DISOPMAPDESC g_DisasOneRange;"}, out.Header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	want := []Table{{Map: "one", Name: "g_aDisasOne", Start: 0, End: 0x21, Short: true}}
	if diff := cmp.Diff(want, out.Tables); diff != "" {
		t.Errorf("tables mismatch (-want +got):\n%s", diff)
	}
}

func TestFullTable(t *testing.T) {
	ctx := newContext(t)
	place(t, ctx, "grp4", "/0", "", "inc", "Eb")
	place(t, ctx, "grp4", "/7", "", "dec", "Eb")

	out := mustEmit(t, ctx, Options{Maps: []string{"grp4"}})
	lines := strings.Split(out.Body, "\n")
	if lines[1] != "const DISOPCODE g_aDisasGrp4[8] =" {
		t.Errorf("declaration = %q", lines[1])
	}
	for i := 1; i <= 6; i++ {
		if want := "    /* 0x0" + string(rune('0'+i)) + " */ INVALID_OPCODE,"; !strings.Contains(out.Body, want+"\n") {
			t.Errorf("missing %q", want)
		}
	}
	if !strings.Contains(out.Body, "AssertCompile(RT_ELEMENTS(g_aDisasGrp4) == 8);") {
		t.Errorf("missing element assertion:\n%s", out.Body)
	}
	wantHeader := []string{
		"extern const DISOPCODE g_aDisasGrp4[8];",
		"extern const DISOPMAPDESC g_DisasGrp4Range;",
	}
	if diff := cmp.Diff(wantHeader, out.Header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyMapIsDummy(t *testing.T) {
	ctx := newContext(t)
	out := mustEmit(t, ctx, Options{Maps: []string{"grp5"}})
	for _, want := range []string{
		"static const DISOPCODE g_aDisasGrp5[] =",
		"    /* dummy */ INVALID_OPCODE\n};",
		"AssertCompile(RT_ELEMENTS(g_aDisasGrp5) == 0);",
	} {
		if !strings.Contains(out.Body, want) {
			t.Errorf("missing %q in:\n%s", want, out.Body)
		}
	}
}

func TestPrefixedInvalidRuns(t *testing.T) {
	ctx := newContext(t)
	place(t, ctx, "two0f", "0x00", "none", "sldt", "Ew")
	place(t, ctx, "two0f", "0x02", "0x66", "lar", "Gv", "Ew")

	out := mustEmit(t, ctx, Options{Maps: []string{"two0f"}})
	want := []string{
		"    /* 0x00/1 */ INVALID_OPCODE,",
		"    /* 0x00/2 */ INVALID_OPCODE,",
		"    /* 0x00/3 */ INVALID_OPCODE,",
		"    INVALID_OPCODE_BLOCK_4,",
		"    /* 0x02/0 */ INVALID_OPCODE,",
	}
	lines := strings.Split(out.Body, "\n")
	if diff := cmp.Diff(want, lines[5:10]); diff != "" {
		t.Errorf("invalid runs mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(lines[10], `OP("lar %Gv,%Ew",`) {
		t.Errorf("line 10 = %q", lines[10])
	}
}

func TestCollisionPlaceholder(t *testing.T) {
	ctx := newContext(t)
	place(t, ctx, "one", "0x00", "", "add", "Eb", "Gb")
	place(t, ctx, "one", "0x00", "", "adc", "Eb", "Gb")

	out := mustEmit(t, ctx, Options{Maps: []string{"one"}})
	if !strings.Contains(out.Body, "    /* 0x00 */ ComplicatedListStuffNeedingWrapper, /* \n -- ") {
		t.Fatalf("no collision placeholder in:\n%s", out.Body)
	}
	if strings.Count(out.Body, "\n -- ") != 2 {
		t.Errorf("expected both colliding instructions listed:\n%s", out.Body)
	}
}

func TestSelectMaps(t *testing.T) {
	ctx := newContext(t)
	maps, err := SelectMaps(ctx, Options{Maps: []string{"vexmap1", "two0f"}, SplitPrefixes: true})
	if err != nil {
		t.Fatalf("SelectMaps() error = %v", err)
	}
	var names, tables []string
	for _, m := range maps {
		names = append(names, m.Name)
		tables = append(tables, m.DisasTableName())
	}
	if diff := cmp.Diff([]string{"two0f", "two0f_66", "two0f_F3", "two0f_F2", "vexmap1", "vexmap1_66", "vexmap1_F3", "vexmap1_F2"}, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if tables[1] != "g_aDisasTwo0f_66" {
		t.Errorf("table name = %q", tables[1])
	}
	for _, m := range maps {
		if m.Selector != "byte" {
			t.Errorf("%s: selector = %q, want byte", m.Name, m.Selector)
		}
	}

	if _, err := SelectMaps(ctx, Options{Maps: []string{"vexmap4"}}); err == nil || !strings.Contains(err.Error(), "did you mean") {
		t.Errorf("SelectMaps(vexmap4) error = %v, want a suggestion", err)
	}
}

func TestSplitFiltersByPrefix(t *testing.T) {
	ctx := newContext(t)
	place(t, ctx, "two0f", "0x10", "0xf3", "movss", "Vss", "Wss")

	out := mustEmit(t, ctx, Options{Maps: []string{"two0f"}, SplitPrefixes: true})
	short := map[string]bool{}
	for _, tb := range out.Tables {
		short[tb.Map] = tb.Start < tb.End
	}
	want := map[string]bool{"two0f": false, "two0f_66": false, "two0f_F3": true, "two0f_F2": false}
	if diff := cmp.Diff(want, short); diff != "" {
		t.Errorf("populated tables mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatEntry(t *testing.T) {
	ctx := newContext(t)
	cat := ctx.Catalog

	in := place(t, ctx, "grp4", "/0", "", "inc", "Eb")
	got, err := FormatEntry(cat, in)
	if err != nil {
		t.Fatalf("FormatEntry() error = %v", err)
	}
	want := `    OP("inc %Eb",            IDX_ParseModRM,     0,              0,          OP_INC,     OP_PARM_Eb,         OP_PARM_NONE,   OP_PARM_NONE,   DISOPTYPE_HARMLESS),`
	if got != want {
		t.Errorf("FormatEntry() mismatch:\n%s", diffText(want, got))
	}

	in.Hints = []string{"vex_l_zero"}
	got, _ = FormatEntry(cat, in)
	if !strings.HasSuffix(got, " 0),") {
		t.Errorf("interpreter-only hints leaked into %q", got)
	}

	in.Hints = []string{"privileged", "harmless"}
	got, _ = FormatEntry(cat, in)
	if !strings.HasSuffix(got, "DISOPTYPE_HARMLESS | DISOPTYPE_PRIVILEGED),") {
		t.Errorf("hint flags not sorted: %q", got)
	}
}

func TestFormatEntryProblems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Instruction)
		want   string
	}{
		{"no enum", func(in *model.Instruction) { in.DisEnum = "" }, "no disassembler enum"},
		{"no parser", func(in *model.Instruction) { in.Encoding = "grp5" }, `no parser for encoding "grp5"`},
		{"modrm without operand", func(in *model.Instruction) { in.Operands = nil }, "ModR/M encoding without a ModR/M first operand"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newContext(t)
			in := place(t, ctx, "grp4", "/0", "", "inc", "Eb")
			tt.mutate(in)
			_, err := FormatEntry(ctx.Catalog, in)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("FormatEntry() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestMapEncodingUsesDisParse(t *testing.T) {
	ctx := newContext(t)
	in := place(t, ctx, "one", "0x0f", "", "twobyte")
	in.Encoding = "two0f"
	got, err := FormatEntry(ctx.Catalog, in)
	if err != nil {
		t.Fatalf("FormatEntry() error = %v", err)
	}
	if !strings.Contains(got, "IDX_ParseTwoByteEsc,") {
		t.Errorf("FormatEntry() = %q, want the map's parser", got)
	}
}
