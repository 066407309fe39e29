package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalogDecodes(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default(): %v", err)
	}

	if got := c.EflagsConstants["X86_EFL_OF"]; got != 0x800 {
		t.Errorf("X86_EFL_OF = %#x", got)
	}
	if got := c.Xcr0["XSAVE_C_X"]; got != 0x8000000000000000 {
		t.Errorf("XSAVE_C_X = %#x", got)
	}
	if got := c.EflagsMnemonics["nc"]; got != "!X86_EFL_CF" {
		t.Errorf("nc = %q", got)
	}

	eb, ok := c.OpTypes["Eb"]
	if !ok || eb.Where != "rm" || eb.Form != FormRM || eb.Parser != "IDX_UseModRM" {
		t.Errorf("unexpected Eb descriptor %+v", eb)
	}
	if hx := c.OpTypes["HssHi"]; hx.DisFmt != "%Hx" || hx.Form != FormVvvv {
		t.Errorf("unexpected HssHi descriptor %+v", hx)
	}

	if sel := c.Selectors["byte+pfx"]; sel.Size != 1024 || sel.PerByte != 4 {
		t.Errorf("byte+pfx geometry %+v", sel)
	}
	if c.SubOpcodes["vex.l=1"].Value != "vex.l=0" {
		t.Errorf("vex.l=1 alias changed: %+v", c.SubOpcodes["vex.l=1"])
	}
	if c.SubOpcodes["none"].Value != "" {
		t.Errorf("none sub-opcode should canonicalize to empty")
	}
	if form := c.IemForms["VEX_RVM"]; strings.Join(form.Wheres, ",") != "reg,vvvv,rm" {
		t.Errorf("VEX_RVM wheres %v", form.Wheres)
	}

	if len(c.Maps) == 0 || c.Maps[0].Name != "one" || c.Maps[0].Selector != "byte" {
		t.Fatalf("first map should be the one-byte map, got %+v", c.Maps[0])
	}
	for _, m := range c.Maps {
		if m.Name == "two0f" {
			if m.Selector != "byte+pfx" || m.Encoding != "legacy" || m.DisParse != "IDX_ParseTwoByteEsc" {
				t.Errorf("two0f defaults not applied: %+v", m)
			}
		}
	}
}

func TestTestCatalog(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"in1", "in4", "out1", "op2", "xmm15.dw0", "oz.r15", "r12l", "ymm3", "value.xcpt"} {
		if _, ok := c.TestFields[name]; !ok {
			t.Errorf("missing test field %s", name)
		}
	}
	if c.TestFields["in2"].Role != RoleInput || c.TestFields["out3"].Role != RoleOutput {
		t.Errorf("in/out roles wrong: %+v %+v", c.TestFields["in2"], c.TestFields["out3"])
	}
	for _, name := range []string{"uint", "int", "efl", "cr0", "cr4", "xcr0", "b", "w", "dw", "qw", "dqw", "qqw"} {
		if _, ok := c.ValueType(name); !ok {
			t.Errorf("missing value type %s", name)
		}
	}
	dw, _ := c.ValueType("dw")
	v, err := dw.Parse("0x100")
	if err != nil || v.Parts[0].Hex() != "00000100" {
		t.Errorf("dw parse = %+v, %v", v, err)
	}
	if c.TestPredicates["!amd"] != "vendor!=amd" {
		t.Errorf("predicate !amd = %q", c.TestPredicates["!amd"])
	}
}

func TestLoadFileRejectsBadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.cue")
	src := string(embeddedCatalog)
	src = strings.Replace(src, `{name: "grp4", lead: ["0xfe"], selector: "/r"}`, `{name: "grp4", lead: ["0xfe"], selector: "/q"}`, 1)
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected invalid selector to be rejected")
	}
}

func TestLookupTag(t *testing.T) {
	tests := []struct {
		tag  string
		kind TagKind
		num  int
	}{
		{"@opcode", TagOpcode, 0},
		{"@op3", TagOperand, 0},
		{"@optest", TagTest, 0},
		{"@optest7", TagTestNum, 7},
		{"@optest[12]", TagTestNum, 12},
		{"@optest47", TagTestNum, 47},
		{"@optest48", TagUnknown, 0},
		{"@optest07", TagUnknown, 0},
		{"@optestignore", TagTestIgnore, 0},
		{"@opbogus", TagUnknown, 0},
	}
	for _, tt := range tests {
		kind, num := LookupTag(tt.tag)
		if kind != tt.kind || num != tt.num {
			t.Errorf("LookupTag(%q) = (%v, %d), want (%v, %d)", tt.tag, kind, num, tt.kind, tt.num)
		}
	}
}

func TestSuggest(t *testing.T) {
	if got := Suggest("@opcdoe", TagNames(), 2); got != "@opcode" {
		t.Errorf("Suggest = %q, want @opcode", got)
	}
	if got := Suggest("@zzzzzzzz", TagNames(), 2); got != "" {
		t.Errorf("Suggest = %q, want nothing", got)
	}
}
