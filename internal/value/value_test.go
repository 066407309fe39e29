package value

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIntCanonical(t *testing.T) {
	tests := []struct {
		name    string
		typ     *Int
		literal string
		want    Canonical
	}{
		{"hex byte", NewInt("uint", []int{1}, true), "0x1A", Canonical{Bytes: []byte{0x1a}}},
		{"minus one", NewInt("uint", []int{1, 2, 4, 8}, true), "-1", Canonical{SignExtend: true, Bytes: []byte{0xff}}},
		{"decimal grows to word", NewInt("uint", nil, true), "256", Canonical{Bytes: []byte{0x00, 0x01}}},
		{"signed default", NewInt("int", nil, false), "5", Canonical{SignExtend: true, Bytes: []byte{0x05}}},
		{"negative hex", NewInt("int", nil, false), "-0x80", Canonical{SignExtend: true, Bytes: []byte{0x80}}},
		{"negative needs extra byte", NewInt("int", nil, false), "-0x81", Canonical{SignExtend: true, Bytes: []byte{0x7f, 0xff}}},
		{"plus forces sign", NewInt("uint", nil, true), "+0x7f", Canonical{SignExtend: true, Bytes: []byte{0x7f}}},
		{"zero", NewInt("uint", nil, true), "0", Canonical{Bytes: []byte{0x00}}},
		{"dword fixed", NewFixed("dw", 4), "0xff", Canonical{Bytes: []byte{0xff, 0, 0, 0}}},
		{"dword fixed carry", NewFixed("dw", 4), "0x100", Canonical{Bytes: []byte{0, 0x01, 0, 0}}},
		{"wider than ladder", NewInt("uint", []int{1, 2}, true), "0x123456", Canonical{Bytes: []byte{0x56, 0x34, 0x12, 0x00}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.typ.Canonical(tt.literal)
			if err != nil {
				t.Fatalf("Canonical(%q): %v", tt.literal, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Canonical(%q) mismatch (-want +got):\n%s", tt.literal, diff)
			}
		})
	}
}

func TestHexRoundTrip(t *testing.T) {
	c, err := NewInt("uint", []int{1}, true).Canonical("0x1A")
	if err != nil {
		t.Fatal(err)
	}
	if c.Hex() != "1a" {
		t.Fatalf("Hex() = %q, want 1a", c.Hex())
	}
}

func TestIntRejects(t *testing.T) {
	for _, literal := range []string{"", "0xzz", "abc", "-", "0x"} {
		_, err := NewInt("uint", nil, true).Parse(literal)
		var bad *BadValue
		if !errors.As(err, &bad) {
			t.Errorf("Parse(%q) = %v, want BadValue", literal, err)
		}
	}
	if _, err := NewFixed("b", 1).Parse("0x100"); err == nil {
		t.Error("expected fixed byte overflow to fail")
	}
}

func TestUint64SignExtends(t *testing.T) {
	c := Canonical{SignExtend: true, Bytes: []byte{0xfe}}
	if got := c.Uint64(); got != 0xfffffffffffffffe {
		t.Fatalf("Uint64 = %#x", got)
	}
	c.SignExtend = false
	if got := c.Uint64(); got != 0xfe {
		t.Fatalf("Uint64 = %#x", got)
	}
}

func testEflags() *Eflags {
	return &Eflags{
		TypeName: "efl",
		Mnemonics: map[string]string{
			"cf": "X86_EFL_CF", "nc": "!X86_EFL_CF",
			"of": "X86_EFL_OF", "ov": "X86_EFL_OF", "nv": "!X86_EFL_OF",
			"zf": "X86_EFL_ZF",
		},
		Constants: map[string]uint64{"X86_EFL_CF": 0x1, "X86_EFL_ZF": 0x40, "X86_EFL_OF": 0x800},
	}
}

func TestEflagsMask(t *testing.T) {
	clear, set, pair, err := testEflags().Mask([]string{"cf", "!of"})
	if err != nil {
		t.Fatal(err)
	}
	if clear != 0x800 || set != 0x1 || !pair {
		t.Fatalf("Mask = (clear=%#x, set=%#x, pair=%v), want (0x800, 0x1, true)", clear, set, pair)
	}
}

func TestEflagsParse(t *testing.T) {
	efl := testEflags()

	v, err := efl.Parse("cf,zf")
	if err != nil {
		t.Fatal(err)
	}
	if v.IsPair() || v.Parts[0].Hex() != "41" {
		t.Fatalf("unexpected value %+v", v)
	}
	if efl.IsAndOrPair("cf,zf") {
		t.Fatal("set-only list reported as pair")
	}

	v, err = efl.Parse("nc,ov")
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsPair() || v.Parts[0].Hex() != "01" || v.Parts[1].Hex() != "0800" {
		t.Fatalf("unexpected pair %+v", v)
	}
	if !efl.IsAndOrPair("nc,ov") || !efl.IsAndOrPair("!cf") {
		t.Fatal("expected pair detection")
	}

	if _, err := efl.Parse("cf,bogus"); err == nil {
		t.Fatal("expected unknown flag error")
	}
}

func TestDictParse(t *testing.T) {
	cr0 := &Dict{TypeName: "cr0", Prefix: "X86_CR0_", Constants: map[string]uint64{"X86_CR0_PE": 1, "X86_CR0_PG": 0x80000000}}
	v, err := cr0.Parse("pe,pg")
	if err != nil {
		t.Fatal(err)
	}
	if got := v.Parts[0].Hex(); got != "80000001" {
		t.Fatalf("Hex = %s", got)
	}
	if _, err := cr0.Parse("pe,xx"); err == nil {
		t.Fatal("expected unknown flag error")
	}
}
