package opindex

import (
	"errors"
	"fmt"
	"testing"

	"github.com/robert-at-pretension-io/opspec/internal/catalog"
	"github.com/robert-at-pretension-io/opspec/internal/model"
)

func testMaps(t *testing.T) (*model.Context, map[string]int) {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	return model.NewContext(cat), cat.PrefixOrder
}

// mapWithSelector returns a catalog map using selector, or a scratch map
// when the catalog has none (no shipped map uses "11 /r").
func mapWithSelector(t *testing.T, ctx *model.Context, selector string) *model.Map {
	t.Helper()
	for _, m := range ctx.Maps {
		if m.Selector == selector {
			return m
		}
	}
	return model.NewMap(catalog.MapDef{Name: "scratch", Selector: selector}, ctx.Catalog.Selectors)
}

func TestIndexForBounded(t *testing.T) {
	ctx, order := testMaps(t)
	for _, sel := range []string{"byte", "byte+pfx", "/r", "mod /r", "memreg /r", "!11 /r", "11 /r", "11"} {
		m := mapWithSelector(t, ctx, sel)
		seen := map[int]int{}
		for b := 0; b < 256; b++ {
			for _, pfx := range []string{"none", "0x66", "0xf3", "0xf2"} {
				in := &model.Instruction{Opcode: fmt.Sprintf("0x%02x", b), Prefix: pfx}
				idx, err := IndexFor(m, in, order)
				if err != nil {
					var ae *AssertionError
					if !errors.As(err, &ae) {
						t.Fatalf("%s: non-assertion error %v", sel, err)
					}
					continue
				}
				if idx < 0 || idx >= m.TableSize() {
					t.Fatalf("%s: opcode %#x slot %d outside %d", sel, b, idx, m.TableSize())
				}
				if sel == "byte+pfx" {
					seen[b*4+order[pfx]] = idx
				}
			}
		}
		if sel == "byte+pfx" && len(seen) != 1024 {
			t.Fatalf("byte+pfx not injective: %d distinct keys", len(seen))
		}
	}
}

func TestIndexForSelectors(t *testing.T) {
	ctx, order := testMaps(t)
	tests := []struct {
		selector string
		opcode   string
		prefix   string
		want     int
	}{
		{"byte", "0x90", "", 0x90},
		{"byte+pfx", "0x10", "0xf2", 0x10*4 + 3},
		{"byte+pfx", "0x10", "none", 0x40},
		{"/r", "/5", "", 5},
		{"mod /r", "11/2", "", 0x1a},
		{"memreg /r", "11/2", "", 0xa},
		{"memreg /r", "/2", "", 2},
		{"!11 /r", "!11/6", "", 6},
		{"11 /r", "11/1", "", 1},
		{"11", "0xd5", "", 0x15},
	}
	for _, tt := range tests {
		m := mapWithSelector(t, ctx, tt.selector)
		got, err := IndexFor(m, &model.Instruction{Opcode: tt.opcode, Prefix: tt.prefix}, order)
		if err != nil || got != tt.want {
			t.Errorf("%s %s: IndexFor = %#x, %v; want %#x", tt.selector, tt.opcode, got, err, tt.want)
		}
	}
}

func TestIndexForModAssertions(t *testing.T) {
	ctx, order := testMaps(t)
	bad := []struct{ selector, opcode, prefix string }{
		{"!11 /r", "11/3", ""},
		{"11 /r", "/3", ""},
		{"11", "0x05", ""},
		{"byte", "/1", ""},
		{"byte+pfx", "0x10", ""},
	}
	for _, tt := range bad {
		m := mapWithSelector(t, ctx, tt.selector)
		_, err := IndexFor(m, &model.Instruction{Opcode: tt.opcode, Prefix: tt.prefix, File: "x", LineCreated: 1}, order)
		var ae *AssertionError
		if !errors.As(err, &ae) {
			t.Errorf("%s %s: err = %v, want assertion", tt.selector, tt.opcode, err)
		}
	}
}

func TestTableOrderCollisions(t *testing.T) {
	ctx, order := testMaps(t)
	m, _ := ctx.Map("one")
	a := &model.Instruction{Opcode: "0x90", Mnemonic: "nop"}
	b := &model.Instruction{Opcode: "0x90", Mnemonic: "pause"}
	c := &model.Instruction{Opcode: "0x91", Mnemonic: "xchg"}
	none := &model.Instruction{Mnemonic: "noopcode"}
	m.Instructions = []*model.Instruction{a, b, c, none}

	table, errs := TableOrder(m, order)
	if len(errs) != 0 {
		t.Fatal(errs)
	}
	if len(table) != 256 {
		t.Fatalf("table size %d", len(table))
	}
	if !table[0x90].Collision() || table[0x90][0] != a || table[0x90][1] != b {
		t.Fatalf("slot 0x90 = %v", table[0x90])
	}
	if table[0x91].Collision() || table[0x91][0] != c {
		t.Fatalf("slot 0x91 = %v", table[0x91])
	}
	if !table[0].Empty() {
		t.Fatal("slot 0 should be empty")
	}
}

func TestBoundsThreshold(t *testing.T) {
	mk := func(size, lead, tail int) []Slot {
		table := make([]Slot, size)
		for i := lead; i < size-tail; i++ {
			table[i] = Slot{&model.Instruction{}}
		}
		return table
	}

	// 300 slots: 10 unassigned is exactly 1/30th and stays full.
	start, end, short := Bounds(mk(300, 4, 6))
	if short || start != 0 || end != 300 {
		t.Fatalf("exact thirtieth: (%d, %d, %v), want full", start, end, short)
	}
	start, end, short = Bounds(mk(300, 5, 6))
	if !short || start != 5 || end != 294 {
		t.Fatalf("one more slot: (%d, %d, %v), want short 5..294", start, end, short)
	}
	start, end, short = Bounds(make([]Slot, 8))
	if !short || start != 0 || end != 0 {
		t.Fatalf("empty table: (%d, %d, %v)", start, end, short)
	}
}
