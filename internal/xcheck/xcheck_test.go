package xcheck

import (
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/opspec/internal/catalog"
	"github.com/robert-at-pretension-io/opspec/internal/model"
)

func newContext(t *testing.T) *model.Context {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default() error = %v", err)
	}
	return model.NewContext(cat)
}

func place(t *testing.T, ctx *model.Context, mapName, opcode, prefix, mnemonic string, ops ...string) *model.Instruction {
	t.Helper()
	m, ok := ctx.Map(mapName)
	if !ok {
		t.Fatalf("no map %q", mapName)
	}
	in := ctx.NewInstruction("x.cpp.h", len(ctx.Instructions)+1)
	in.Mnemonic = mnemonic
	in.Opcode = opcode
	in.Prefix = prefix
	if len(ops) > 0 {
		in.Encoding = "ModR/M"
	}
	for _, typ := range ops {
		in.Operands = append(in.Operands, model.Operand{Where: ctx.Catalog.OpTypes[typ].Where, Type: typ})
	}
	in.Maps = []*model.Map{m}
	m.Instructions = append(m.Instructions, in)
	return in
}

func silent() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestEncode(t *testing.T) {
	ctx := newContext(t)
	tests := []struct {
		name    string
		mapName string
		opcode  string
		prefix  string
		ops     []string
		want    []byte
	}{
		{"one byte modrm", "one", "0x00", "", []string{"Eb", "Gb"}, []byte{0x00, 0xc0}},
		{"one byte plain", "one", "0x90", "", nil, []byte{0x90}},
		{"group reg form", "grp1_80", "/5", "", []string{"Eb", "Ib"}, []byte{0x80, 0xe8}},
		{"two byte prefixed", "two0f", "0x10", "0x66", []string{"Vpd", "Wpd"}, []byte{0x66, 0x0f, 0x10, 0xc0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := ctx.Map(tt.mapName)
			in := place(t, ctx, tt.mapName, tt.opcode, tt.prefix, "x", tt.ops...)
			got, err := Encode(m, in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if diff := cmp.Diff(tt.want, got[:len(got)-padding]); diff != "" {
				t.Fatalf("bytes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCheckReportsMismatches(t *testing.T) {
	ctx := newContext(t)
	place(t, ctx, "one", "0x00", "", "add", "Eb", "Gb")
	place(t, ctx, "one", "0x9c", "", "pushf")
	bad := place(t, ctx, "one", "0x28", "", "add", "Eb", "Gb")
	stub := place(t, ctx, "one", "0x30", "", "add", "Eb", "Gb")
	stub.Stub = true
	place(t, ctx, "grp1_80", "/5", "", "sub", "Eb", "Ib")
	place(t, ctx, "two0f", "0xa2", "", "cpuid")

	findings := Check(ctx, silent())
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %v", findings)
	}
	if findings[0].Instr != bad || findings[0].Decoded != "sub" {
		t.Fatalf("unexpected finding %v", findings[0])
	}
}

func TestSameMnemonic(t *testing.T) {
	for _, tc := range []struct {
		mnemonic, decoded string
		want              bool
	}{
		{"add", "add", true},
		{"MOVS", "movsd", true},
		{"cbw", "cwde", true},
		{"add", "adc", false},
		{"mov", "movzx", false},
	} {
		if got := sameMnemonic(tc.mnemonic, tc.decoded); got != tc.want {
			t.Errorf("sameMnemonic(%q, %q) = %v, want %v", tc.mnemonic, tc.decoded, got, tc.want)
		}
	}
}
