package model

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestViewFollowsCopies(t *testing.T) {
	ctx := newTestContext(t)
	one := mustMap(t, ctx, "one")
	in := ctx.NewInstruction("one.cpp.h", 7)
	in.Mnemonic = "add"
	in.Opcode = "0x00"
	in.Maps = []*Map{one}
	in.FlModify = []string{"cf", "zf"}
	in.Tests = []*Test{{}}

	clone := ctx.Clone(in, one, "0x02", "")
	v := ctx.View(clone)
	if v.Parent != "one.cpp.h:7" {
		t.Fatalf("parent = %q", v.Parent)
	}
	if diff := cmp.Diff([]string{"one"}, v.Maps); diff != "" {
		t.Fatalf("maps (-want +got):\n%s", diff)
	}
	if v.Flags.Modified == 0 {
		t.Fatal("modified mask not computed")
	}

	var buf bytes.Buffer
	ctx.Dump(&buf)
	out := buf.String()
	if got := strings.Count(out, "(model.InstructionView)"); got != 2 {
		t.Fatalf("dumped %d instructions, want 2:\n%s", got, out)
	}
	if strings.Contains(out, "0xc0") {
		t.Fatalf("dump should not contain pointer addresses:\n%s", out)
	}
}
