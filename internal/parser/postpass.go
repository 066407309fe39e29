package parser

import (
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/opspec/internal/diag"
	"github.com/robert-at-pretension-io/opspec/internal/model"
)

// CopyTests resolves @opcopytests references once every file is parsed.
// A reference is looked up by stats name first, then by function name.
func CopyTests(ctx *model.Context, diags *diag.List) {
	for _, dst := range ctx.Instructions {
		for _, ref := range dst.CopyTests {
			var srcs []*model.Instruction
			if in, ok := ctx.ByStat[ref]; ok {
				srcs = []*model.Instruction{in}
			} else {
				srcs = ctx.ByFunction[ref]
			}
			if len(srcs) == 0 {
				diags.Errorf(dst.File, dst.LineCreated, "@opcopytests reference %q not found", ref)
				continue
			}
			for _, src := range srcs {
				if src == dst {
					diags.Errorf(dst.File, dst.LineCreated, "@opcopytests reference %q matches the destination", ref)
					continue
				}
				dst.Tests = append(dst.Tests, src.Tests...)
			}
		}
	}
}

// ApplyOnlyTest drops the tests of every instruction not tagged @oponly
// when at least one instruction is.
func ApplyOnlyTest(ctx *model.Context) {
	if len(ctx.OnlyTest) == 0 {
		return
	}
	keep := make(map[*model.Instruction]bool, len(ctx.OnlyTest))
	for _, in := range ctx.OnlyTest {
		keep[in] = true
	}
	for _, in := range ctx.Instructions {
		if !keep[in] {
			in.Tests = nil
		}
	}
}

// LogStubTotals reports the overall share of stubbed instructions.
func LogStubTotals(ctx *model.Context, log logrus.FieldLogger) {
	total := len(ctx.Instructions)
	if total == 0 {
		return
	}
	stubs := 0
	for _, in := range ctx.Instructions {
		if in.Stub {
			stubs++
		}
	}
	log.WithFields(logrus.Fields{"stubs": stubs, "instructions": total}).
		Debugf("%d%% stubs in total", stubs*100/total)
}
