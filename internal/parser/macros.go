package parser

import (
	"strings"

	"github.com/robert-at-pretension-io/opspec/internal/catalog"
	"github.com/robert-at-pretension-io/opspec/internal/lexer"
	"github.com/robert-at-pretension-io/opspec/internal/model"
)

var (
	fnMacros = []string{
		"FNIEMOP_DEF",
		"FNIEMOP_STUB",
		"FNIEMOP_STUB_1",
		"FNIEMOP_UD_STUB",
		"FNIEMOP_UD_STUB_1",
	}
	vexDoneMacros = []string{
		"IEMOP_HLP_DONE_VEX_DECODING",
		"IEMOP_HLP_DONE_VEX_DECODING_L0",
		"IEMOP_HLP_DONE_VEX_DECODING_NO_VVVV",
		"IEMOP_HLP_DONE_VEX_DECODING_L0_AND_NO_VVVV",
	}
)

// mnemonicMacro describes the argument layout of one IEMOP_MNEMONIC*
// variant. ex variants carry explicit stats and assembly arguments.
type mnemonicMacro struct {
	name     string
	operands int
	ex       bool
}

var mnemonicMacros = func() []mnemonicMacro {
	var out []mnemonicMacro
	for _, ex := range []bool{true, false} {
		for n := 0; n <= 4; n++ {
			name := "IEMOP_MNEMONIC" + string(rune('0'+n))
			if ex {
				name += "EX"
			}
			out = append(out, mnemonicMacro{name: name, operands: n, ex: ex})
		}
	}
	return out
}()

// checkMacros looks for decoder macros in a code fragment and reconciles
// them with the instructions under construction.
func (p *Parser) checkMacros(code string) error {
	if strings.IndexByte(code, '(') <= 0 {
		return nil
	}

	call, err := p.Src.FindFirstCall(code, p.line, fnMacros...)
	if err != nil {
		return err
	}
	if call != nil {
		p.fnMacro(call)
		return nil
	}

	call, err = p.Src.FindFirstCall(code, p.line, vexDoneMacros...)
	if err != nil {
		return err
	}
	if call != nil {
		p.vexDoneMacro(call)
		return nil
	}

	call, err = p.Src.FindCall(code, p.line, "IEMOP_MNEMONIC")
	if err != nil {
		return err
	}
	if call != nil {
		if cur := p.b.Current(); len(cur) == 1 {
			if cur[0].Stats == "" {
				cur[0].Stats = call.Arg(0)
			}
			p.Ctx.DeriveFromStats(cur[0], call.Arg(0))
		}
	}

	for _, mm := range mnemonicMacros {
		call, err := p.Src.FindCall(code, p.line, mm.name)
		if err != nil {
			return err
		}
		if call != nil {
			p.mnemonicMacro(mm, call)
		}
	}
	return nil
}

func (p *Parser) fnMacro(call *lexer.Call) {
	if len(p.b.Current()) == 0 {
		p.b.Add(p.line)
	}
	for _, in := range p.b.Current() {
		if in.LineFnMacro == 0 {
			in.LineFnMacro = p.line
		} else {
			p.errorf("%s: already seen a FNIEMOP_XXX macro for %s", call.Name, in)
		}
	}
	stub := strings.Contains(call.Name, "STUB")
	udStub := strings.Contains(call.Name, "UD_STUB")
	for _, in := range p.b.Current() {
		if in.Function == "" {
			in.Function = call.Arg(0)
		}
		in.Stub = stub
		in.UdStub = udStub
	}
	if stub {
		p.b.Done(p.line)
	}
}

func (p *Parser) vexDoneMacro(call *lexer.Call) {
	if !strings.Contains(call.Name, "_L0") {
		return
	}
	for _, in := range p.b.Current() {
		if in.HasHint("vex_l_zero") {
			continue
		}
		line := in.LineMnemonicMacro
		if line == 0 {
			line = p.line
		}
		p.Diags.Warnf(p.Src.File, line, "Missing IEMOPHINT_VEX_L_ZERO! (%s on line %d)", call.Name, p.line)
		in.AddHint("vex_l_zero")
	}
}

// mnemonicArgs is the normalized argument set of an IEMOP_MNEMONIC* call.
type mnemonicArgs struct {
	macro    string
	stats    string
	form     string
	upper    string
	lower    string
	disHints string
	iemHints string
	operands []string
}

func (p *Parser) mnemonicMacro(mm mnemonicMacro, call *lexer.Call) {
	a := mnemonicArgs{macro: call.Name}
	if mm.ex {
		// (stats, asm, form, upper, lower, ops..., dishints, iemhints)
		a.stats, a.form, a.upper, a.lower = call.Arg(0), call.Arg(2), call.Arg(3), call.Arg(4)
		for i := 0; i < mm.operands; i++ {
			a.operands = append(a.operands, call.Arg(5+i))
		}
		a.disHints, a.iemHints = call.Arg(5+mm.operands), call.Arg(6+mm.operands)
	} else {
		// (form, upper, lower, ops..., dishints, iemhints)
		a.form, a.upper, a.lower = call.Arg(0), call.Arg(1), call.Arg(2)
		for i := 0; i < mm.operands; i++ {
			a.operands = append(a.operands, call.Arg(3+i))
		}
		a.disHints, a.iemHints = call.Arg(3+mm.operands), call.Arg(4+mm.operands)
		a.stats = a.lower
		if len(a.operands) > 0 {
			a.stats += "_" + strings.Join(a.operands, "_")
		}
	}
	p.applyMnemonic(a)
}

func (p *Parser) applyMnemonic(a mnemonicArgs) {
	if a.upper != strings.ToUpper(a.upper) {
		p.errorf("%s: bad a_Upper parameter: %s", a.macro, a.upper)
	}
	if a.lower != strings.ToLower(a.lower) {
		p.errorf("%s: bad a_Lower parameter: %s", a.macro, a.lower)
	}
	if strings.ToLower(a.upper) != a.lower {
		p.errorf("%s: a_Upper and a_Lower parameters does not match: %s vs %s", a.macro, a.upper, a.lower)
	}
	if !reMnemonic.MatchString(a.lower) {
		p.errorf("%s: invalid a_Lower: %s  (valid: %s)", a.macro, a.lower, reMnemonic)
	}
	if strings.Contains(a.iemHints, "IEMOPHINT_SKIP_PYTHON") {
		return
	}

	in := p.b.EnsureCurrent(p.line)
	if in.LineMnemonicMacro == 0 {
		in.LineMnemonicMacro = p.line
	} else {
		p.errorf("%s: already saw a IEMOP_MNEMONIC* macro on line %d for this instruction", a.macro, in.LineMnemonicMacro)
	}

	if in.Mnemonic == "" {
		in.Mnemonic = a.lower
	} else if in.Mnemonic != a.lower {
		p.errorf("%s: current instruction and a_Lower does not match: %s vs %s", a.macro, in.Mnemonic, a.lower)
	}

	p.reconcileOperands(in, a)
	p.reconcileForm(in, a)

	switch {
	case !reStats.MatchString(a.stats):
		p.errorf("%s: invalid a_Stats value: %s", a.macro, a.stats)
	case in.Stats == "":
		in.Stats = a.stats
	case in.Stats != a.stats:
		p.errorf("%s: mismatching @opstats and a_Stats value: %s vs %s", a.macro, in.Stats, a.stats)
	}

	p.mergeHints(in, a.macro, "a_fDisHints", "DISOPTYPE_", a.disHints)
	p.mergeHints(in, a.macro, "a_fIemHints", "IEMOPHINT_", a.iemHints)
}

func (p *Parser) reconcileOperands(in *model.Instruction, a mnemonicArgs) {
	if n := len(in.Operands); n != 0 && n != len(a.operands) {
		p.errorf("%s: number of operands given by @opN does not match macro: %d vs %d", a.macro, n, len(a.operands))
	}
	for i, typ := range a.operands {
		desc, ok := p.Ctx.Catalog.OpTypes[typ]
		where := desc.Where
		if !ok {
			p.errorf("%s: unknown a_Op%d value: %s", a.macro, i+1, typ)
			if i < len(in.Operands) {
				where, typ = in.Operands[i].Where, in.Operands[i].Type
			} else {
				where, typ = "reg", "Gb"
			}
		}
		switch {
		case i == len(in.Operands):
			in.Operands = append(in.Operands, model.Operand{Where: where, Type: typ})
		case i > len(in.Operands):
		case in.Operands[i].Where != where || in.Operands[i].Type != typ:
			p.errorf("%s: @op%d and a_Op%d mismatch: %s:%s vs %s:%s", a.macro, i+1, i+1, in.Operands[i].Where, in.Operands[i].Type, where, typ)
		}
	}
}

func (p *Parser) reconcileForm(in *model.Instruction, a mnemonicArgs) {
	cat := p.Ctx.Catalog
	form, ok := cat.IemForms[a.form]
	if !ok {
		p.errorf("%s: unknown a_Form value: %s", a.macro, a.form)
		return
	}
	if in.Encoding == "" {
		in.Encoding = form.Encoding
	} else if in.Encoding != form.Encoding {
		p.errorf("%s: current instruction @openc and a_Form does not match: %s vs %s (%s)", a.macro, in.Encoding, form.Encoding, a.form)
	}

	if form.Wheres != nil {
		if len(form.Wheres) > len(in.Operands) {
			p.errorf("%s: The a_Form=%s has a different operand count: %d (form) vs %d", a.macro, a.form, len(form.Wheres), len(in.Operands))
		} else {
			for i, where := range form.Wheres {
				op := in.Operands[i]
				if op.Where != where {
					p.errorf("%s: current instruction @op%d and a_Form location does not match: %s vs %s (%s)", a.macro, i+1, op.Where, where, a.form)
				}
				class := cat.OpTypes[op.Type].Form
				if !formAccepts(a.form, class) {
					p.errorf("%s: current instruction @op%d and a_Form type does not match: %s/%s vs %s", a.macro, i+1, op.Type, class, a.form)
				}
			}
			for i := len(form.Wheres); i < len(in.Operands); i++ {
				op := in.Operands[i]
				if op.Type != "FIXED" && cat.OpTypes[op.Type].Parser != "IDX_ParseFixedReg" {
					p.errorf("%s: Expected FIXED type operand #%d following operands given by a_Form=%s: %s (%s)", a.macro, i, a.form, op.Type, op.Where)
				}
			}
		}
	}

	if in.SubOpcode != "" && form.OpcodeSub != "" && !strings.Contains(in.SubOpcode, form.OpcodeSub) {
		p.errorf("%s: current instruction @opcodesub and a_Form does not match: %s vs %s (%s)", a.macro, in.SubOpcode, form.OpcodeSub, a.form)
	}
}

// formAccepts reports whether an operand of the given class may appear in
// an IEMOPFORM_ named form.
func formAccepts(form string, class catalog.Form) bool {
	switch class {
	case catalog.FormReg, catalog.FormMem:
		return strings.Contains(form, "_"+string(class))
	case catalog.FormFixed:
		return strings.Contains(form, string(class))
	case catalog.FormRM:
		return !strings.Contains(form, "_MEM") && !strings.Contains(form, "_REG")
	case catalog.FormVvvv:
		vexOrXop := strings.Contains(form, "VEX") || strings.Contains(form, "XOP")
		return vexOrXop && strings.Contains(strings.ReplaceAll(form, "VEX", ""), "V")
	}
	return true
}

func (p *Parser) mergeHints(in *model.Instruction, macro, param, prefix, value string) {
	for _, h := range strings.Split(value, "|") {
		h = strings.TrimSpace(h)
		short, ok := strings.CutPrefix(h, prefix)
		switch {
		case ok:
			short = strings.ToLower(short)
			if _, known := p.Ctx.Catalog.Hints[short]; known {
				in.AddHint(short)
			} else {
				p.errorf("%s: unknown %s value: %s", macro, param, h)
			}
		case h != "0":
			p.errorf("%s: expected %s value: %s", macro, param, h)
		}
	}
}
