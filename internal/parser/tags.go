package parser

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/opspec/internal/catalog"
	"github.com/robert-at-pretension-io/opspec/internal/model"
	"github.com/robert-at-pretension-io/opspec/internal/optest"
)

const maxBriefLen = 180

func isOpcodeByte(s string) bool {
	if len(s) != 4 || !strings.HasPrefix(s, "0x") {
		return false
	}
	return strings.Trim(s[2:], "0123456789abcdefABCDEF") == ""
}

func isRegDigit(b byte) bool { return b >= '0' && b <= '8' }

func (p *Parser) tagBrief(in *model.Instruction, tag string, secs [][]string, line int) {
	brief := flatten(secs)
	if brief == "" {
		p.errorComment(line, "%s: value required", tag)
		return
	}
	if !strings.HasSuffix(brief, ".") {
		brief += "."
	}
	if len(brief) > maxBriefLen {
		p.errorComment(line, "%s: value too long (max %d chars): %s", tag, maxBriefLen, brief)
		return
	}
	dot := strings.IndexByte(brief, '.')
	for dot >= 0 && dot < len(brief)-1 && brief[dot+1] != ' ' {
		next := strings.IndexByte(brief[dot+1:], '.')
		if next < 0 {
			dot = -1
			break
		}
		dot += 1 + next
	}
	if dot >= 0 && dot != len(brief)-1 {
		p.errorComment(line, "%s: only one sentence: %s", tag, brief)
		return
	}
	if in.Brief != "" {
		p.errorComment(line, `%s: attempting to overwrite brief "%s" with "%s"`, tag, in.Brief, brief)
		return
	}
	in.Brief = brief
}

func (p *Parser) tagDesc(in *model.Instruction, secs [][]string) {
	in.Desc = append(in.Desc, flattenSections(secs)...)
}

func (p *Parser) tagMnemonic(in *model.Instruction, tag string, secs [][]string, line int) {
	mnemonic := flatten(secs)
	if !reMnemonic.MatchString(mnemonic) {
		p.errorComment(line, `%s: invalid mnemonic name: "%s"`, tag, mnemonic)
		return
	}
	if in.Mnemonic != "" {
		p.errorComment(line, `%s: attempting to overwrite mnemonic "%s" with "%s"`, tag, in.Mnemonic, mnemonic)
		return
	}
	in.Mnemonic = mnemonic
}

func (p *Parser) tagOperand(in *model.Instruction, tag string, secs [][]string, line int) {
	idx := int(tag[len(tag)-1] - '1')
	flat := flatten(secs)
	var where, typ string
	switch parts := strings.Split(flat, ":"); len(parts) {
	case 1:
		typ = parts[0]
	case 2:
		where, typ = parts[0], parts[1]
	default:
		p.errorComment(line, `expected %s value on format "[<where>:]<type>" not "%s"`, tag, flat)
		return
	}

	cat := p.Ctx.Catalog
	desc, ok := cat.OpTypes[typ]
	if !ok {
		p.errorComment(line, `%s: invalid type value "%s", valid: %s`, tag, typ, strings.Join(catalog.SortedKeys(cat.OpTypes), ", "))
		return
	}
	if where == "" {
		where = desc.Where
	} else if !cat.IsLocation(where) {
		p.errorComment(line, `%s: invalid where value "%s", valid: %s`, tag, where, strings.Join(cat.OpLocations, ", "))
		return
	}

	for len(in.Operands) <= idx {
		in.Operands = append(in.Operands, model.Operand{})
	}
	if old := in.Operands[idx]; !old.IsZero() {
		p.errorComment(line, `%s: attempting to overwrite "%s:%s" with "%s:%s"`, tag, old.Where, old.Type, where, typ)
		return
	}
	in.Operands[idx] = model.Operand{Where: where, Type: typ}
}

func (p *Parser) tagMaps(in *model.Instruction, tag string, secs [][]string, line int) {
	flat := flattenAll(secs, ",", ",")
	if flat == "" {
		p.errorComment(line, "%s: value required", tag)
		return
	}
	names := strings.Split(flat, ",")
	var maps []*model.Map
	for i, name := range names {
		name = strings.TrimSpace(name)
		names[i] = name
		m, ok := p.Ctx.Map(name)
		if !ok {
			p.errorComment(line, "%s: invalid map value: %s  (valid values: %s)", tag, name, strings.Join(p.Ctx.MapNames(), ", "))
			return
		}
		maps = append(maps, m)
	}
	for _, m := range in.Maps {
		for _, name := range names {
			if m.Name == name {
				p.errorComment(line, "%s: duplicate map assignment: %s", tag, name)
				return
			}
		}
	}
	for _, m := range maps {
		dup := false
		for _, have := range in.Maps {
			if have == m {
				dup = true
			}
		}
		if dup {
			p.errorComment(line, "%s: duplicate map assignment (input): %s", tag, m.Name)
			continue
		}
		in.Maps = append(in.Maps, m)
	}
}

func (p *Parser) tagPrefix(in *model.Instruction, tag string, secs [][]string, line int) {
	words := strings.Fields(flatten(secs))
	switch {
	case len(words) == 0:
		p.errorComment(line, "%s: value required", tag)
		return
	case len(words) > 1:
		p.errorComment(line, "%s: max one prefix: %s", tag, strings.Join(words, " "))
		return
	}

	pfx := strings.ToLower(words[0])
	switch pfx {
	case "none":
	case "n/a":
		pfx = ""
	default:
		if len(pfx) == 2 {
			pfx = "0x" + pfx
		}
		if !isOpcodeByte(pfx) {
			p.errorComment(line, "%s: invalid prefix: %s", tag, pfx)
			return
		}
		if !p.Ctx.Catalog.IsPrefix(pfx) {
			p.errorComment(line, "%s: invalid prefix: %s (valid %s)", tag, pfx, strings.Join(p.Ctx.Catalog.Prefixes, ", "))
			return
		}
	}
	if in.Prefix != "" {
		p.errorComment(line, `%s: attempting to overwrite "%s" with "%s"`, tag, in.Prefix, pfx)
		return
	}
	in.Prefix = pfx
}

func (p *Parser) tagOpcode(in *model.Instruction, tag string, secs [][]string, line int) {
	op := flatten(secs)
	last := byte(0)
	if op != "" {
		last = op[len(op)-1]
	}
	valid := isOpcodeByte(op) ||
		len(op) == 2 && strings.HasPrefix(op, "/") && isRegDigit(last) ||
		len(op) == 4 && strings.HasPrefix(op, "11/") && isRegDigit(last) ||
		len(op) == 5 && strings.HasPrefix(op, "!11/") && isRegDigit(last)
	if !valid {
		p.errorComment(line, "%s: invalid opcode: %s", tag, op)
		return
	}
	if in.Opcode != "" {
		p.errorComment(line, `%s: attempting to overwrite "%s" with "%s"`, tag, in.Opcode, op)
		return
	}
	in.Opcode = op
}

func (p *Parser) tagOpcodeSub(in *model.Instruction, tag string, secs [][]string, line int) {
	raw := flatten(secs)
	sub, ok := p.Ctx.Catalog.SubOpcodes[raw]
	if !ok {
		p.errorComment(line, "%s: invalid sub opcode: %s  (valid: %s)", tag, raw, strings.Join(catalog.SortedKeys(p.Ctx.Catalog.SubOpcodes), ", "))
		return
	}
	if in.SubOpcode != "" {
		p.errorComment(line, `%s: attempting to overwrite "%s" with "%s"`, tag, in.SubOpcode, sub.Value)
		return
	}
	if sub.Value != raw && strings.HasSuffix(raw, "vex.l=1") {
		p.Log.WithFields(logrus.Fields{"file": p.Src.File, "line": line}).
			Warnf("%s: %s is recorded as %s", tag, raw, sub.Value)
	}
	in.SubOpcode = sub.Value
}

func (p *Parser) tagEncoding(in *model.Instruction, tag string, secs [][]string, line int) {
	enc := flatten(secs)
	_, known := p.Ctx.Catalog.Encodings[enc]
	_, isMap := p.Ctx.Map(enc)
	if !known && !isMap && !isOpcodeByte(enc) {
		p.errorComment(line, "%s: invalid encoding: %s", tag, enc)
		return
	}
	if in.Encoding != "" {
		p.errorComment(line, `%s: attempting to overwrite "%s" with "%s"`, tag, in.Encoding, enc)
		return
	}
	in.Encoding = enc
}

func eflagsField(in *model.Instruction, kind catalog.TagKind) *[]string {
	switch kind {
	case catalog.TagFlTest:
		return &in.FlTest
	case catalog.TagFlModify:
		return &in.FlModify
	case catalog.TagFlUndef:
		return &in.FlUndefined
	case catalog.TagFlSet:
		return &in.FlSet
	default:
		return &in.FlClear
	}
}

func (p *Parser) tagEflags(in *model.Instruction, tag string, kind catalog.TagKind, secs [][]string, line int) {
	flags := strings.Split(flattenAll(secs, ",", ","), ",")
	if len(flags) == 1 && strings.EqualFold(strings.TrimSpace(flags[0]), "none") {
		flags = []string{}
	} else {
		ok := true
		for i, f := range flags {
			f = strings.TrimSpace(f)
			if _, known := p.Ctx.Catalog.EflagsMnemonics[f]; !known {
				p.errorComment(line, "%s: invalid EFLAGS value: %s", tag, f)
				ok = false
			}
			flags[i] = f
		}
		if !ok {
			return
		}
	}

	field := eflagsField(in, kind)
	if *field != nil {
		p.errorComment(line, `%s: attempting to overwrite "%s" with "%s"`, tag, strings.Join(*field, ","), strings.Join(flags, ","))
		return
	}
	*field = flags
}

// wordList splits a comma or space separated value. A lone "none" yields
// an empty list.
func wordList(secs [][]string) []string {
	words := strings.Fields(strings.ReplaceAll(flattenAll(secs, " ", " "), ",", " "))
	if len(words) == 1 && strings.EqualFold(words[0], "none") {
		return nil
	}
	return words
}

func (p *Parser) tagHints(in *model.Instruction, tag string, secs [][]string, line int) {
	hints := wordList(secs)
	ok := true
	for _, h := range hints {
		if _, known := p.Ctx.Catalog.Hints[h]; !known {
			p.errorComment(line, "%s: invalid hint value: %s", tag, h)
			ok = false
		}
	}
	if !ok {
		return
	}
	for _, h := range hints {
		if !in.AddHint(h) {
			p.errorComment(line, "%s: duplicate hint: %s", tag, h)
		}
	}
}

func (p *Parser) tagDisEnum(in *model.Instruction, tag string, secs [][]string, line int) {
	words := strings.Fields(flatten(secs))
	if len(words) != 1 {
		p.errorComment(line, "%s: expected exactly one value: %s", tag, strings.Join(words, " "))
		if len(words) == 0 {
			return
		}
	}
	enum := words[0]
	if !reDisEnum.MatchString(enum) {
		p.errorComment(line, "%s: invalid disassembler OP_XXXX enum: %s (pattern: %s)", tag, enum, reDisEnum)
		return
	}
	if in.DisEnum != "" {
		p.errorComment(line, `%s: attempting to overwrite "%s" with "%s"`, tag, in.DisEnum, enum)
		return
	}
	in.DisEnum = enum
}

func (p *Parser) tagMinCPU(in *model.Instruction, tag string, secs [][]string, line int) {
	cpus := strings.Fields(flatten(secs))
	switch {
	case len(cpus) == 0:
		p.errorComment(line, "%s: value required", tag)
		return
	case len(cpus) > 1:
		p.errorComment(line, "%s: exactly one CPU name, please: %s", tag, strings.Join(cpus, " "))
	}
	cpu := cpus[0]
	if !p.Ctx.Catalog.IsCPU(cpu) {
		p.errorComment(line, "%s: invalid CPU name: %s  (names: %s)", tag, cpu, strings.Join(p.Ctx.Catalog.CPUNames, ","))
		return
	}
	if in.MinCPU != "" && in.MinCPU != cpu {
		p.errorComment(line, `%s: attempting to overwrite "%s" with "%s"`, tag, in.MinCPU, cpu)
		return
	}
	in.MinCPU = cpu
}

func (p *Parser) tagCPUID(in *model.Instruction, tag string, secs [][]string, line int) {
	ids := wordList(secs)
	ok := true
	for _, id := range ids {
		if _, known := p.Ctx.Catalog.CPUIDFlags[id]; !known {
			p.errorComment(line, "%s: invalid CPUID value: %s", tag, id)
			ok = false
		}
	}
	if !ok {
		return
	}
	for _, id := range ids {
		dup := false
		for _, have := range in.CPUIDs {
			dup = dup || have == id
		}
		if dup {
			p.errorComment(line, "%s: duplicate CPUID: %s", tag, id)
			continue
		}
		in.CPUIDs = append(in.CPUIDs, id)
	}
}

func (p *Parser) tagGroup(in *model.Instruction, tag string, secs [][]string, line int) {
	groups := strings.Fields(flatten(secs))
	if len(groups) != 1 {
		p.errorComment(line, "%s: exactly one group, please: %s", tag, strings.Join(groups, " "))
		return
	}
	group := groups[0]
	if !reGroup.MatchString(group) {
		p.errorComment(line, "%s: invalid group name: %s (valid: %s)", tag, group, reGroup)
		return
	}
	if in.Group != "" {
		p.errorComment(line, `%s: attempting to overwrite "%s" with "%s"`, tag, in.Group, group)
		return
	}
	in.Group = group
}

func (p *Parser) tagInvalidStyle(in *model.Instruction, tag string, kind catalog.TagKind, secs [][]string, line int) {
	styles := strings.Fields(flatten(secs))
	if len(styles) != 1 {
		p.errorComment(line, "%s: exactly one invalid behaviour style, please: %s", tag, strings.Join(styles, " "))
		return
	}
	style := styles[0]
	if !p.Ctx.Catalog.IsInvalidStyle(style) {
		p.errorComment(line, "%s: invalid invalid behaviour style: %s (valid: %s)", tag, style, strings.Join(p.Ctx.Catalog.InvalidStyles, ", "))
		return
	}
	if in.InvalidStyle != "" {
		p.errorComment(line, `%s: attempting to overwrite "%s" with "%s" (only one @opunused, @opinvalid, @opinvlstyle)`, tag, in.InvalidStyle, style)
		return
	}
	in.InvalidStyle = style
	switch kind {
	case catalog.TagUnused:
		in.Unused = true
	case catalog.TagInvalid:
		in.Invalid = true
	}
}

func (p *Parser) tagTest(in *model.Instruction, tag string, secs [][]string, line int) {
	for _, sec := range secs {
		clause := flattenAll([][]string{sec}, " ", "\n")
		if clause == "" {
			p.errorComment(line, "%s: missing value", tag)
			continue
		}
		test, errs := p.tests.Compile(clause)
		for _, msg := range errs {
			p.errorComment(line, "%s: %s", tag, msg)
		}
		if test != nil {
			test.Instr = in
			in.Tests = append(in.Tests, test)
		}
	}
}

func (p *Parser) tagTestNum(in *model.Instruction, tag string, num int, secs [][]string, line int) {
	if err := optest.CheckNumber(num, len(in.Tests)); err != nil {
		p.errorComment(line, "%s: %v", tag, err)
	}
	p.tagTest(in, tag, secs, line)
}

func (p *Parser) tagCopyTests(in *model.Instruction, tag string, secs [][]string, line int) {
	refs := strings.Fields(flatten(secs))
	if len(refs) == 0 {
		p.errorComment(line, "%s: requires at least one reference value", tag)
		return
	}
	for _, ref := range refs {
		dup := false
		for _, have := range in.CopyTests {
			dup = dup || have == ref
		}
		switch {
		case dup:
			p.errorComment(line, `%s: ignoring duplicate "%s"`, tag, ref)
		case reStats.MatchString(ref) || reFunction.MatchString(ref):
			in.CopyTests = append(in.CopyTests, ref)
		default:
			p.errorComment(line, `%s: invalid instruction reference (opstat or function) "%s" (valid: %s or %s)`, tag, ref, reStats, reFunction)
		}
	}
}

func (p *Parser) tagOnlyTest(in *model.Instruction, tag string, secs [][]string, line int) {
	if v := flatten(secs); v != "" {
		p.errorComment(line, "%s: does not take any value: %s", tag, v)
		return
	}
	p.Ctx.AddOnlyTest(in)
}

func (p *Parser) tagXcptType(in *model.Instruction, tag string, secs [][]string, line int) {
	types := strings.Fields(flatten(secs))
	if len(types) != 1 {
		p.errorComment(line, "%s: exactly one exception type, please: %s", tag, strings.Join(types, " "))
		return
	}
	typ := types[0]
	if !p.Ctx.Catalog.IsXcptType(typ) {
		p.errorComment(line, "%s: invalid exception type: %s (valid: %s)", tag, typ, strings.Join(p.Ctx.Catalog.XcptTypes, ", "))
		return
	}
	if in.XcptType != "" {
		p.errorComment(line, `%s: attempting to overwrite "%s" with "%s" (only one @opxcpttype)`, tag, in.XcptType, typ)
		return
	}
	in.XcptType = typ
}

func (p *Parser) tagFunction(in *model.Instruction, tag string, secs [][]string, line int) {
	fn := flatten(secs)
	if !reFunction.MatchString(fn) {
		p.errorComment(line, `%s: invalid VMM function name: "%s" (valid: %s)`, tag, fn, reFunction)
		return
	}
	if in.Function != "" {
		p.errorComment(line, `%s: attempting to overwrite VMM function name "%s" with "%s"`, tag, in.Function, fn)
		return
	}
	in.Function = fn
}

func (p *Parser) tagStats(in *model.Instruction, tag string, secs [][]string, line int) {
	stats := flatten(secs)
	if !reStats.MatchString(stats) {
		p.errorComment(line, `%s: invalid VMM statistics name: "%s" (valid: %s)`, tag, stats, reStats)
		return
	}
	if in.Stats != "" {
		p.errorComment(line, `%s: attempting to overwrite VMM statistics base name "%s" with "%s"`, tag, in.Stats, stats)
		return
	}
	in.Stats = stats
}

func (p *Parser) tagDone(tag string, secs [][]string, line int) {
	if v := flatten(secs); v != "" {
		p.errorComment(line, `%s: takes no value, found: "%s"`, tag, v)
		return
	}
	p.b.Done(p.commentLine + line)
}
