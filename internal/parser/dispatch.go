package parser

import (
	"strings"

	"github.com/robert-at-pretension-io/opspec/internal/catalog"
)

func (p *Parser) parseComment(text string, line int) {
	if !strings.Contains(text, "Opcode") && !strings.Contains(text, "@") {
		return
	}
	lines, skipped := commentLines(text)
	p.commentLine = line + skipped
	if len(lines) == 0 {
		return
	}
	if strings.HasPrefix(lines[0], "Opcode ") {
		p.oldStyleOpcode(lines[0])
	}

	opTags := 0
	flatDefault := ""
	for _, blk := range splitTags(lines) {
		kind, num := catalog.LookupTag(blk.tag)
		switch {
		case kind != catalog.TagUnknown:
			p.dispatch(blk, kind, num)
			opTags++
		case blk.tag == "@default":
			flatDefault = flatten(blk.sections)
		case strings.HasPrefix(blk.tag, "@op"):
			if s := catalog.Suggest(blk.tag, catalog.TagNames(), 2); s != "" {
				p.errorComment(blk.line, "Unknown tag: %s (did you mean %s?)", blk.tag, s)
			} else {
				p.errorComment(blk.line, "Unknown tag: %s", blk.tag)
			}
		case blk.tag == "@encoding" || blk.tag == "@opencoding":
			p.errorComment(blk.line, `Did you mean "@openc" rather than "%s"?`, blk.tag)
		default:
			if k, _ := catalog.LookupTag("@op" + blk.tag[1:]); k != catalog.TagUnknown {
				p.errorComment(blk.line, `Did you mean "@op%s" rather than "%s"?`, blk.tag[1:], blk.tag)
			}
		}
	}
	if opTags > 0 && flatDefault != "" {
		p.errorComment(0, "Untagged comment text is not allowed with @op*: %s", flatDefault)
	}
}

// oldStyleOpcode records "Opcode 0x0f 0x12 /4" headers on the current
// instructions.
func (p *Parser) oldStyleOpcode(first string) {
	words := strings.Fields(first)
	if len(words) < 2 || words[0] != "Opcode" || !strings.HasPrefix(strings.ToLower(words[1]), "0x") {
		return
	}
	words = words[1:]
	for i, w := range words {
		if strings.HasPrefix(w, "0X") {
			words[i] = "0x" + w[2:]
		}
	}
	raw := strings.Join(words, " ")
	for _, in := range p.b.Current() {
		if in.RawOldOpcodes == "" {
			in.RawOldOpcodes = raw
		}
	}
}

func (p *Parser) dispatch(blk tagBlock, kind catalog.TagKind, num int) {
	tag, secs, line := blk.tag, blk.sections, blk.line
	switch kind {
	case catalog.TagDone:
		p.tagDone(tag, secs, line)
		return
	case catalog.TagTestIgnore:
		return
	}

	in := p.b.CountTag(p.commentLine + line)
	switch kind {
	case catalog.TagBrief:
		p.tagBrief(in, tag, secs, line)
	case catalog.TagDesc:
		p.tagDesc(in, secs)
	case catalog.TagMnemonic:
		p.tagMnemonic(in, tag, secs, line)
	case catalog.TagOperand:
		p.tagOperand(in, tag, secs, line)
	case catalog.TagPrefix:
		p.tagPrefix(in, tag, secs, line)
	case catalog.TagMaps:
		p.tagMaps(in, tag, secs, line)
	case catalog.TagOpcode:
		p.tagOpcode(in, tag, secs, line)
	case catalog.TagOpcodeSub:
		p.tagOpcodeSub(in, tag, secs, line)
	case catalog.TagEncoding:
		p.tagEncoding(in, tag, secs, line)
	case catalog.TagFlTest, catalog.TagFlModify, catalog.TagFlUndef, catalog.TagFlSet, catalog.TagFlClear:
		p.tagEflags(in, tag, kind, secs, line)
	case catalog.TagHints:
		p.tagHints(in, tag, secs, line)
	case catalog.TagDisEnum:
		p.tagDisEnum(in, tag, secs, line)
	case catalog.TagMinCPU:
		p.tagMinCPU(in, tag, secs, line)
	case catalog.TagCPUID:
		p.tagCPUID(in, tag, secs, line)
	case catalog.TagGroup:
		p.tagGroup(in, tag, secs, line)
	case catalog.TagUnused, catalog.TagInvalid, catalog.TagInvalidStyle:
		p.tagInvalidStyle(in, tag, kind, secs, line)
	case catalog.TagTestNum:
		p.tagTestNum(in, tag, num, secs, line)
	case catalog.TagTest:
		p.tagTest(in, tag, secs, line)
	case catalog.TagCopyTests:
		p.tagCopyTests(in, tag, secs, line)
	case catalog.TagOnlyTest:
		p.tagOnlyTest(in, tag, secs, line)
	case catalog.TagXcptType:
		p.tagXcptType(in, tag, secs, line)
	case catalog.TagStats:
		p.tagStats(in, tag, secs, line)
	case catalog.TagFunction:
		p.tagFunction(in, tag, secs, line)
	}
}
