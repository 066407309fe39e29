package parser

import "strings"

// tagBlock is one tag and its value, split into blank-line separated
// sections. line is the tag's offset within the comment.
type tagBlock struct {
	tag      string
	sections [][]string
	line     int
}

// commentLines strips leading '*' decoration and surrounding blank lines.
// It returns the lines and how many leading lines were dropped.
func commentLines(text string) ([]string, int) {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		l = strings.TrimLeft(l, " \t")
		l = strings.TrimLeft(l, "*")
		lines[i] = strings.TrimLeft(l, " \t")
	}
	skipped := 0
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
		skipped++
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, skipped
}

// splitTags groups lines into tag blocks. Text before the first tag goes
// into a block with the pseudo tag "@default".
func splitTags(lines []string) []tagBlock {
	cur := tagBlock{tag: "@default", sections: [][]string{nil}}
	var blocks []tagBlock
	flush := func() {
		n := len(cur.sections)
		if n > 1 && len(cur.sections[n-1]) == 0 {
			cur.sections = cur.sections[:n-1]
		}
		blocks = append(blocks, cur)
	}
	for i, line := range lines {
		if !strings.HasPrefix(line, "@") {
			last := len(cur.sections) - 1
			switch {
			case line != "":
				cur.sections[last] = append(cur.sections[last], line)
			case len(cur.sections[last]) > 0:
				cur.sections = append(cur.sections, nil)
			}
			continue
		}
		flush()
		tag, rest := line, ""
		if cut := strings.IndexAny(line, " \t"); cut >= 0 {
			tag, rest = line[:cut], strings.TrimSpace(line[cut:])
		}
		var first []string
		if rest != "" {
			first = []string{rest}
		}
		cur = tagBlock{tag: strings.ToLower(tag), sections: [][]string{first}, line: i}
	}
	flush()
	return blocks
}

// flattenSections joins each section's lines with spaces, one string per
// non-empty section.
func flattenSections(sections [][]string) []string {
	var out []string
	for _, lines := range sections {
		if len(lines) > 0 {
			out = append(out, joinTrimmed(lines, " "))
		}
	}
	return out
}

// flattenAll joins every section into one string.
func flattenAll(sections [][]string, lineSep, sectionSep string) string {
	if len(sections) == 1 && len(sections[0]) == 1 {
		return strings.TrimSpace(sections[0][0])
	}
	var b strings.Builder
	for i, lines := range sections {
		if len(lines) == 0 {
			continue
		}
		if i > 0 {
			b.WriteString(sectionSep)
		}
		b.WriteString(joinTrimmed(lines, lineSep))
	}
	return b.String()
}

func flatten(sections [][]string) string { return flattenAll(sections, " ", "\n") }

func joinTrimmed(lines []string, sep string) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = strings.TrimSpace(l)
	}
	return strings.Join(parts, sep)
}
