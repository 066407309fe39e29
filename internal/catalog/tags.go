package catalog

import (
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
)

// TagKind identifies a recognized annotation tag. The set is closed: every
// kind has exactly one handler in the parser's dispatch switch.
type TagKind int

const (
	TagUnknown TagKind = iota
	TagBrief
	TagDesc
	TagMnemonic
	TagOperand
	TagPrefix
	TagMaps
	TagOpcode
	TagOpcodeSub
	TagEncoding
	TagFlTest
	TagFlModify
	TagFlUndef
	TagFlSet
	TagFlClear
	TagHints
	TagDisEnum
	TagMinCPU
	TagCPUID
	TagGroup
	TagUnused
	TagInvalid
	TagInvalidStyle
	TagTest
	TagTestNum
	TagTestIgnore
	TagCopyTests
	TagOnlyTest
	TagXcptType
	TagStats
	TagFunction
	TagDone
)

// MaxNumberedTests bounds @optestN and @optest[N].
const MaxNumberedTests = 48

var tagNames = map[string]TagKind{
	"@opbrief":      TagBrief,
	"@opdesc":       TagDesc,
	"@opmnemonic":   TagMnemonic,
	"@op1":          TagOperand,
	"@op2":          TagOperand,
	"@op3":          TagOperand,
	"@op4":          TagOperand,
	"@oppfx":        TagPrefix,
	"@opmaps":       TagMaps,
	"@opcode":       TagOpcode,
	"@opcodesub":    TagOpcodeSub,
	"@openc":        TagEncoding,
	"@opfltest":     TagFlTest,
	"@opflmodify":   TagFlModify,
	"@opflundef":    TagFlUndef,
	"@opflset":      TagFlSet,
	"@opflclear":    TagFlClear,
	"@ophints":      TagHints,
	"@opdisenum":    TagDisEnum,
	"@opmincpu":     TagMinCPU,
	"@opcpuid":      TagCPUID,
	"@opgroup":      TagGroup,
	"@opunused":     TagUnused,
	"@opinvalid":    TagInvalid,
	"@opinvlstyle":  TagInvalidStyle,
	"@optest":       TagTest,
	"@optestign":    TagTestIgnore,
	"@optestignore": TagTestIgnore,
	"@opcopytests":  TagCopyTests,
	"@oponly":       TagOnlyTest,
	"@oponlytest":   TagOnlyTest,
	"@opxcpttype":   TagXcptType,
	"@opstats":      TagStats,
	"@opfunction":   TagFunction,
	"@opdone":       TagDone,
}

// LookupTag classifies a lower-cased tag. For numbered tests the test
// number is returned as well.
func LookupTag(tag string) (TagKind, int) {
	if k, ok := tagNames[tag]; ok {
		return k, 0
	}
	if n, ok := numberedTest(tag); ok {
		return TagTestNum, n
	}
	return TagUnknown, 0
}

func numberedTest(tag string) (int, bool) {
	rest, ok := strings.CutPrefix(tag, "@optest")
	if !ok || rest == "" {
		return 0, false
	}
	if strings.HasPrefix(rest, "[") && strings.HasSuffix(rest, "]") {
		rest = rest[1 : len(rest)-1]
	}
	if rest == "" || strings.TrimLeft(rest, "0123456789") != "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n >= MaxNumberedTests || strconv.Itoa(n) != rest {
		return 0, false
	}
	return n, true
}

// TagNames returns all fixed tag names, sorted.
func TagNames() []string {
	return SortedKeys(tagNames)
}

// Suggest returns the candidate closest to s by edit distance, or "" when
// nothing is within maxDist.
func Suggest(s string, candidates []string, maxDist int) string {
	best, bestDist := "", maxDist+1
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	for _, c := range sorted {
		if d := levenshtein.ComputeDistance(s, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
