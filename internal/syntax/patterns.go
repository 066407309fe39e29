package syntax

import (
	"regexp"
	"strings"
)

var (
	// Block comments, non-greedy across lines.
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)

	lineCommentPattern = regexp.MustCompile(`//[^\n]*`)

	tagPattern = regexp.MustCompile(`@op[a-z0-9]*`)
)

// scanSimple counts comments without a grammar. String literals are not
// recognized, so comment markers inside strings are counted too.
func scanSimple(file string, content []byte) Result {
	res := Result{File: file, Fallback: true}

	rest := blockCommentPattern.ReplaceAllFunc(content, func(m []byte) []byte {
		res.Comments++
		if tagPattern.Match(m) {
			res.Tagged++
		}
		// Keep line structure for the line-comment pass.
		return []byte(strings.Repeat("\n", strings.Count(string(m), "\n")))
	})
	for _, m := range lineCommentPattern.FindAll(rest, -1) {
		res.Comments++
		if tagPattern.Match(m) {
			res.Tagged++
		}
	}
	return res
}
