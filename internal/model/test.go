package model

import (
	"strings"

	"github.com/robert-at-pretension-io/opspec/internal/value"
)

// Selector restricts when a test applies, e.g. size==o32.
type Selector struct {
	Variable string `json:"variable"`
	Op       string `json:"op"`
	Value    string `json:"value"`
}

// InOut is one input or output assignment of a test.
type InOut struct {
	Field  string      `json:"field"`
	Op     string      `json:"op"`
	Value  string      `json:"value"`
	Type   string      `json:"type"`
	Parsed value.Value `json:"-"`
}

// Test is one compiled @optest clause.
type Test struct {
	Instr     *Instruction `json:"-"`
	Selectors []Selector   `json:"selectors,omitempty"`
	Inputs    []InOut      `json:"inputs,omitempty"`
	Outputs   []InOut      `json:"outputs,omitempty"`
}

// String renders the test in the clause syntax it was parsed from.
func (t *Test) String() string {
	var words []string
	if len(t.Selectors) > 0 {
		for _, s := range t.Selectors {
			words = append(words, s.Variable+s.Op+s.Value)
		}
		words = append(words, "/")
	}
	for _, in := range t.Inputs {
		words = append(words, in.Field+in.Op+in.Value+":"+in.Type)
	}
	words = append(words, "->")
	for _, out := range t.Outputs {
		words = append(words, out.Field+out.Op+out.Value+":"+out.Type)
	}
	return strings.Join(words, "  ")
}
