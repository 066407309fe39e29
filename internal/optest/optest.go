// Package optest compiles @optest clauses into typed test descriptors.
//
// A clause has the form
//
//	[selectors /] inputs -> outputs
//
// for example "o32 / in1=0xff:dw in2=1:dw -> out1=0x100:dw efl&|=nc,ov".
package optest

import (
	"fmt"
	"strings"

	"github.com/robert-at-pretension-io/opspec/internal/catalog"
	"github.com/robert-at-pretension-io/opspec/internal/model"
)

// Compiler validates clauses against the test catalog.
type Compiler struct {
	Cat *catalog.Catalog
}

// New returns a compiler for cat.
func New(cat *catalog.Catalog) *Compiler {
	return &Compiler{Cat: cat}
}

// Compile parses one clause. Problems are returned as messages; the test
// is nil when any selector or assignment could not be parsed. Duplicate
// selectors and assignments are reported but do not drop the test.
func (c *Compiler) Compile(clause string) (*model.Test, []string) {
	var errs []string
	errorf := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	words := strings.Fields(clause)
	if len(words) == 0 {
		return nil, []string{"missing value"}
	}

	var selectors, inputs, outputs []string
	cur := &outputs
	ok := true
scan:
	for i := len(words) - 1; i >= 0; i-- {
		switch w := words[i]; w {
		case "->":
			if cur != &outputs {
				errorf(`"->" shall only occur once: %s`, clause)
				ok = false
				break scan
			}
			cur = &inputs
		case "/":
			if cur != &inputs {
				errorf(`"/" shall only occur once: %s`, clause)
				ok = false
				break scan
			}
			cur = &selectors
		default:
			*cur = append([]string{w}, *cur...)
		}
	}

	test := &model.Test{}
	for _, cond := range selectors {
		sel, msg := c.selector(cond)
		if sel == nil {
			if msg != "" {
				errorf("%s", msg)
			}
			errorf("failed to parse selector: %s", cond)
			ok = false
			continue
		}
		for _, have := range test.Selectors {
			if have.Variable == sel.Variable {
				errorf("already have a selector for variable %q (existing: %s%s%s, new: %s%s%s)",
					sel.Variable, have.Variable, have.Op, have.Value, sel.Variable, sel.Op, sel.Value)
			}
		}
		test.Selectors = append(test.Selectors, *sel)
	}

	for _, part := range []struct {
		role  string
		items []string
		dst   *[]model.InOut
	}{
		{catalog.RoleInput, inputs, &test.Inputs},
		{catalog.RoleOutput, outputs, &test.Outputs},
	} {
		for _, item := range part.items {
			io, msg := c.assignment(item, part.role)
			if io == nil {
				if msg != "" {
					errorf("%s", msg)
				}
				errorf("failed to parse assignment: %s", item)
				ok = false
				continue
			}
			for _, have := range *part.dst {
				if have.Field == io.Field && have.Op == io.Op {
					errorf("already have a %q assignment for field %q (existing: %s%s%s, new: %s)",
						io.Op, io.Field, have.Field, have.Op, have.Value, item)
				}
			}
			*part.dst = append(*part.dst, *io)
		}
	}

	if !ok {
		errorf("failed to parse test: %s", strings.Join(words, " "))
		return nil, errs
	}
	return test, errs
}

func (c *Compiler) selector(cond string) (*model.Selector, string) {
	expr := cond
	if exp, ok := c.Cat.TestPredicates[cond]; ok {
		expr = exp
	}
	for _, op := range c.Cat.TestCompareOps {
		off := strings.Index(expr, op)
		if off < 0 {
			continue
		}
		variable, val := expr[:off], expr[off+len(op):]
		values, ok := c.Cat.TestVariables[variable]
		if !ok {
			return nil, fmt.Sprintf("invalid condition variable %q in %q (valid: %s)",
				variable, cond, strings.Join(catalog.SortedKeys(c.Cat.TestVariables), ", "))
		}
		if _, ok := values[val]; !ok {
			return nil, fmt.Sprintf("invalid condition value %q in %q (valid: %s)",
				val, cond, strings.Join(catalog.SortedKeys(values), ", "))
		}
		return &model.Selector{Variable: variable, Op: op, Value: val}, ""
	}
	return nil, ""
}

func (c *Compiler) assignment(item, role string) (*model.InOut, string) {
	for _, op := range c.Cat.TestOperators {
		off := strings.Index(item, op)
		if off < 0 {
			continue
		}
		name, rest := item[:off], item[off+len(op):]
		field, ok := c.Cat.TestFields[name]
		if !ok || (field.Role != catalog.RoleBoth && field.Role != role) {
			return nil, fmt.Sprintf("invalid %s field %q in %q (valid fields: %s)",
				role, name, item, strings.Join(c.fieldsFor(role), ", "))
		}
		val, typName, found := strings.Cut(rest, ":")
		if !found {
			typName = field.Type
		}
		typ, ok := c.Cat.ValueType(typName)
		if !ok {
			return nil, fmt.Sprintf("invalid %s type %q in %q (valid types: %s)",
				role, typName, item, strings.Join(catalog.SortedKeys(c.Cat.TestTypes), ", "))
		}
		parsed, err := typ.Parse(val)
		if err != nil {
			return nil, fmt.Sprintf("invalid %s value %q in %q (type: %s): %v", role, val, item, typName, err)
		}
		if typ.IsAndOrPair(val) && op != "&|=" {
			return nil, fmt.Sprintf(`and-or %s value %q can only be used with "&|="`, role, item)
		}
		return &model.InOut{Field: name, Op: op, Value: val, Type: typName, Parsed: parsed}, ""
	}
	return nil, ""
}

func (c *Compiler) fieldsFor(role string) []string {
	var names []string
	for _, name := range catalog.SortedKeys(c.Cat.TestFields) {
		if r := c.Cat.TestFields[name].Role; r == catalog.RoleBoth || r == role {
			names = append(names, name)
		}
	}
	return names
}

// CheckNumber verifies that a numbered test tag matches the position the
// test will take among the instruction's existing tests.
func CheckNumber(n, existing int) error {
	if n != existing {
		return fmt.Errorf("incorrect test number: %d, actual %d", n, existing)
	}
	return nil
}
