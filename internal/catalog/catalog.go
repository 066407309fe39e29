// Package catalog holds the static registries the annotation compiler
// validates against. The data ships as an embedded CUE file and may be
// replaced by a user supplied one.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/samber/lo"

	"github.com/robert-at-pretension-io/opspec/internal/value"
)

//go:embed catalog.cue
var embeddedCatalog []byte

// Form is the encoding-form compatibility class of an operand type.
type Form string

const (
	FormAny   Form = ""
	FormFixed Form = "FIXED"
	FormRM    Form = "RM"
	FormReg   Form = "REG"
	FormMem   Form = "MEM"
	FormVvvv  Form = "V"
)

// OpType describes one operand type.
type OpType struct {
	Parser string `json:"parser"`
	Where  string `json:"where"`
	DisFmt string `json:"disfmt"`
	Param  string `json:"param"`
	Form   Form   `json:"form"`
}

// IemForm is an IEMOPFORM_XXX descriptor.
type IemForm struct {
	Encoding  string   `json:"encoding"`
	Wheres    []string `json:"wheres"`
	OpcodeSub string   `json:"opcodesub"`
}

// SubOpcode is the canonical value of a sub-opcode alias.
type SubOpcode struct {
	Value string `json:"value"`
	Bs3   string `json:"bs3"`
}

// MapDef defines one opcode map.
type MapDef struct {
	Name     string   `json:"name"`
	IemName  string   `json:"iem"`
	Lead     []string `json:"lead"`
	Selector string   `json:"selector"`
	Encoding string   `json:"encoding"`
	DisParse string   `json:"disparse"`
}

// SelectorInfo gives the table geometry of a selector kind.
type SelectorInfo struct {
	Size    int `json:"size"`
	PerByte int `json:"per_byte"`
}

// ValueTypeDef describes a test value type.
type ValueTypeDef struct {
	Kind     string `json:"kind"`
	Sizes    []int  `json:"sizes"`
	Unsigned bool   `json:"unsigned"`
	Dict     string `json:"dict"`
	Prefix   string `json:"prefix"`
}

// Field roles.
const (
	RoleBoth   = "both"
	RoleInput  = "input"
	RoleOutput = "output"
)

// Field is a test context field.
type Field struct {
	Type string `json:"type"`
	Role string `json:"role"`
}

// Catalog is the decoded catalog.
type Catalog struct {
	EflagsConstants map[string]uint64 `json:"eflags_constants"`
	EflagsMnemonics map[string]string `json:"eflags_mnemonics"`
	Cr0             map[string]uint64 `json:"cr0"`
	Cr4             map[string]uint64 `json:"cr4"`
	Xcr0            map[string]uint64 `json:"xcr0"`

	OpLocations   []string             `json:"op_locations"`
	OpTypes       map[string]OpType    `json:"op_types"`
	IemForms      map[string]IemForm   `json:"iem_forms"`
	Prefixes      []string             `json:"prefixes"`
	SubOpcodes    map[string]SubOpcode `json:"sub_opcodes"`
	Encodings     map[string]string    `json:"encodings"`
	InvalidStyles []string             `json:"invalid_styles"`
	CPUNames      []string             `json:"cpu_names"`
	CPUIDFlags    map[string]string    `json:"cpuid_flags"`
	Hints         map[string]string    `json:"hints"`
	XcptTypes     []string             `json:"xcpt_types"`

	Selectors    map[string]SelectorInfo `json:"selectors"`
	PrefixOrder  map[string]int          `json:"prefix_order"`
	MapEncodings []string                `json:"map_encodings"`
	Maps         []MapDef                `json:"maps"`

	TestOperators  []string                     `json:"test_operators"`
	TestCompareOps []string                     `json:"test_compare_ops"`
	TestTypes      map[string]ValueTypeDef      `json:"test_types"`
	TestFields     map[string]Field             `json:"test_fields"`
	TestVariables  map[string]map[string]string `json:"test_variables"`
	TestPredicates map[string]string            `json:"test_predicates"`

	valueTypes map[string]value.Type
	locations  map[string]bool
}

// Default decodes the embedded catalog.
func Default() (*Catalog, error) {
	return decode("catalog.cue", embeddedCatalog)
}

// DefaultSource returns the embedded catalog text.
func DefaultSource() []byte { return embeddedCatalog }

// LoadFile decodes a catalog from path. The file must define a concrete
// top-level "catalog" value unifying with #Catalog.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return decode(path, data)
}

func decode(name string, src []byte) (*Catalog, error) {
	ctx := cuecontext.New()
	root := ctx.CompileBytes(src, cue.Filename(name))
	if root.Err() != nil {
		return nil, fmt.Errorf("compiling catalog %s: %w", name, root.Err())
	}
	v := root.LookupPath(cue.ParsePath("catalog"))
	if !v.Exists() {
		return nil, fmt.Errorf("catalog %s: no top-level catalog value", name)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validating catalog %s: %s", name, joinErrors(err))
	}
	var c Catalog
	if err := v.Decode(&c); err != nil {
		return nil, fmt.Errorf("decoding catalog %s: %w", name, err)
	}
	if err := c.index(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", name, err)
	}
	return &c, nil
}

func joinErrors(err error) string {
	var msgs []string
	for _, e := range errors.Errors(err) {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (c *Catalog) index() error {
	c.locations = make(map[string]bool, len(c.OpLocations))
	for _, loc := range c.OpLocations {
		c.locations[loc] = true
	}
	for name, t := range c.OpTypes {
		if !c.locations[t.Where] {
			return fmt.Errorf("operand type %s has unknown location %q", name, t.Where)
		}
	}

	c.valueTypes = make(map[string]value.Type, len(c.TestTypes))
	for name, def := range c.TestTypes {
		switch def.Kind {
		case "int":
			c.valueTypes[name] = value.NewInt(name, def.Sizes, def.Unsigned)
		case "fixed":
			if len(def.Sizes) != 1 {
				return fmt.Errorf("fixed test type %s needs exactly one size", name)
			}
			c.valueTypes[name] = value.NewFixed(name, def.Sizes[0])
		case "eflags":
			c.valueTypes[name] = &value.Eflags{TypeName: name, Mnemonics: c.EflagsMnemonics, Constants: c.EflagsConstants}
		case "dict":
			var consts map[string]uint64
			switch def.Dict {
			case "cr0":
				consts = c.Cr0
			case "cr4":
				consts = c.Cr4
			case "xcr0":
				consts = c.Xcr0
			default:
				return fmt.Errorf("test type %s: unknown dictionary %q", name, def.Dict)
			}
			c.valueTypes[name] = &value.Dict{TypeName: name, Constants: consts, Prefix: def.Prefix}
		default:
			return fmt.Errorf("test type %s: unknown kind %q", name, def.Kind)
		}
	}
	for name, f := range c.TestFields {
		if _, ok := c.valueTypes[f.Type]; !ok {
			return fmt.Errorf("test field %s has unknown type %q", name, f.Type)
		}
	}

	seen := make(map[string]bool, len(c.Maps))
	for _, m := range c.Maps {
		if seen[m.Name] {
			return fmt.Errorf("duplicate map %q", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

// ValueType returns the parser for a test value type name.
func (c *Catalog) ValueType(name string) (value.Type, bool) {
	t, ok := c.valueTypes[name]
	return t, ok
}

// Eflags returns the EFLAGS value type.
func (c *Catalog) Eflags() *value.Eflags {
	return &value.Eflags{TypeName: "efl", Mnemonics: c.EflagsMnemonics, Constants: c.EflagsConstants}
}

// IsLocation reports whether loc is a known operand location.
func (c *Catalog) IsLocation(loc string) bool { return c.locations[loc] }

// IsPrefix reports whether p is a valid @oppfx value.
func (c *Catalog) IsPrefix(p string) bool { return contains(c.Prefixes, p) }

// IsInvalidStyle reports whether s is a known invalid-instruction style.
func (c *Catalog) IsInvalidStyle(s string) bool { return contains(c.InvalidStyles, s) }

// IsCPU reports whether s names a known minimum CPU.
func (c *Catalog) IsCPU(s string) bool { return contains(c.CPUNames, s) }

// IsXcptType reports whether s is a known exception type.
func (c *Catalog) IsXcptType(s string) bool { return contains(c.XcptTypes, s) }

// IsMapEncoding reports whether s is a map encoding family.
func (c *Catalog) IsMapEncoding(s string) bool { return contains(c.MapEncodings, s) }

func contains(list []string, s string) bool { return lo.Contains(list, s) }

// SortedKeys returns the keys of m in lexical order. Used for error
// messages listing valid values.
func SortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
