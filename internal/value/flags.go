package value

import (
	"fmt"
	"strings"
)

// flagSizes is the size ladder for register-like flag values.
var flagSizes = []int{1, 2, 4, 8}

// zeroValueFlags are the EFLAGS mnemonics that name a cleared flag.
var zeroValueFlags = map[string]bool{
	"nv": true, "pl": true, "nz": true, "na": true,
	"pe": true, "nc": true, "di": true, "up": true,
}

// Eflags parses comma separated EFLAGS mnemonics. A mnemonic may be
// prefixed with '!' to clear the flag instead of setting it.
type Eflags struct {
	TypeName string
	// Mnemonics maps a flag mnemonic to a constant name. A constant name
	// starting with '!' means the mnemonic denotes the cleared flag.
	Mnemonics map[string]string
	// Constants maps constant names to bit values.
	Constants map[string]uint64
}

func (t *Eflags) Name() string { return t.TypeName }

// Mask resolves flag names into clear and set masks. pair is true when any
// flag is cleared.
func (t *Eflags) Mask(names []string) (clear, set uint64, pair bool, err error) {
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		negate := false
		if strings.HasPrefix(name, "!") {
			negate = true
			name = name[1:]
		}
		constant, ok := t.Mnemonics[name]
		if !ok {
			return 0, 0, false, badValue("Unknown flag %q in %q", raw, strings.Join(names, ","))
		}
		if strings.HasPrefix(constant, "!") {
			negate = !negate
			constant = constant[1:]
		}
		bits, ok := t.Constants[constant]
		if !ok {
			return 0, 0, false, badValue("flag %q maps to unknown constant %q", raw, constant)
		}
		if negate {
			clear |= bits
		} else {
			set |= bits
		}
	}
	return clear, set, clear != 0, nil
}

func (t *Eflags) Parse(literal string) (Value, error) {
	clear, set, pair, err := t.Mask(strings.Split(literal, ","))
	if err != nil {
		return Value{}, err
	}
	base := &Int{TypeName: t.TypeName, Sizes: flagSizes, Unsigned: true}
	setVal, err := base.Canonical(fmt.Sprintf("0x%x", set))
	if err != nil {
		return Value{}, err
	}
	if !pair {
		return Value{Parts: []Canonical{setVal}}, nil
	}
	clearVal, err := base.Canonical(fmt.Sprintf("0x%x", clear))
	if err != nil {
		return Value{}, err
	}
	return Value{Parts: []Canonical{clearVal, setVal}}, nil
}

// IsAndOrPair reports whether literal names any cleared flag.
func (t *Eflags) IsAndOrPair(literal string) bool {
	for _, name := range strings.Split(literal, ",") {
		name = strings.TrimSpace(name)
		if strings.HasPrefix(name, "!") || zeroValueFlags[name] {
			return true
		}
	}
	return false
}

// Dict resolves symbolic bit names such as CR0 bits through a constant
// table before delegating to the integer parser.
type Dict struct {
	TypeName string
	// Constants maps Prefix+UPPER(name) to bit values.
	Constants map[string]uint64
	Prefix    string
}

func (t *Dict) Name() string { return t.TypeName }

func (t *Dict) IsAndOrPair(string) bool { return false }

func (t *Dict) Parse(literal string) (Value, error) {
	var bits uint64
	for _, name := range strings.Split(literal, ",") {
		v, ok := t.Constants[t.Prefix+strings.ToUpper(name)]
		if !ok {
			return Value{}, badValue("Unknown flag %q in %q", name, literal)
		}
		bits |= v
	}
	base := &Int{TypeName: t.TypeName, Sizes: flagSizes, Unsigned: true}
	return base.Parse(fmt.Sprintf("0x%x", bits))
}
