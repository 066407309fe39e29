// Package value parses literal test values into canonical little-endian
// byte sequences.
//
// A leading '+' or '-' forces sign extension regardless of the type's
// default. A 0x prefix selects hexadecimal. Negative values are encoded in
// two's complement. The result is padded to the smallest allowed size that
// holds it.
package value

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// BadValue is returned when a literal cannot be parsed by a Type.
type BadValue struct {
	Msg string
}

func (e *BadValue) Error() string { return e.Msg }

func badValue(format string, args ...interface{}) error {
	return &BadValue{Msg: fmt.Sprintf(format, args...)}
}

// Canonical is one sized value. Bytes are little-endian.
type Canonical struct {
	SignExtend bool   `json:"sign_extend"`
	Bytes      []byte `json:"bytes"`
}

// Hex renders the value most significant byte first without a prefix.
func (c Canonical) Hex() string {
	var sb strings.Builder
	for i := len(c.Bytes) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%02x", c.Bytes[i])
	}
	return sb.String()
}

// Uint64 returns the low 64 bits, sign extending when SignExtend is set and
// the value is shorter than 8 bytes.
func (c Canonical) Uint64() uint64 {
	var v uint64
	for i := len(c.Bytes) - 1; i >= 0; i-- {
		if i < 8 {
			v = v<<8 | uint64(c.Bytes[i])
		}
	}
	if c.SignExtend && len(c.Bytes) > 0 && len(c.Bytes) < 8 && c.Bytes[len(c.Bytes)-1]&0x80 != 0 {
		v |= ^uint64(0) << (8 * uint(len(c.Bytes)))
	}
	return v
}

// Value is either a single canonical value or an AND/OR pair. For a pair,
// Parts[0] is the mask of bits to clear and Parts[1] the bits to set.
type Value struct {
	Parts []Canonical `json:"parts"`
}

// IsPair reports whether the value is an AND/OR pair.
func (v Value) IsPair() bool { return len(v.Parts) == 2 }

// Type parses literals of one kind.
type Type interface {
	Name() string
	Parse(literal string) (Value, error)
	// IsAndOrPair reports whether literal would produce an AND/OR pair.
	// Only meaningful for literals that Parse accepts.
	IsAndOrPair(literal string) bool
}

// DefaultSizes are the natural integer sizes in bytes.
var DefaultSizes = []int{1, 2, 4, 8, 16, 32}

// Int is a plain integer type.
type Int struct {
	TypeName string
	Sizes    []int
	Unsigned bool
	// Fixed rejects values wider than the largest size instead of growing
	// to a multiple of it.
	Fixed bool
}

// NewInt returns an integer type with the given allowed sizes. Nil sizes
// means DefaultSizes.
func NewInt(name string, sizes []int, unsigned bool) *Int {
	if len(sizes) == 0 {
		sizes = DefaultSizes
	}
	return &Int{TypeName: name, Sizes: sizes, Unsigned: unsigned}
}

// NewFixed returns an unsigned type of exactly size bytes.
func NewFixed(name string, size int) *Int {
	return &Int{TypeName: name, Sizes: []int{size}, Unsigned: true, Fixed: true}
}

func (t *Int) Name() string { return t.TypeName }

func (t *Int) IsAndOrPair(string) bool { return false }

func (t *Int) Parse(literal string) (Value, error) {
	c, err := t.Canonical(literal)
	if err != nil {
		return Value{}, err
	}
	return Value{Parts: []Canonical{c}}, nil
}

var hexInv = map[byte]byte{
	'0': 'f', '1': 'e', '2': 'd', '3': 'c', '4': 'b', '5': 'a', '6': '9', '7': '8',
	'8': '7', '9': '6', 'a': '5', 'b': '4', 'c': '3', 'd': '2', 'e': '1', 'f': '0',
}

// Canonical parses literal into a single sized value.
func (t *Int) Canonical(literal string) (Canonical, error) {
	if literal == "" {
		return Canonical{}, badValue("empty value")
	}

	signExtend := !t.Unsigned
	digits := literal
	negative := false
	if literal[0] == '-' || literal[0] == '+' {
		signExtend = true
		negative = literal[0] == '-'
		digits = literal[1:]
	}
	base := 10
	if len(digits) > 2 && strings.EqualFold(digits[:2], "0x") {
		base = 16
		digits = digits[2:]
	}
	n, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return Canonical{}, badValue("failed to convert %q to integer", literal)
	}
	if negative {
		n.Neg(n)
	}

	var hex string
	if n.Sign() >= 0 {
		hex = n.Text(16)
	} else {
		m := new(big.Int).Neg(n)
		m.Sub(m, big.NewInt(1))
		inv := []byte(m.Text(16))
		for i, d := range inv {
			inv[i] = hexInv[d]
		}
		hex = string(inv)
		if signExtend && !strings.ContainsRune("89abcdef", rune(hex[0])) {
			hex = "f" + hex
		}
	}

	digitsNeeded := len(hex)
	maxDigits := t.Sizes[len(t.Sizes)-1] * 2
	var natural int
	if digitsNeeded <= maxDigits {
		for _, cb := range t.Sizes {
			natural = cb * 2
			if digitsNeeded <= natural {
				break
			}
		}
	} else {
		if t.Fixed {
			return Canonical{}, badValue("value %q does not fit in %d byte(s)", literal, maxDigits/2)
		}
		natural = (digitsNeeded + maxDigits - 1) / maxDigits * maxDigits
	}
	if pad := natural - digitsNeeded; pad > 0 {
		fill := "0"
		if n.Sign() < 0 {
			fill = "f"
		}
		hex = strings.Repeat(fill, pad) + hex
	}

	out := make([]byte, 0, len(hex)/2)
	for off := len(hex); off > 0; off -= 2 {
		b, _ := strconv.ParseUint(hex[off-2:off], 16, 8)
		out = append(out, byte(b))
	}
	return Canonical{SignExtend: signExtend, Bytes: out}, nil
}

// Validate returns nil if literal parses under t.
func Validate(t Type, literal string) error {
	_, err := t.Parse(literal)
	return err
}
