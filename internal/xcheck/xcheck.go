// Package xcheck decodes the legacy opcodes of the model with x86asm and
// reports instructions whose mnemonic disagrees with the decoder.
package xcheck

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/arch/x86/x86asm"

	"github.com/robert-at-pretension-io/opspec/internal/model"
)

// Room for displacement and immediates after the opcode bytes.
const padding = 8

// Decoder names that differ from the annotation mnemonics only by operand
// size convention.
var aliases = map[string]string{
	"cwde":  "cbw",
	"cdqe":  "cbw",
	"cdq":   "cwd",
	"cqo":   "cwd",
	"xlatb": "xlat",
}

// Finding is one disagreement.
type Finding struct {
	Instr   *model.Instruction
	Map     string
	Bytes   []byte
	Decoded string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s in %s decodes as %s (bytes % x)", f.Instr.Where(), f.Instr.Mnemonic, f.Map, f.Decoded, f.Bytes)
}

// Check decodes every placed instruction of the legacy maps in 32-bit mode.
// Bytes the decoder rejects are logged at debug level and skipped.
func Check(ctx *model.Context, log logrus.FieldLogger) []Finding {
	var findings []Finding
	checked, skipped := 0, 0
	for _, m := range ctx.Maps {
		if m.Encoding != "legacy" {
			continue
		}
		for _, in := range m.Instructions {
			if in.Stub || in.Invalid || in.Unused || in.Mnemonic == "" || in.Parent != nil {
				continue
			}
			code, err := Encode(m, in)
			if err != nil {
				skipped++
				log.WithError(err).Debugf("xcheck: skipping %s", in)
				continue
			}
			inst, err := x86asm.Decode(code, 32)
			if err != nil {
				skipped++
				log.Debugf("xcheck: x86asm cannot decode % x for %s: %v", code, in, err)
				continue
			}
			checked++
			decoded := strings.ToLower(inst.Op.String())
			if !sameMnemonic(in.Mnemonic, decoded) {
				findings = append(findings, Finding{Instr: in, Map: m.Name, Bytes: code[:inst.Len], Decoded: decoded})
			}
		}
	}
	log.Debugf("xcheck: %d decoded, %d skipped, %d mismatches", checked, skipped, len(findings))
	return findings
}

// Encode builds a register-form byte sequence for in as a member of m:
// prefix, lead bytes, opcode or ModR/M, then zero padding.
func Encode(m *model.Map, in *model.Instruction) ([]byte, error) {
	var code []byte
	if in.Prefix != "" && in.Prefix != "none" {
		b, err := hexByte(in.Prefix)
		if err != nil {
			return nil, err
		}
		code = append(code, b)
	}
	for _, lead := range m.Lead {
		b, err := hexByte(lead)
		if err != nil {
			return nil, err
		}
		code = append(code, b)
	}

	op, err := in.OpcodeByte()
	if err != nil {
		return nil, err
	}
	switch m.Selector {
	case "byte", "byte+pfx":
		code = append(code, byte(op))
		if usesModRM(in) {
			code = append(code, 0xc0)
		}
	default:
		// Group maps: the opcode is the ModR/M byte. A bare /N gets mod=3.
		if op&0xc0 == 0 {
			op |= 0xc0
		}
		code = append(code, byte(op))
	}
	return append(code, make([]byte, padding)...), nil
}

func usesModRM(in *model.Instruction) bool {
	if strings.HasPrefix(in.Encoding, "ModR/M") {
		return true
	}
	for _, op := range in.Operands {
		if op.UsesModRM() {
			return true
		}
	}
	return false
}

func hexByte(s string) (byte, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("bad byte %q: %w", s, err)
	}
	return byte(v), nil
}

// sameMnemonic tolerates the size suffixes the decoder adds (pushfd,
// movsd, iretd) and a few renamed conversions.
func sameMnemonic(mnemonic, decoded string) bool {
	mnemonic = strings.ToLower(mnemonic)
	if mnemonic == decoded || aliases[decoded] == mnemonic {
		return true
	}
	if strings.HasPrefix(decoded, mnemonic) {
		switch decoded[len(mnemonic):] {
		case "b", "w", "d", "q":
			return true
		}
	}
	return false
}
