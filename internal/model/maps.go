package model

import (
	"regexp"
	"strings"

	"github.com/robert-at-pretension-io/opspec/internal/catalog"
)

// Map is a named opcode space.
type Map struct {
	Name     string
	IemName  string
	Lead     []string
	Selector string
	Encoding string
	DisParse string

	Instructions []*Instruction

	geometry map[string]catalog.SelectorInfo
}

// NewMap builds an empty map from its catalog definition.
func NewMap(def catalog.MapDef, selectors map[string]catalog.SelectorInfo) *Map {
	return &Map{
		Name:     def.Name,
		IemName:  def.IemName,
		Lead:     def.Lead,
		Selector: def.Selector,
		Encoding: def.Encoding,
		DisParse: def.DisParse,
		geometry: selectors,
	}
}

// Copy derives a new map. With a non-empty prefix filter only members
// requiring that prefix are kept, and a byte+pfx map becomes a byte map.
// The receiver is not modified.
func (m *Map) Copy(name, prefixFilter string) *Map {
	c := *m
	c.Name = name
	if prefixFilter == "" {
		c.Instructions = append([]*Instruction(nil), m.Instructions...)
		return &c
	}
	if m.Selector == "byte+pfx" {
		c.Selector = "byte"
	}
	c.Instructions = nil
	for _, in := range m.Instructions {
		if in.Prefix == prefixFilter {
			c.Instructions = append(c.Instructions, in)
		}
	}
	return &c
}

// TableSize is the number of table slots the selector needs.
func (m *Map) TableSize() int { return m.geometry[m.Selector].Size }

// EntriesPerByte is the number of slots per opcode byte. Only byte+pfx
// uses more than one.
func (m *Map) EntriesPerByte() int { return m.geometry[m.Selector].PerByte }

// IsVex reports whether the map belongs to a VEX encoding family.
func (m *Map) IsVex() bool { return strings.HasPrefix(m.Encoding, "vex") }

var reHexWord = regexp.MustCompile(`^[a-f0-9][a-f0-9]$`)

// DisasTableName is the disassembler table identifier for the map.
func (m *Map) DisasTableName() string {
	var b strings.Builder
	b.WriteString("g_aDisas")
	for _, word := range strings.Split(m.Name, "_") {
		switch {
		case word == "m" || word == "r":
			b.WriteString("_" + word)
		case reHexWord.MatchString(word):
			b.WriteString("_" + word)
		case word == "":
		default:
			word = strings.ReplaceAll(word, "grp", "Grp")
			word = strings.ReplaceAll(word, "map", "Map")
			b.WriteString(strings.ToUpper(word[:1]) + word[1:])
		}
	}
	return b.String()
}

// DisasRangeName is the identifier of the map's range descriptor.
func (m *Map) DisasRangeName() string {
	return strings.Replace(m.DisasTableName(), "g_aDisas", "g_Disas", 1) + "Range"
}
