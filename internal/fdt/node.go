// Package fdt builds and reads Flattened Device Tree blobs.
package fdt

import (
	"encoding/binary"
	"strings"
)

// Property is the encoded value of a device-tree property.
type Property []byte

// Strings encodes a string list, each entry NUL terminated.
func Strings(values ...string) Property {
	var p Property
	for _, v := range values {
		p = append(p, v...)
		p = append(p, 0)
	}
	return p
}

// Cells encodes 32-bit cells.
func Cells(values ...uint32) Property {
	p := make(Property, 0, 4*len(values))
	for _, v := range values {
		p = binary.BigEndian.AppendUint32(p, v)
	}
	return p
}

// Cells64 encodes each value as two cells, high cell first.
func Cells64(values ...uint64) Property {
	p := make(Property, 0, 8*len(values))
	for _, v := range values {
		p = binary.BigEndian.AppendUint64(p, v)
	}
	return p
}

// Flag is an empty property whose presence is its value.
func Flag() Property {
	return Property{}
}

// AsStrings decodes a string list.
func (p Property) AsStrings() []string {
	s := strings.TrimSuffix(string(p), "\x00")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x00")
}

// AsCells decodes 32-bit cells. Trailing bytes are ignored.
func (p Property) AsCells() []uint32 {
	cells := make([]uint32, 0, len(p)/4)
	for i := 0; i+4 <= len(p); i += 4 {
		cells = append(cells, binary.BigEndian.Uint32(p[i:]))
	}
	return cells
}

// Node is one device-tree node. The root node has an empty name.
type Node struct {
	Name       string
	Properties map[string]Property
	Children   []Node
}

// Child returns the first child called name.
func (n Node) Child(name string) (Node, bool) {
	for _, c := range n.Children {
		if c.Name == name {
			return c, true
		}
	}
	return Node{}, false
}
