package fdt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	headerSize     = 0x28
	version        = 17
	lastCompatible = 16
	magic          = 0xd00dfeed

	tokenBeginNode = 0x1
	tokenEndNode   = 0x2
	tokenProp      = 0x3
	tokenNop       = 0x4
	tokenEnd       = 0x9
)

// ErrMalformed is returned by Parse for blobs it cannot decode.
var ErrMalformed = errors.New("malformed device tree")

// Build serializes the tree rooted at root. Properties are written in name
// order so the same tree always gives the same blob.
func Build(root Node) ([]byte, error) {
	if root.Name != "" {
		return nil, fmt.Errorf("fdt: root node must be unnamed, got %q", root.Name)
	}
	e := &encoder{offsets: make(map[string]uint32)}
	if err := e.node(root, true); err != nil {
		return nil, err
	}
	e.token(tokenEnd)
	return e.blob(), nil
}

type encoder struct {
	structure bytes.Buffer
	strings   bytes.Buffer
	offsets   map[string]uint32
}

func (e *encoder) node(n Node, root bool) error {
	if !root && (n.Name == "" || strings.ContainsRune(n.Name, 0)) {
		return fmt.Errorf("fdt: invalid node name %q", n.Name)
	}
	e.token(tokenBeginNode)
	e.structure.WriteString(n.Name)
	e.structure.WriteByte(0)
	e.pad()

	names := make([]string, 0, len(n.Properties))
	for name := range n.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "" || strings.ContainsRune(name, 0) {
			return fmt.Errorf("fdt: node %q: invalid property name %q", n.Name, name)
		}
		value := n.Properties[name]
		e.token(tokenProp)
		e.u32(uint32(len(value)))
		e.u32(e.stringOffset(name))
		e.structure.Write(value)
		e.pad()
	}

	for _, child := range n.Children {
		if err := e.node(child, false); err != nil {
			return err
		}
	}
	e.token(tokenEndNode)
	return nil
}

func (e *encoder) blob() []byte {
	// An empty memory reservation map is a single zero entry.
	const reserveSize = 16
	offReserve := headerSize
	offStruct := offReserve + reserveSize
	offStrings := offStruct + e.structure.Len()
	total := offStrings + e.strings.Len()

	blob := make([]byte, total)
	for i, v := range []uint32{
		magic,
		uint32(total),
		uint32(offStruct),
		uint32(offStrings),
		uint32(offReserve),
		version,
		lastCompatible,
		0, // boot CPU
		uint32(e.strings.Len()),
		uint32(e.structure.Len()),
	} {
		binary.BigEndian.PutUint32(blob[4*i:], v)
	}
	copy(blob[offStruct:], e.structure.Bytes())
	copy(blob[offStrings:], e.strings.Bytes())
	return blob
}

func (e *encoder) stringOffset(name string) uint32 {
	if off, ok := e.offsets[name]; ok {
		return off
	}
	off := uint32(e.strings.Len())
	e.strings.WriteString(name)
	e.strings.WriteByte(0)
	e.offsets[name] = off
	return off
}

func (e *encoder) token(t uint32) { e.u32(t) }

func (e *encoder) u32(v uint32) {
	e.structure.Write(binary.BigEndian.AppendUint32(nil, v))
}

func (e *encoder) pad() {
	for e.structure.Len()%4 != 0 {
		e.structure.WriteByte(0)
	}
}

// Parse decodes a blob produced by Build or by firmware.
func Parse(blob []byte) (Node, error) {
	if len(blob) < headerSize {
		return Node{}, fmt.Errorf("fdt: %w: %d bytes is shorter than the header", ErrMalformed, len(blob))
	}
	header := func(i int) uint32 { return binary.BigEndian.Uint32(blob[4*i:]) }
	if header(0) != magic {
		return Node{}, fmt.Errorf("fdt: %w: bad magic 0x%08x", ErrMalformed, header(0))
	}
	total := int(header(1))
	offStruct, offStrings := int(header(2)), int(header(3))
	sizeStrings, sizeStruct := int(header(8)), int(header(9))
	if total > len(blob) || offStruct+sizeStruct > total || offStrings+sizeStrings > total {
		return Node{}, fmt.Errorf("fdt: %w: blocks outside the blob", ErrMalformed)
	}

	d := &decoder{
		structure: blob[offStruct : offStruct+sizeStruct],
		strings:   blob[offStrings : offStrings+sizeStrings],
	}
	t, err := d.token()
	if err != nil {
		return Node{}, err
	}
	if t != tokenBeginNode {
		return Node{}, fmt.Errorf("fdt: %w: structure does not start with a node", ErrMalformed)
	}
	root, err := d.node()
	if err != nil {
		return Node{}, err
	}
	if t, err := d.token(); err != nil || t != tokenEnd {
		return Node{}, fmt.Errorf("fdt: %w: missing end token", ErrMalformed)
	}
	return root, nil
}

type decoder struct {
	structure []byte
	strings   []byte
	pos       int
}

func (d *decoder) u32() (uint32, error) {
	if d.pos+4 > len(d.structure) {
		return 0, fmt.Errorf("fdt: %w: truncated structure block", ErrMalformed)
	}
	v := binary.BigEndian.Uint32(d.structure[d.pos:])
	d.pos += 4
	return v, nil
}

// token reads the next token, skipping NOPs.
func (d *decoder) token() (uint32, error) {
	for {
		t, err := d.u32()
		if err != nil || t != tokenNop {
			return t, err
		}
	}
}

func (d *decoder) align() {
	d.pos = (d.pos + 3) &^ 3
}

func (d *decoder) cstring(buf []byte, at int) (string, int, error) {
	if at < 0 || at > len(buf) {
		return "", 0, fmt.Errorf("fdt: %w: string offset %d out of range", ErrMalformed, at)
	}
	end := bytes.IndexByte(buf[at:], 0)
	if end < 0 {
		return "", 0, fmt.Errorf("fdt: %w: unterminated string", ErrMalformed)
	}
	return string(buf[at : at+end]), at + end + 1, nil
}

// node decodes a node whose begin token has been read.
func (d *decoder) node() (Node, error) {
	name, next, err := d.cstring(d.structure, d.pos)
	if err != nil {
		return Node{}, err
	}
	d.pos = next
	d.align()

	n := Node{Name: name}
	for {
		t, err := d.token()
		if err != nil {
			return Node{}, err
		}
		switch t {
		case tokenProp:
			size, err := d.u32()
			if err != nil {
				return Node{}, err
			}
			nameOff, err := d.u32()
			if err != nil {
				return Node{}, err
			}
			if d.pos+int(size) > len(d.structure) {
				return Node{}, fmt.Errorf("fdt: %w: property overruns the structure block", ErrMalformed)
			}
			propName, _, err := d.cstring(d.strings, int(nameOff))
			if err != nil {
				return Node{}, err
			}
			if n.Properties == nil {
				n.Properties = make(map[string]Property)
			}
			n.Properties[propName] = append(Property{}, d.structure[d.pos:d.pos+int(size)]...)
			d.pos += int(size)
			d.align()
		case tokenBeginNode:
			child, err := d.node()
			if err != nil {
				return Node{}, err
			}
			n.Children = append(n.Children, child)
		case tokenEndNode:
			return n, nil
		default:
			return Node{}, fmt.Errorf("fdt: %w: unexpected token 0x%x in node %q", ErrMalformed, t, name)
		}
	}
}
