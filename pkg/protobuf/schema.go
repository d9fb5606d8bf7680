package protobuf

import (
	"encoding/json"
	"sort"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vango-dev/pinus/pkg/protocol"
)

// Label is the cardinality of a field.
type Label uint8

const (
	LabelSingular Label = iota
	LabelRepeated
	LabelMap
)

// String returns the string representation of the label.
func (l Label) String() string {
	switch l {
	case LabelSingular:
		return "singular"
	case LabelRepeated:
		return "repeated"
	case LabelMap:
		return "map"
	default:
		return "unknown"
	}
}

// ScalarType is the protobuf type of a non-message value.
// ScalarMessage marks a field whose value is an embedded message.
type ScalarType uint8

const (
	ScalarMessage ScalarType = iota
	ScalarDouble
	ScalarFloat
	ScalarInt32
	ScalarInt64
	ScalarUint32
	ScalarUint64
	ScalarSint32
	ScalarSint64
	ScalarFixed32
	ScalarFixed64
	ScalarSfixed32
	ScalarSfixed64
	ScalarBool
	ScalarString
	ScalarBytes
	ScalarEnum
)

var scalarNames = map[string]ScalarType{
	"double":   ScalarDouble,
	"float":    ScalarFloat,
	"int32":    ScalarInt32,
	"int64":    ScalarInt64,
	"uint32":   ScalarUint32,
	"uint64":   ScalarUint64,
	"sint32":   ScalarSint32,
	"sint64":   ScalarSint64,
	"fixed32":  ScalarFixed32,
	"fixed64":  ScalarFixed64,
	"sfixed32": ScalarSfixed32,
	"sfixed64": ScalarSfixed64,
	"bool":     ScalarBool,
	"string":   ScalarString,
	"bytes":    ScalarBytes,
}

// String returns the protobuf name of the type.
func (s ScalarType) String() string {
	if s == ScalarMessage {
		return "message"
	}
	if s == ScalarEnum {
		return "enum"
	}
	for name, st := range scalarNames {
		if st == s {
			return name
		}
	}
	return "unknown"
}

// WireType returns the wire type used for a single value of s.
func (s ScalarType) WireType() protowire.Type {
	switch s {
	case ScalarDouble, ScalarFixed64, ScalarSfixed64:
		return protowire.Fixed64Type
	case ScalarFloat, ScalarFixed32, ScalarSfixed32:
		return protowire.Fixed32Type
	case ScalarString, ScalarBytes, ScalarMessage:
		return protowire.BytesType
	default:
		return protowire.VarintType
	}
}

// Packable reports whether repeated values of s use packed encoding.
func (s ScalarType) Packable() bool {
	return s.WireType() != protowire.BytesType
}

// validMapKey reports whether s may be used as a map key.
func (s ScalarType) validMapKey() bool {
	switch s {
	case ScalarMessage, ScalarEnum, ScalarDouble, ScalarFloat, ScalarBytes:
		return false
	}
	return true
}

// Field is a resolved field descriptor.
type Field struct {
	Name  string
	ID    uint32
	Label Label

	// Scalar is the value type; ScalarMessage when Message is set.
	Scalar ScalarType

	// Message is the embedded message type for message-valued fields.
	Message *MessageType

	// Enum is set when Scalar is ScalarEnum.
	Enum *EnumType

	// KeyScalar is the key type of a map field.
	KeyScalar ScalarType

	// Packed is true for repeated packable scalars unless the descriptor
	// sets options.packed to false.
	Packed bool
}

// WireType returns the wire type of the field's tag.
func (f *Field) WireType() protowire.Type {
	if f.Label == LabelMap || (f.Label == LabelRepeated && f.Packed) {
		return protowire.BytesType
	}
	return f.Scalar.WireType()
}

// MessageType is a resolved message descriptor. Fields are ordered by id.
type MessageType struct {
	Name   string
	Fields []*Field

	byName map[string]*Field
	byID   map[uint32]*Field
}

// FieldByName returns the field called name.
func (mt *MessageType) FieldByName(name string) *Field {
	return mt.byName[name]
}

// FieldByID returns the field with wire id id.
func (mt *MessageType) FieldByID(id uint32) *Field {
	return mt.byID[id]
}

// EnumType maps enum value names to numbers.
type EnumType struct {
	Name   string
	Values map[string]int32
}

// Schema is an immutable set of message types keyed by route or type name.
type Schema struct {
	root *decl
}

// Lookup returns the message type for a route such as
// "connector.entryHandler.enter". Routes are matched as a single key first,
// then as a dotted path through nested namespaces.
func (s *Schema) Lookup(route string) (*MessageType, bool) {
	if s == nil || s.root == nil {
		return nil, false
	}
	d := s.root.find(strings.TrimPrefix(route, "."))
	if d == nil || d.msg == nil {
		return nil, false
	}
	return d.msg, true
}

// decl is a node of the descriptor namespace tree: a message, an enum, or a
// plain namespace holding nested declarations.
type decl struct {
	name     string
	parent   *decl
	children map[string]*decl
	msg      *MessageType
	enum     *EnumType
	fields   map[string]fieldJSON
}

type declJSON struct {
	Fields map[string]fieldJSON       `json:"fields"`
	Nested map[string]json.RawMessage `json:"nested"`
	Values map[string]int32           `json:"values"`
}

type fieldJSON struct {
	Type    string         `json:"type"`
	ID      uint32         `json:"id"`
	Rule    string         `json:"rule"`
	KeyType string         `json:"keyType"`
	Options map[string]any `json:"options"`
}

// ParseSchema parses protobufjs JSON descriptors. Both the wrapped form
// {"nested": {...}} and a flat map of names to descriptors are accepted.
// Every field type is resolved here, so later encode and decode calls do no
// name lookups.
func ParseSchema(data []byte) (*Schema, error) {
	if len(data) == 0 || string(data) == "null" {
		return &Schema{root: &decl{children: map[string]*decl{}}}, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, protocol.WrapError(protocol.CodeSchemaMismatch, err, "invalid schema document")
	}
	nested := top
	if raw, ok := top["nested"]; ok {
		if _, hasFields := top["fields"]; !hasFields {
			if err := json.Unmarshal(raw, &nested); err != nil {
				return nil, protocol.WrapError(protocol.CodeSchemaMismatch, err, "invalid nested section")
			}
		}
	}

	root := &decl{children: make(map[string]*decl, len(nested))}
	for name, raw := range nested {
		if err := root.add(name, raw); err != nil {
			return nil, err
		}
	}
	if err := root.resolve(root); err != nil {
		return nil, err
	}
	return &Schema{root: root}, nil
}

func (d *decl) fullName(name string) string {
	if d.name == "" {
		return name
	}
	return d.name + "." + name
}

func (d *decl) add(name string, raw json.RawMessage) error {
	var dj declJSON
	if err := json.Unmarshal(raw, &dj); err != nil {
		return protocol.WrapError(protocol.CodeSchemaMismatch, err, "invalid descriptor for "+d.fullName(name))
	}

	child := &decl{
		name:     d.fullName(name),
		parent:   d,
		children: make(map[string]*decl, len(dj.Nested)),
	}
	switch {
	case dj.Values != nil:
		child.enum = &EnumType{Name: child.name, Values: dj.Values}
	case dj.Fields != nil || dj.Nested == nil:
		child.msg = &MessageType{Name: child.name}
		child.fields = dj.Fields
	}
	d.children[name] = child

	for n, r := range dj.Nested {
		if err := child.add(n, r); err != nil {
			return err
		}
	}
	return nil
}

// find looks name up below d. Keys may themselves contain dots, so every
// split point is tried.
func (d *decl) find(name string) *decl {
	if c, ok := d.children[name]; ok {
		return c
	}
	for i := 0; i < len(name); i++ {
		if name[i] != '.' {
			continue
		}
		if c, ok := d.children[name[:i]]; ok {
			if r := c.find(name[i+1:]); r != nil {
				return r
			}
		}
	}
	return nil
}

// lookupType resolves a type reference from the scope of d outward.
func (d *decl) lookupType(root *decl, name string) *decl {
	if strings.HasPrefix(name, ".") {
		if r := root.find(name[1:]); r != nil && (r.msg != nil || r.enum != nil) {
			return r
		}
		return nil
	}
	for s := d; s != nil; s = s.parent {
		if r := s.find(name); r != nil && (r.msg != nil || r.enum != nil) {
			return r
		}
	}
	return nil
}

func (d *decl) resolve(root *decl) error {
	if d.msg != nil {
		if err := d.resolveFields(root); err != nil {
			return err
		}
	}
	for _, c := range d.children {
		if err := c.resolve(root); err != nil {
			return err
		}
	}
	return nil
}

func (d *decl) resolveFields(root *decl) error {
	mt := d.msg
	mt.byName = make(map[string]*Field, len(d.fields))
	mt.byID = make(map[uint32]*Field, len(d.fields))

	for name, fj := range d.fields {
		if fj.ID == 0 || fj.ID > uint32(protowire.MaxValidNumber) {
			return protocol.Errorf(protocol.CodeSchemaMismatch, "%s.%s: invalid field id %d", mt.Name, name, fj.ID)
		}
		if other, dup := mt.byID[fj.ID]; dup {
			return protocol.Errorf(protocol.CodeSchemaMismatch, "%s: fields %q and %q share id %d", mt.Name, other.Name, name, fj.ID)
		}

		f := &Field{Name: name, ID: fj.ID}
		if st, ok := scalarNames[fj.Type]; ok {
			f.Scalar = st
		} else {
			ref := d.lookupType(root, fj.Type)
			switch {
			case ref == nil:
				return protocol.Errorf(protocol.CodeSchemaMismatch, "%s.%s: unresolved type %q", mt.Name, name, fj.Type)
			case ref.enum != nil:
				f.Scalar = ScalarEnum
				f.Enum = ref.enum
			default:
				f.Scalar = ScalarMessage
				f.Message = ref.msg
			}
		}

		switch {
		case fj.KeyType != "":
			ks, ok := scalarNames[fj.KeyType]
			if !ok || !ks.validMapKey() {
				return protocol.Errorf(protocol.CodeSchemaMismatch, "%s.%s: invalid map key type %q", mt.Name, name, fj.KeyType)
			}
			f.Label = LabelMap
			f.KeyScalar = ks
		case fj.Rule == "repeated":
			f.Label = LabelRepeated
			f.Packed = f.Scalar.Packable()
			if p, ok := fj.Options["packed"].(bool); ok && !p {
				f.Packed = false
			}
		}

		mt.Fields = append(mt.Fields, f)
		mt.byName[name] = f
		mt.byID[f.ID] = f
	}

	sort.Slice(mt.Fields, func(i, j int) bool { return mt.Fields[i].ID < mt.Fields[j].ID })
	d.fields = nil
	return nil
}
