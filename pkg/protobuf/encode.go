package protobuf

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vango-dev/pinus/pkg/protocol"
)

// Encode encodes payload as a message of type mt.
//
// Fields are written in id order. Payload keys without a descriptor are
// skipped, as are nil values. Repeated packable scalars are packed and an
// empty repeated field emits nothing.
func Encode(mt *MessageType, payload map[string]any) ([]byte, error) {
	e := protocol.NewEncoder()
	if err := encodeMessage(e, mt, payload, 0); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

func encodeMessage(e *protocol.Encoder, mt *MessageType, payload map[string]any, depth int) error {
	if depth > protocol.MaxDepth {
		return protocol.Errorf(protocol.CodeSchemaMismatch, "%s: nesting deeper than %d", mt.Name, protocol.MaxDepth)
	}
	for _, f := range mt.Fields {
		v, ok := payload[f.Name]
		if !ok || v == nil {
			continue
		}
		var err error
		switch f.Label {
		case LabelRepeated:
			err = encodeRepeated(e, f, v, depth)
		case LabelMap:
			err = encodeMap(e, f, v, depth)
		default:
			e.WriteTag(f.ID, uint8(f.Scalar.WireType()))
			err = encodeValue(e, f, v, depth)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func encodeRepeated(e *protocol.Encoder, f *Field, v any, depth int) error {
	items, ok := toList(v)
	if !ok {
		return mismatch(f, v)
	}
	if len(items) == 0 {
		return nil
	}

	if f.Packed {
		sub := protocol.NewEncoder()
		for _, item := range items {
			if err := encodeScalar(sub, f, f.Scalar, item); err != nil {
				return err
			}
		}
		e.WriteTag(f.ID, uint8(protowire.BytesType))
		e.WriteLenBytes(sub.Bytes())
		return nil
	}

	for _, item := range items {
		e.WriteTag(f.ID, uint8(f.Scalar.WireType()))
		if err := encodeValue(e, f, item, depth); err != nil {
			return err
		}
	}
	return nil
}

func encodeMap(e *protocol.Encoder, f *Field, v any, depth int) error {
	entries, ok := toEntries(v)
	if !ok {
		return mismatch(f, v)
	}
	sort.Slice(entries, func(i, j int) bool {
		return fmt.Sprint(entries[i].key) < fmt.Sprint(entries[j].key)
	})

	sub := protocol.NewEncoder()
	for _, ent := range entries {
		sub.Reset()
		sub.WriteTag(1, uint8(f.KeyScalar.WireType()))
		if err := encodeScalar(sub, f, f.KeyScalar, ent.key); err != nil {
			return err
		}
		if ent.value != nil {
			sub.WriteTag(2, uint8(f.Scalar.WireType()))
			if err := encodeValue(sub, f, ent.value, depth); err != nil {
				return err
			}
		}
		e.WriteTag(f.ID, uint8(protowire.BytesType))
		e.WriteLenBytes(sub.Bytes())
	}
	return nil
}

// encodeValue writes one value of f's element type, without a tag.
func encodeValue(e *protocol.Encoder, f *Field, v any, depth int) error {
	if f.Scalar != ScalarMessage {
		return encodeScalar(e, f, f.Scalar, v)
	}
	obj, ok := toObject(v)
	if v != nil && !ok {
		return mismatch(f, v)
	}
	sub := protocol.NewEncoder()
	if err := encodeMessage(sub, f.Message, obj, depth+1); err != nil {
		return err
	}
	e.WriteLenBytes(sub.Bytes())
	return nil
}

func encodeScalar(e *protocol.Encoder, f *Field, st ScalarType, v any) error {
	switch st {
	case ScalarInt32:
		n, ok := toInt64(v)
		if !ok {
			return mismatch(f, v)
		}
		e.WriteVarint(int64(int32(n)))
	case ScalarInt64:
		n, ok := toInt64(v)
		if !ok {
			return mismatch(f, v)
		}
		e.WriteVarint(n)
	case ScalarUint32:
		n, ok := toUint64(v)
		if !ok {
			return mismatch(f, v)
		}
		e.WriteUvarint(uint64(uint32(n)))
	case ScalarUint64:
		n, ok := toUint64(v)
		if !ok {
			return mismatch(f, v)
		}
		e.WriteUvarint(n)
	case ScalarSint32:
		n, ok := toInt64(v)
		if !ok {
			return mismatch(f, v)
		}
		e.WriteSvarint(int64(int32(n)))
	case ScalarSint64:
		n, ok := toInt64(v)
		if !ok {
			return mismatch(f, v)
		}
		e.WriteSvarint(n)
	case ScalarBool:
		b, ok := toBool(v)
		if !ok {
			return mismatch(f, v)
		}
		e.WriteBool(b)
	case ScalarEnum:
		n, ok := enumNumber(f.Enum, v)
		if !ok {
			return mismatch(f, v)
		}
		e.WriteVarint(int64(n))
	case ScalarFixed32:
		n, ok := toUint64(v)
		if !ok {
			return mismatch(f, v)
		}
		e.WriteFixed32(uint32(n))
	case ScalarSfixed32:
		n, ok := toInt64(v)
		if !ok {
			return mismatch(f, v)
		}
		e.WriteFixed32(uint32(int32(n)))
	case ScalarFloat:
		x, ok := toFloat64(v)
		if !ok {
			return mismatch(f, v)
		}
		e.WriteFloat32(float32(x))
	case ScalarFixed64:
		n, ok := toUint64(v)
		if !ok {
			return mismatch(f, v)
		}
		e.WriteFixed64(n)
	case ScalarSfixed64:
		n, ok := toInt64(v)
		if !ok {
			return mismatch(f, v)
		}
		e.WriteFixed64(uint64(n))
	case ScalarDouble:
		x, ok := toFloat64(v)
		if !ok {
			return mismatch(f, v)
		}
		e.WriteFloat64(x)
	case ScalarString:
		switch s := v.(type) {
		case string:
			e.WriteString(s)
		case []byte:
			e.WriteLenBytes(s)
		case fmt.Stringer:
			e.WriteString(s.String())
		default:
			return mismatch(f, v)
		}
	case ScalarBytes:
		switch b := v.(type) {
		case []byte:
			e.WriteLenBytes(b)
		case string:
			e.WriteString(b)
		default:
			return mismatch(f, v)
		}
	default:
		return mismatch(f, v)
	}
	return nil
}

func enumNumber(et *EnumType, v any) (int32, bool) {
	if s, ok := v.(string); ok && et != nil {
		if n, found := et.Values[s]; found {
			return n, true
		}
	}
	n, ok := toInt64(v)
	return int32(n), ok
}

func mismatch(f *Field, v any) error {
	return protocol.Errorf(protocol.CodeSchemaMismatch, "field %q: cannot encode %T as %s %s", f.Name, v, f.Label, f.Scalar)
}
