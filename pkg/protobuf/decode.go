package protobuf

import (
	"errors"
	"io"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vango-dev/pinus/pkg/protocol"
)

// Decode decodes data as a message of type mt.
//
// Unknown field ids are skipped. Repeated scalars are accepted packed or
// unpacked. Repeated fields absent from the input decode as an empty []any
// and map fields as an empty map[string]any; absent singular fields are
// left out of the result.
func Decode(mt *MessageType, data []byte) (map[string]any, error) {
	return decodeMessage(protocol.NewDecoder(data), mt, 0)
}

func decodeMessage(d *protocol.Decoder, mt *MessageType, depth int) (map[string]any, error) {
	if depth > protocol.MaxDepth {
		return nil, protocol.Errorf(protocol.CodeSchemaMismatch, "%s: nesting deeper than %d", mt.Name, protocol.MaxDepth)
	}

	out := make(map[string]any, len(mt.Fields))
	for !d.EOF() {
		key, err := d.ReadUvarint()
		if err != nil {
			return nil, err
		}
		num, wt := protowire.DecodeTag(key)
		if num < protowire.MinValidNumber {
			return nil, protocol.Errorf(protocol.CodeSchemaMismatch, "%s: invalid field number %d", mt.Name, num)
		}

		f := mt.byID[uint32(num)]
		if f == nil {
			if err := skipField(d, num, wt); err != nil {
				return nil, err
			}
			continue
		}

		switch f.Label {
		case LabelRepeated:
			list, _ := out[f.Name].([]any)
			list, err = decodeRepeated(d, f, wt, list, depth)
			if err != nil {
				return nil, err
			}
			out[f.Name] = list
		case LabelMap:
			m, _ := out[f.Name].(map[string]any)
			if m == nil {
				m = make(map[string]any)
			}
			if err := decodeMapEntry(d, f, wt, m, depth); err != nil {
				return nil, err
			}
			out[f.Name] = m
		default:
			if wt != f.Scalar.WireType() {
				return nil, wireMismatch(f, wt)
			}
			v, err := decodeValue(d, f, f.Scalar, depth)
			if err != nil {
				return nil, err
			}
			out[f.Name] = v
		}
	}

	for _, f := range mt.Fields {
		if _, ok := out[f.Name]; ok {
			continue
		}
		switch f.Label {
		case LabelRepeated:
			out[f.Name] = []any{}
		case LabelMap:
			out[f.Name] = map[string]any{}
		}
	}
	return out, nil
}

func decodeRepeated(d *protocol.Decoder, f *Field, wt protowire.Type, list []any, depth int) ([]any, error) {
	if wt == protowire.BytesType && f.Scalar.Packable() {
		n, err := d.ReadLen()
		if err != nil {
			return nil, err
		}
		raw, err := d.ReadBytes(n)
		if err != nil {
			return nil, err
		}
		sub := protocol.NewDecoder(raw)
		for !sub.EOF() {
			v, err := decodeValue(sub, f, f.Scalar, depth)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	}

	if wt != f.Scalar.WireType() {
		return nil, wireMismatch(f, wt)
	}
	v, err := decodeValue(d, f, f.Scalar, depth)
	if err != nil {
		return nil, err
	}
	return append(list, v), nil
}

func decodeMapEntry(d *protocol.Decoder, f *Field, wt protowire.Type, m map[string]any, depth int) error {
	if wt != protowire.BytesType {
		return wireMismatch(f, wt)
	}
	n, err := d.ReadLen()
	if err != nil {
		return err
	}
	raw, err := d.ReadBytes(n)
	if err != nil {
		return err
	}

	sub := protocol.NewDecoder(raw)
	var key, value any
	for !sub.EOF() {
		tag, err := sub.ReadUvarint()
		if err != nil {
			return err
		}
		num, ewt := protowire.DecodeTag(tag)
		switch num {
		case 1:
			if ewt != f.KeyScalar.WireType() {
				return wireMismatch(f, ewt)
			}
			if key, err = decodeValue(sub, f, f.KeyScalar, depth); err != nil {
				return err
			}
		case 2:
			if ewt != f.Scalar.WireType() {
				return wireMismatch(f, ewt)
			}
			if value, err = decodeValue(sub, f, f.Scalar, depth); err != nil {
				return err
			}
		default:
			if err := skipField(sub, num, ewt); err != nil {
				return err
			}
		}
	}

	if key == nil {
		key = zeroValue(f.KeyScalar)
	}
	if value == nil {
		if f.Scalar == ScalarMessage {
			value = map[string]any{}
		} else {
			value = zeroValue(f.Scalar)
		}
	}
	m[keyString(key)] = value
	return nil
}

// decodeValue reads one value of type st. For ScalarMessage the embedded
// message type comes from f.
func decodeValue(d *protocol.Decoder, f *Field, st ScalarType, depth int) (any, error) {
	switch st {
	case ScalarMessage:
		n, err := d.ReadLen()
		if err != nil {
			return nil, err
		}
		raw, err := d.ReadBytes(n)
		if err != nil {
			return nil, err
		}
		return decodeMessage(protocol.NewDecoder(raw), f.Message, depth+1)
	case ScalarString:
		return d.ReadString()
	case ScalarBytes:
		return d.ReadLenBytes()
	case ScalarFloat:
		return d.ReadFloat32()
	case ScalarDouble:
		return d.ReadFloat64()
	case ScalarFixed32:
		return d.ReadFixed32()
	case ScalarSfixed32:
		v, err := d.ReadFixed32()
		return int32(v), err
	case ScalarFixed64:
		return d.ReadFixed64()
	case ScalarSfixed64:
		v, err := d.ReadFixed64()
		return int64(v), err
	}

	uv, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	switch st {
	case ScalarInt32, ScalarEnum:
		return int32(uv), nil
	case ScalarInt64:
		return int64(uv), nil
	case ScalarUint32:
		return uint32(uv), nil
	case ScalarUint64:
		return uv, nil
	case ScalarSint32:
		return int32(protocol.UnZigZag(uv)), nil
	case ScalarSint64:
		return protocol.UnZigZag(uv), nil
	case ScalarBool:
		return uv != 0, nil
	}
	return nil, protocol.Errorf(protocol.CodeSchemaMismatch, "field %q: unsupported type %s", f.Name, st)
}

// skipField discards the value of an unknown field.
func skipField(d *protocol.Decoder, num protowire.Number, wt protowire.Type) error {
	n := protowire.ConsumeFieldValue(num, wt, d.Tail())
	if n < 0 {
		err := protowire.ParseError(n)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return protocol.WrapError(protocol.CodeTruncatedBuffer, err, "skipping unknown field")
		}
		return protocol.WrapError(protocol.CodeSchemaMismatch, err, "skipping unknown field")
	}
	return d.Skip(n)
}

func zeroValue(st ScalarType) any {
	switch st {
	case ScalarString:
		return ""
	case ScalarBytes:
		return []byte{}
	case ScalarBool:
		return false
	case ScalarFloat:
		return float32(0)
	case ScalarDouble:
		return float64(0)
	case ScalarInt32, ScalarSint32, ScalarSfixed32, ScalarEnum:
		return int32(0)
	case ScalarInt64, ScalarSint64, ScalarSfixed64:
		return int64(0)
	case ScalarUint32, ScalarFixed32:
		return uint32(0)
	default:
		return uint64(0)
	}
}

func keyString(k any) string {
	switch v := k.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	default:
		return ""
	}
}

func wireMismatch(f *Field, wt protowire.Type) error {
	return protocol.Errorf(protocol.CodeSchemaMismatch, "field %q: wire type %d does not match %s %s", f.Name, wt, f.Label, f.Scalar)
}
