package protobuf

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vango-dev/pinus/pkg/protocol"
)

const testSchema = `{
	"nested": {
		"gate.gateHandler.queryEntry": {
			"fields": {"uid": {"type": "uint32", "id": 1}}
		},
		"area.playerHandler.update": {
			"fields": {
				"name":   {"type": "string", "id": 1},
				"level":  {"type": "int32", "id": 2},
				"delta":  {"type": "sint32", "id": 3},
				"score":  {"type": "int64", "id": 4},
				"big":    {"type": "uint64", "id": 5},
				"offset": {"type": "sint64", "id": 6},
				"ratio":  {"type": "float", "id": 7},
				"pos":    {"type": "double", "id": 8},
				"alive":  {"type": "bool", "id": 9},
				"raw":    {"type": "bytes", "id": 10},
				"items":  {"type": "uint32", "id": 11, "rule": "repeated"},
				"tags":   {"type": "string", "id": 12, "rule": "repeated"},
				"friends":{"type": "Friend", "id": 13, "rule": "repeated"},
				"stats":  {"type": "int32", "id": 14, "keyType": "string"},
				"home":   {"type": "Point", "id": 15},
				"state":  {"type": "State", "id": 16},
				"crc":    {"type": "fixed32", "id": 17},
				"seq":    {"type": "sfixed64", "id": 18}
			},
			"nested": {
				"Friend": {"fields": {"uid": {"type": "uint32", "id": 1}, "at": {"type": ".Point", "id": 2}}},
				"State": {"values": {"IDLE": 0, "RUNNING": 1, "DEAD": 2}}
			}
		},
		"Point": {"fields": {"x": {"type": "sint32", "id": 1}, "y": {"type": "sint32", "id": 2}}}
	}
}`

func mustSchema(t *testing.T, doc string) *Schema {
	t.Helper()
	s, err := ParseSchema([]byte(doc))
	if err != nil {
		t.Fatalf("ParseSchema() error: %v", err)
	}
	return s
}

func lookup(t *testing.T, s *Schema, route string) *MessageType {
	t.Helper()
	mt, ok := s.Lookup(route)
	if !ok {
		t.Fatalf("route %q not found", route)
	}
	return mt
}

func encode(t *testing.T, mt *MessageType, payload map[string]any) []byte {
	t.Helper()
	b, err := Encode(mt, payload)
	if err != nil {
		t.Fatalf("Encode(%v) error: %v", payload, err)
	}
	return b
}

func decode(t *testing.T, mt *MessageType, data []byte) map[string]any {
	t.Helper()
	m, err := Decode(mt, data)
	if err != nil {
		t.Fatalf("Decode(%x) error: %v", data, err)
	}
	return m
}

func TestQueryEntryBytes(t *testing.T) {
	mt := lookup(t, mustSchema(t, testSchema), "gate.gateHandler.queryEntry")

	got := encode(t, mt, map[string]any{"uid": 12345})
	if want := []byte{0x08, 0xB9, 0x60}; !bytes.Equal(got, want) {
		t.Errorf("Encode() = %x, want %x", got, want)
	}

	want := protowire.AppendTag(nil, 1, protowire.VarintType)
	want = protowire.AppendVarint(want, 12345)
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = %x, protowire gives %x", got, want)
	}

	if decoded := decode(t, mt, got); !reflect.DeepEqual(decoded, map[string]any{"uid": uint32(12345)}) {
		t.Errorf("Decode() = %v", decoded)
	}
}

func TestRoundTrip(t *testing.T) {
	mt := lookup(t, mustSchema(t, testSchema), "area.playerHandler.update")

	payload := map[string]any{
		"name":    "hero",
		"level":   int32(-3),
		"delta":   int32(-64),
		"score":   int64(math.MaxInt64),
		"big":     uint64(math.MaxUint64),
		"offset":  int64(math.MinInt64),
		"ratio":   float32(0.5),
		"pos":     float64(-12.25),
		"alive":   true,
		"raw":     []byte{0x00, 0xFF},
		"items":   []any{uint32(1), uint32(300), uint32(70000)},
		"tags":    []any{"a", "", "ccc"},
		"friends": []any{map[string]any{"uid": uint32(7), "at": map[string]any{"x": int32(1), "y": int32(-1)}}},
		"stats":   map[string]any{"hp": int32(100), "mp": int32(-5)},
		"home":    map[string]any{"x": int32(-10), "y": int32(20)},
		"state":   int32(2),
		"crc":     uint32(0xDEADBEEF),
		"seq":     int64(-2),
	}

	decoded := decode(t, mt, encode(t, mt, payload))
	for k, want := range payload {
		if got := decoded[k]; !reflect.DeepEqual(got, want) {
			t.Errorf("%s = %#v, want %#v", k, got, want)
		}
	}
	if len(decoded) != len(payload) {
		t.Errorf("decoded %d fields, want %d", len(decoded), len(payload))
	}
}

func TestEncodeAcceptsLooseInputs(t *testing.T) {
	mt := lookup(t, mustSchema(t, testSchema), "area.playerHandler.update")

	var fromJSON map[string]any
	if err := json.Unmarshal([]byte(`{"level": 5, "items": [1, 2], "state": "RUNNING", "stats": {"hp": 9}}`), &fromJSON); err != nil {
		t.Fatal(err)
	}

	decoded := decode(t, mt, encode(t, mt, fromJSON))
	checks := map[string]any{
		"level": int32(5),
		"items": []any{uint32(1), uint32(2)},
		"state": int32(1),
		"stats": map[string]any{"hp": int32(9)},
	}
	for k, want := range checks {
		if got := decoded[k]; !reflect.DeepEqual(got, want) {
			t.Errorf("%s = %#v, want %#v", k, got, want)
		}
	}

	decoded = decode(t, mt, encode(t, mt, map[string]any{"items": []int{1, 2}, "level": json.Number("5"), "alive": "true"}))
	if got := decoded["items"]; !reflect.DeepEqual(got, []any{uint32(1), uint32(2)}) {
		t.Errorf("items = %#v", got)
	}
	if decoded["alive"] != true {
		t.Errorf("alive = %#v, want true", decoded["alive"])
	}
}

func TestNegativeInt32IsTenBytes(t *testing.T) {
	mt := lookup(t, mustSchema(t, testSchema), "area.playerHandler.update")

	if plain := encode(t, mt, map[string]any{"level": -1}); len(plain) != 1+10 {
		t.Errorf("int32 -1 encoded to %d bytes, want 11", len(plain))
	}
	if zigzag := encode(t, mt, map[string]any{"delta": -1}); !bytes.Equal(zigzag, []byte{0x18, 0x01}) {
		t.Errorf("sint32 -1 = %x, want 1801", zigzag)
	}
}

func TestPackedEncoding(t *testing.T) {
	mt := lookup(t, mustSchema(t, testSchema), "area.playerHandler.update")

	// tag(11, bytes), len 3, then the three varints
	if got := encode(t, mt, map[string]any{"items": []any{1, 2, 3}}); !bytes.Equal(got, []byte{0x5A, 0x03, 0x01, 0x02, 0x03}) {
		t.Errorf("packed items = %x", got)
	}

	empty := encode(t, mt, map[string]any{"items": []any{}})
	if len(empty) != 0 {
		t.Errorf("empty list encoded to %x", empty)
	}

	decoded := decode(t, mt, empty)
	if got := decoded["items"]; !reflect.DeepEqual(got, []any{}) {
		t.Errorf("items = %#v, want empty list", got)
	}
	if got := decoded["tags"]; !reflect.DeepEqual(got, []any{}) {
		t.Errorf("tags = %#v, want empty list", got)
	}
	if got := decoded["stats"]; !reflect.DeepEqual(got, map[string]any{}) {
		t.Errorf("stats = %#v, want empty map", got)
	}
	if _, ok := decoded["name"]; ok {
		t.Error("absent singular field present in decoded payload")
	}
}

func TestDecodeUnpackedRepeated(t *testing.T) {
	mt := lookup(t, mustSchema(t, testSchema), "area.playerHandler.update")

	var b []byte
	for _, v := range []uint64{4, 5} {
		b = protowire.AppendTag(b, 11, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	}
	if got := decode(t, mt, b)["items"]; !reflect.DeepEqual(got, []any{uint32(4), uint32(5)}) {
		t.Errorf("items = %#v", got)
	}
}

func TestRepeatedMessagesNotPacked(t *testing.T) {
	mt := lookup(t, mustSchema(t, testSchema), "area.playerHandler.update")

	got := encode(t, mt, map[string]any{"tags": []string{"a", "b"}})
	if want := []byte{0x62, 0x01, 'a', 0x62, 0x01, 'b'}; !bytes.Equal(got, want) {
		t.Errorf("tags = %x, want %x", got, want)
	}
}

func TestMapEntryLayout(t *testing.T) {
	mt := lookup(t, mustSchema(t, testSchema), "area.playerHandler.update")

	got := encode(t, mt, map[string]any{"stats": map[string]any{"hp": 1}})

	var entry []byte
	entry = protowire.AppendTag(entry, 1, protowire.BytesType)
	entry = protowire.AppendString(entry, "hp")
	entry = protowire.AppendTag(entry, 2, protowire.VarintType)
	entry = protowire.AppendVarint(entry, 1)
	want := protowire.AppendTag(nil, 14, protowire.BytesType)
	want = protowire.AppendBytes(want, entry)
	if !bytes.Equal(got, want) {
		t.Errorf("stats = %x, want %x", got, want)
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	mt := lookup(t, mustSchema(t, testSchema), "gate.gateHandler.queryEntry")

	var b []byte
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendString(b, "ignored")
	b = protowire.AppendTag(b, 10, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 1)
	b = protowire.AppendTag(b, 11, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 1)
	b = protowire.AppendTag(b, 12, protowire.VarintType)
	b = protowire.AppendVarint(b, 1<<40)
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)

	if got := decode(t, mt, b); !reflect.DeepEqual(got, map[string]any{"uid": uint32(42)}) {
		t.Errorf("Decode() = %v", got)
	}
}

func TestEncodeSkipsUnknownPayloadKeys(t *testing.T) {
	mt := lookup(t, mustSchema(t, testSchema), "gate.gateHandler.queryEntry")

	got := encode(t, mt, map[string]any{"uid": 1, "extra": "x", "nil": nil})
	if !bytes.Equal(got, []byte{0x08, 0x01}) {
		t.Errorf("Encode() = %x, want 0801", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	mt := lookup(t, mustSchema(t, testSchema), "area.playerHandler.update")

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"wire_mismatch", []byte{0x0D, 0x00, 0x00, 0x00, 0x00}, protocol.ErrSchemaMismatch}, // name as fixed32
		{"truncated_varint", []byte{0x10, 0x80}, protocol.ErrTruncatedBuffer},
		{"truncated_string", []byte{0x0A, 0x05, 'a'}, protocol.ErrTruncatedBuffer},
		{"truncated_tag", []byte{0x80}, protocol.ErrTruncatedBuffer},
		{"truncated_unknown", []byte{0xFA, 0x01, 0x05, 0x01}, protocol.ErrTruncatedBuffer},
		{"field_zero", []byte{0x00, 0x01}, protocol.ErrSchemaMismatch},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(mt, tc.data); !errors.Is(err, tc.want) {
				t.Errorf("Decode(%x) error = %v, want %v", tc.data, err, tc.want)
			}
		})
	}
}

func TestEncodeTypeMismatch(t *testing.T) {
	mt := lookup(t, mustSchema(t, testSchema), "area.playerHandler.update")

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"string_for_int", map[string]any{"level": "abc"}},
		{"negative_uint", map[string]any{"big": -1}},
		{"fraction_for_int", map[string]any{"level": 1.5}},
		{"scalar_for_message", map[string]any{"home": 5}},
		{"scalar_for_repeated", map[string]any{"items": 5}},
		{"list_for_map", map[string]any{"stats": []any{1}}},
		{"unknown_enum", map[string]any{"state": "FLYING"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Encode(mt, tc.payload); !errors.Is(err, protocol.ErrSchemaMismatch) {
				t.Errorf("Encode(%v) error = %v, want SchemaMismatch", tc.payload, err)
			}
		})
	}
}
