// Package protobuf encodes and decodes message bodies against schemas that
// arrive at runtime.
//
// Servers publish their message descriptors in the handshake as protobufjs
// JSON. ParseSchema turns that document into MessageType values whose
// fields are resolved once into a tagged form (Label, ScalarType, embedded
// MessageType) indexed by name and by wire id:
//
//	{"nested": {"chat.send": {"fields": {
//	    "uid":  {"type": "uint32", "id": 1},
//	    "tags": {"type": "string", "id": 2, "rule": "repeated"},
//	    "meta": {"type": "int32",  "id": 3, "keyType": "string"}
//	}}}}
//
// Payloads are map[string]any. Decode produces canonical Go types: uint32,
// int32, int64, uint64, float32, float64, bool, string, []byte, nested
// map[string]any, []any for repeated fields and map[string]any with string
// keys for map fields. Encode accepts those and any other Go number,
// json.Number or numeric string.
//
// The wire format is proto3: int32/int64 are plain two's-complement varints,
// sint32/sint64 are zig-zag varints, fixed-width values are little-endian.
package protobuf
