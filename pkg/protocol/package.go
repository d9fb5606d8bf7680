package protocol

import "errors"

// Package constants.
const (
	// PackageHeaderSize is the size of the package header in bytes.
	PackageHeaderSize = 4

	// MaxPackageBody is the largest body a 3-byte length can describe.
	MaxPackageBody = 1<<24 - 1
)

// PackageType identifies the type of package.
type PackageType uint8

const (
	PackageHandshake    PackageType = 0x01 // Client hello / server handshake response
	PackageHandshakeAck PackageType = 0x02 // Client confirms the handshake
	PackageHeartbeat    PackageType = 0x03 // Liveness probe, empty body
	PackageData         PackageType = 0x04 // Encoded message
	PackageKick         PackageType = 0x05 // Server forces a disconnect
)

// String returns the string representation of the package type.
func (pt PackageType) String() string {
	switch pt {
	case PackageHandshake:
		return "Handshake"
	case PackageHandshakeAck:
		return "HandshakeAck"
	case PackageHeartbeat:
		return "Heartbeat"
	case PackageData:
		return "Data"
	case PackageKick:
		return "Kick"
	default:
		return "Unknown"
	}
}

// Valid reports whether pt is one of the known package types.
func (pt PackageType) Valid() bool {
	return pt >= PackageHandshake && pt <= PackageKick
}

// Package errors.
var (
	ErrPackageTooLarge    = errors.New("protocol: package body too large")
	ErrHeartbeatWithBody = errors.New("protocol: heartbeat package carries a body")
)

// Package is the outermost unit on the wire.
//
// Wire format (4 bytes header + variable body):
//
//	┌─────────────┬───────────────────────────────────────────┐
//	│ Type        │ Body Length                               │
//	│ (1 byte)    │ (3 bytes, big-endian)                     │
//	└─────────────┴───────────────────────────────────────────┘
//	│                                                         │
//	│  Body (variable length)                                 │
//	│                                                         │
//	└─────────────────────────────────────────────────────────┘
type Package struct {
	Type PackageType
	Body []byte
}

// EncodePackage encodes a package of type t around body.
// A nil body produces a 4-byte package with length 0. Heartbeats must be
// empty.
func EncodePackage(t PackageType, body []byte) ([]byte, error) {
	if len(body) > MaxPackageBody {
		return nil, ErrPackageTooLarge
	}
	if t == PackageHeartbeat && len(body) > 0 {
		return nil, ErrHeartbeatWithBody
	}
	e := NewEncoderWithCap(PackageHeaderSize + len(body))
	e.WriteByte(byte(t))
	e.WriteUint24(uint32(len(body)))
	e.WriteBytes(body)
	return e.Bytes(), nil
}

// Encode encodes the package to bytes including the header.
func (p *Package) Encode() ([]byte, error) {
	return EncodePackage(p.Type, p.Body)
}

// DecodePackage decodes exactly one package. The declared length must match
// the bytes that follow the header.
func DecodePackage(data []byte) (*Package, error) {
	p, n, err := decodeOne(data)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, Errorf(CodeMalformedFrame, "declared length %d, have %d body bytes",
			n-PackageHeaderSize, len(data)-PackageHeaderSize)
	}
	return p, nil
}

// DecodePackages splits a buffer holding one or more concatenated packages.
// Servers batch packages into a single transport message under load.
func DecodePackages(data []byte) ([]*Package, error) {
	var pkgs []*Package
	for len(data) > 0 {
		p, n, err := decodeOne(data)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, p)
		data = data[n:]
	}
	if len(pkgs) == 0 {
		return nil, Errorf(CodeMalformedFrame, "empty buffer")
	}
	return pkgs, nil
}

// decodeOne decodes the package at the head of data and returns the number
// of bytes it occupies.
func decodeOne(data []byte) (*Package, int, error) {
	if len(data) < PackageHeaderSize {
		return nil, 0, Errorf(CodeMalformedFrame, "need %d header bytes, have %d", PackageHeaderSize, len(data))
	}
	pt := PackageType(data[0])
	if !pt.Valid() {
		return nil, 0, Errorf(CodeMalformedFrame, "unknown package type %d", data[0])
	}
	length := int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if pt == PackageHeartbeat && length > 0 {
		return nil, 0, Errorf(CodeMalformedFrame, "heartbeat with %d body bytes", length)
	}
	end := PackageHeaderSize + length
	if end > len(data) {
		return nil, 0, Errorf(CodeMalformedFrame, "declared length %d, have %d body bytes",
			length, len(data)-PackageHeaderSize)
	}
	var body []byte
	if length > 0 {
		body = make([]byte, length)
		copy(body, data[PackageHeaderSize:end])
	}
	return &Package{Type: pt, Body: body}, end, nil
}
