package protocol

import (
	"errors"
	"fmt"
)

// ErrRouteTooLong is wrapped by the UnknownRoute error returned for an
// uncompressed route over MaxRouteLen bytes.
var ErrRouteTooLong = errors.New("protocol: route too long")

// MessageType identifies the kind of message carried in a data package.
type MessageType uint8

const (
	MessageRequest  MessageType = 0x00 // Client request, expects a response
	MessageNotify   MessageType = 0x01 // Client notify, no response
	MessageResponse MessageType = 0x02 // Server response to a request
	MessagePush     MessageType = 0x03 // Server-initiated push
)

// String returns the string representation of the message type.
func (mt MessageType) String() string {
	switch mt {
	case MessageRequest:
		return "Request"
	case MessageNotify:
		return "Notify"
	case MessageResponse:
		return "Response"
	case MessagePush:
		return "Push"
	default:
		return "Unknown"
	}
}

// HasID reports whether messages of this type carry a request id.
func (mt MessageType) HasID() bool {
	return mt == MessageRequest || mt == MessageResponse
}

// HasRoute reports whether messages of this type carry a route.
func (mt MessageType) HasRoute() bool {
	return mt == MessageRequest || mt == MessageNotify || mt == MessagePush
}

// Flag byte layout.
const (
	flagRouteCompressed byte = 0x01
	flagGzip            byte = 0x10
	flagTypeShift            = 1
	flagTypeMask        byte = 0x07

	// MaxRouteLen is the longest uncompressed route a 1-byte length allows.
	MaxRouteLen = 255
)

// Message is a decoded data package body.
//
// Wire format:
//
//	┌──────────┬─────────────────────┬──────────────────────────────┬────────┐
//	│ Flag     │ ID                  │ Route                        │ Body   │
//	│ (1 byte) │ (varint, req/resp)  │ (2-byte code, or 1-byte len  │        │
//	│          │                     │  + UTF-8; req/notify/push)   │        │
//	└──────────┴─────────────────────┴──────────────────────────────┴────────┘
//
// Flag bits: 0 route compressed, 1-3 message type, 4 body gzipped.
type Message struct {
	Type            MessageType
	ID              uint32
	Route           string
	Body            []byte
	Compressed      bool // body is gzip-compressed
	RouteCompressed bool // set on decode when the route came from the dictionary
}

// RouteDictionary maps routes to the short codes negotiated at handshake.
// It is immutable after construction.
type RouteDictionary struct {
	codes  map[string]uint16
	routes map[uint16]string
}

// NewRouteDictionary builds a dictionary from route → code pairs.
func NewRouteDictionary(dict map[string]uint16) *RouteDictionary {
	d := &RouteDictionary{
		codes:  make(map[string]uint16, len(dict)),
		routes: make(map[uint16]string, len(dict)),
	}
	for route, code := range dict {
		d.codes[route] = code
		d.routes[code] = route
	}
	return d
}

// Code returns the code for route.
func (d *RouteDictionary) Code(route string) (uint16, bool) {
	if d == nil {
		return 0, false
	}
	c, ok := d.codes[route]
	return c, ok
}

// Route returns the route for code.
func (d *RouteDictionary) Route(code uint16) (string, bool) {
	if d == nil {
		return "", false
	}
	r, ok := d.routes[code]
	return r, ok
}

// Len returns the number of entries.
func (d *RouteDictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.codes)
}

// EncodeMessage encodes m. The route is replaced by its dictionary code when
// dict has one. dict may be nil.
func EncodeMessage(m *Message, dict *RouteDictionary) ([]byte, error) {
	if m.Type > MessagePush {
		return nil, Errorf(CodeMalformedFrame, "invalid message type %d", m.Type)
	}

	var code uint16
	compressRoute := false
	if m.Type.HasRoute() {
		code, compressRoute = dict.Code(m.Route)
		if !compressRoute && len(m.Route) > MaxRouteLen {
			return nil, WrapError(CodeUnknownRoute, ErrRouteTooLong, fmt.Sprintf("route of %d bytes, max %d", len(m.Route), MaxRouteLen))
		}
	}

	flag := byte(m.Type) << flagTypeShift
	if compressRoute {
		flag |= flagRouteCompressed
	}
	if m.Compressed {
		flag |= flagGzip
	}

	e := NewEncoderWithCap(1 + MaxVarintLen + 1 + len(m.Route) + len(m.Body))
	e.WriteByte(flag)
	if m.Type.HasID() {
		e.WriteUvarint(uint64(m.ID))
	}
	if m.Type.HasRoute() {
		if compressRoute {
			e.WriteUint16(code)
		} else {
			e.WriteByte(byte(len(m.Route)))
			e.WriteBytes([]byte(m.Route))
		}
	}
	e.WriteBytes(m.Body)
	return e.Bytes(), nil
}

// DecodeMessage decodes a data package body. Compressed routes are resolved
// through dict; an unknown code fails with UnknownRoute.
func DecodeMessage(data []byte, dict *RouteDictionary) (*Message, error) {
	d := NewDecoder(data)
	flag, err := d.ReadByte()
	if err != nil {
		return nil, err
	}

	m := &Message{
		Type:            MessageType((flag >> flagTypeShift) & flagTypeMask),
		Compressed:      flag&flagGzip != 0,
		RouteCompressed: flag&flagRouteCompressed != 0,
	}
	if m.Type > MessagePush {
		return nil, Errorf(CodeMalformedFrame, "invalid message type %d", m.Type)
	}

	if m.Type.HasID() {
		id, err := d.ReadUvarint()
		if err != nil {
			return nil, err
		}
		if id > 0xFFFFFFFF {
			return nil, Errorf(CodeMalformedFrame, "message id %d overflows uint32", id)
		}
		m.ID = uint32(id)
	}

	if m.Type.HasRoute() {
		if m.RouteCompressed {
			code, err := d.ReadUint16()
			if err != nil {
				return nil, err
			}
			route, ok := dict.Route(code)
			if !ok {
				return nil, Errorf(CodeUnknownRoute, "no route for dictionary code %d", code)
			}
			m.Route = route
		} else {
			n, err := d.ReadByte()
			if err != nil {
				return nil, err
			}
			raw, err := d.ReadBytes(int(n))
			if err != nil {
				return nil, err
			}
			m.Route = string(raw)
		}
	}

	if rest := d.Rest(); len(rest) > 0 {
		m.Body = make([]byte, len(rest))
		copy(m.Body, rest)
	}
	return m, nil
}
