package codec

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/vango-dev/pinus/pkg/protobuf"
	"github.com/vango-dev/pinus/pkg/protocol"
)

// DefaultCompressThreshold is the body size above which outbound bodies are
// gzipped when compression is enabled.
const DefaultCompressThreshold = 1024

// Options configures a Codec.
type Options struct {
	// Dict is the route dictionary from the handshake. May be nil.
	Dict *protocol.RouteDictionary

	// ServerSchema decodes server → client bodies. May be nil.
	ServerSchema *protobuf.Schema

	// ClientSchema encodes client → server bodies. May be nil.
	ClientSchema *protobuf.Schema

	// Strict rejects routes without a client schema entry with UnknownRoute
	// instead of sending the payload as JSON.
	// Default: false
	Strict bool

	// Compress gzips outbound bodies larger than CompressThreshold.
	// Default: false
	Compress bool

	// CompressThreshold is the minimum body size that gets compressed.
	// Default: 1024
	CompressThreshold int
}

// Message is a decoded inbound message.
type Message struct {
	Type    protocol.MessageType
	ID      uint32
	Route   string
	Payload map[string]any
}

// Codec turns route + payload into data package bodies and back.
//
// Responses carry no route on the wire, so the codec remembers the route of
// every encoded request until its response is decoded or Forget is called.
// A Codec is safe for concurrent use; its schemas and dictionary are never
// modified after New.
type Codec struct {
	dict      *protocol.RouteDictionary
	server    *protobuf.Schema
	client    *protobuf.Schema
	strict    bool
	compress  bool
	threshold int

	mu     sync.Mutex
	routes map[uint32]string
}

// New creates a codec.
func New(opts Options) *Codec {
	if opts.CompressThreshold <= 0 {
		opts.CompressThreshold = DefaultCompressThreshold
	}
	return &Codec{
		dict:      opts.Dict,
		server:    opts.ServerSchema,
		client:    opts.ClientSchema,
		strict:    opts.Strict,
		compress:  opts.Compress,
		threshold: opts.CompressThreshold,
		routes:    make(map[uint32]string),
	}
}

// FromHandshake builds a codec from a parsed handshake response. opts
// supplies the policy fields; its dictionary and schemas are replaced.
func FromHandshake(resp *protocol.HandshakeResponse, opts Options) (*Codec, error) {
	server, err := protobuf.ParseSchema(resp.ServerProtos)
	if err != nil {
		return nil, err
	}
	client, err := protobuf.ParseSchema(resp.ClientProtos)
	if err != nil {
		return nil, err
	}
	opts.Dict = protocol.NewRouteDictionary(resp.Dict)
	opts.ServerSchema = server
	opts.ClientSchema = client
	return New(opts), nil
}

// Dict returns the route dictionary.
func (c *Codec) Dict() *protocol.RouteDictionary {
	return c.dict
}

// Encode encodes a request (id > 0) or notify (id == 0).
func (c *Codec) Encode(route string, id uint32, payload map[string]any) ([]byte, error) {
	body, err := c.encodeBody(route, payload)
	if err != nil {
		return nil, err
	}

	m := &protocol.Message{Type: protocol.MessageNotify, Route: route, Body: body}
	if id > 0 {
		m.Type = protocol.MessageRequest
		m.ID = id
	}
	if c.compress && len(body) > c.threshold {
		z, err := deflate(body)
		if err != nil {
			return nil, err
		}
		m.Body = z
		m.Compressed = true
	}

	out, err := protocol.EncodeMessage(m, c.dict)
	if err != nil {
		return nil, err
	}
	if id > 0 {
		c.mu.Lock()
		c.routes[id] = route
		c.mu.Unlock()
	}
	return out, nil
}

func (c *Codec) encodeBody(route string, payload map[string]any) ([]byte, error) {
	if mt, ok := c.client.Lookup(route); ok {
		return protobuf.Encode(mt, payload)
	}
	if c.strict {
		return nil, protocol.Errorf(protocol.CodeUnknownRoute, "no client schema for route %q", route)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, protocol.WrapError(protocol.CodeSchemaMismatch, err, "route "+route)
	}
	return body, nil
}

// Decode decodes a data package body. A response whose id was never encoded
// by this codec fails with UnknownRoute.
func (c *Codec) Decode(data []byte) (*Message, error) {
	m, err := protocol.DecodeMessage(data, c.dict)
	if err != nil {
		return nil, err
	}

	route := m.Route
	if m.Type == protocol.MessageResponse {
		c.mu.Lock()
		r, ok := c.routes[m.ID]
		delete(c.routes, m.ID)
		c.mu.Unlock()
		if !ok {
			return nil, protocol.Errorf(protocol.CodeUnknownRoute, "response %d has no outstanding request", m.ID)
		}
		route = r
	}

	body := m.Body
	if m.Compressed {
		if body, err = inflate(body); err != nil {
			return nil, err
		}
	}

	payload, err := c.decodeBody(route, body)
	if err != nil {
		return nil, err
	}
	return &Message{Type: m.Type, ID: m.ID, Route: route, Payload: payload}, nil
}

func (c *Codec) decodeBody(route string, body []byte) (map[string]any, error) {
	if mt, ok := c.server.Lookup(route); ok {
		return protobuf.Decode(mt, body)
	}
	payload := map[string]any{}
	if len(body) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, protocol.WrapError(protocol.CodeSchemaMismatch, err, "route "+route+": body is neither schema-encoded nor JSON")
	}
	return payload, nil
}

// Forget drops the remembered route for a request that will never be
// answered, such as one abandoned by its caller.
func (c *Codec) Forget(id uint32) {
	c.mu.Lock()
	delete(c.routes, id)
	c.mu.Unlock()
}

// Outstanding returns the number of requests awaiting a response.
func (c *Codec) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.routes)
}

func deflate(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(body []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, protocol.WrapError(protocol.CodeMalformedFrame, err, "gzip body")
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, protocol.DefaultMaxAllocation+1))
	if err != nil {
		return nil, protocol.WrapError(protocol.CodeMalformedFrame, err, "gzip body")
	}
	if len(out) > protocol.DefaultMaxAllocation {
		return nil, protocol.Errorf(protocol.CodeMalformedFrame, "gzip body inflates past %d bytes", protocol.DefaultMaxAllocation)
	}
	return out, nil
}
