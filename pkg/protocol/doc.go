// Package protocol implements the Pinus/Pomelo wire protocol.
//
// Two layers travel over every WebSocket binary message: a package that
// frames the bytes, and, inside data packages, a message header followed
// by an application body. Bodies are produced by package protobuf or are
// plain JSON; this package treats them as opaque bytes.
//
// # Package Format
//
// All traffic is framed with a 4-byte header:
//
//	┌─────────────┬───────────────────────────────────────────┐
//	│ Type        │ Body Length                               │
//	│ (1 byte)    │ (3 bytes, big-endian, max 16,777,215)     │
//	└─────────────┴───────────────────────────────────────────┘
//
// # Package Types
//
//   - PackageHandshake (0x01): JSON hello from client, JSON handshake from server
//   - PackageHandshakeAck (0x02): client confirms the handshake, empty body
//   - PackageHeartbeat (0x03): liveness probe, empty body
//   - PackageData (0x04): message header + body
//   - PackageKick (0x05): server forces a disconnect, optional JSON reason
//
// # Message Header
//
//	[Flag: 1 byte][ID: varint, request/response only][Route][Body]
//
// The flag byte carries the message type in bits 1-3, a route-compressed bit
// (0x01) and a gzip bit (0x10). A compressed route is a 2-byte big-endian code
// from the handshake dictionary; otherwise it is a 1-byte length followed by
// UTF-8 bytes. Responses carry no route.
//
// # Handshake
//
//	Client                                Server
//	  │                                      │
//	  │──── Handshake {sys, user} ─────────>│
//	  │                                      │
//	  │<─── Handshake {code, sys, user} ────│
//	  │     (heartbeat, dict, protos)        │
//	  │                                      │
//	  │──── HandshakeAck ──────────────────>│
//	  │                                      │
//
// # Errors
//
// Failures are reported as *Error values carrying an ErrorCode. Compare them
// with errors.Is against the Err* sentinels.
//
// # File Structure
//
//   - package.go: package framing
//   - message.go: message header and route dictionary
//   - handshake.go: handshake request and response documents
//   - varint.go, encoder.go, decoder.go: wire primitives
//   - error.go: error taxonomy
package protocol
