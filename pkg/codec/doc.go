// Package codec composes the message header, schema-driven bodies and
// optional gzip compression into the body of a data package.
//
// Routes listed in the client schema are encoded with package protobuf;
// other routes are sent as JSON unless Options.Strict is set, in which case
// they fail with protocol.ErrUnknownRoute. Inbound bodies follow the same
// rule against the server schema.
package codec
