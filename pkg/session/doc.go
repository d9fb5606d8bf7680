// Package session implements the Pinus connection state machine.
//
// A Session owns one transport connection and moves through four states:
//
//	Start ──Start()──▶ Handshaking ──handshake OK + ack──▶ Working
//	                        │                                │
//	                        └──────── error/kick/close ──────┴──▶ Closed
//
// On open the session sends a JSON handshake package. The server's reply
// carries the heartbeat interval, the route dictionary and the message
// schemas, from which the session builds a codec.Codec. Once the ack is
// written, data packages are decoded and handed to a Dispatcher: responses
// by request id, pushes by route.
//
// # Heartbeats
//
// When the negotiated interval is at least MinHeartbeatInterval, a Monitor
// sends a heartbeat package every interval. Any inbound heartbeat or data
// package resets it. If nothing arrives for more than two intervals the
// session closes with a HeartbeatTimeout cause.
//
// # Closing
//
// Every failure ends in the same path: the state becomes Closed, the
// monitor stops, the transport is closed once and Hooks.OnClose runs once
// with the cause. After that no package is written and no other hook runs.
package session
