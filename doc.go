// Package pinus is a client for Pinus and Pomelo game servers.
//
// A Client connects over WebSocket, performs the Pinus handshake, and then
// exchanges route-addressed messages with the server:
//
//	client := pinus.New(pinus.Config{URL: "ws://127.0.0.1:3010"})
//	user, err := client.Connect(ctx)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	resp, err := client.Request(ctx, "connector.entryHandler.entry", map[string]any{"uid": 42})
//	client.On("onChat", func(msg map[string]any) { ... })
//	client.Notify(ctx, "chat.chatHandler.send", map[string]any{"content": "hi"})
//
// # Payloads
//
// Payloads are map[string]any. When the server's handshake carries a
// protobuf schema for a route, bodies are encoded with it; other routes
// travel as JSON unless Config.StrictSchema is set.
//
// # Network State
//
// OnStateChange observes Connecting, Connected and the terminal states.
// A heartbeat or connect timeout reports Timeout, a server kick or close
// reports Disconnected, a local Close reports Closed and any other failure
// reports Error. A closed client can Connect again.
//
// # Packages
//
//   - pkg/protocol: package framing, message headers, handshake documents
//   - pkg/protobuf: schema-driven protobuf encoding of JSON-like payloads
//   - pkg/codec: route dictionary, schema selection and compression
//   - pkg/session: handshake state machine and heartbeats
//   - pkg/transport: WebSocket transport
//   - pkg/telemetry: Prometheus metrics and OpenTelemetry spans
package pinus
