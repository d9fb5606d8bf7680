// Package transport defines the byte-stream contract the protocol session
// runs on and provides a WebSocket implementation of it.
package transport

import "context"

// Handler receives transport notifications. Calls are made from a single
// goroutine per connection, in order.
type Handler interface {
	// OnOpen is called once the connection is established.
	OnOpen()

	// OnMessage is called for every complete binary message.
	OnMessage(data []byte)

	// OnClose is called once when the connection ends.
	OnClose()

	// OnError reports a failure that ends the connection. OnClose follows.
	OnError(err error)
}

// Transport is a duplex message connection.
type Transport interface {
	// Connect dials the peer and starts delivering notifications to h.
	Connect(ctx context.Context, h Handler) error

	// Send writes one message. It is silently ignored before the
	// connection opens and after it closes.
	Send(data []byte) error

	// Close closes the connection. It is safe to call more than once.
	Close() error
}

// Dialer creates a transport for a server URL.
type Dialer func(url string) Transport
