package pinus

import (
	"context"
	"errors"

	"github.com/vango-dev/pinus/pkg/protocol"
)

// NetworkState is the connection state reported to OnStateChange handlers.
type NetworkState int

const (
	StateClosed       NetworkState = iota // Initial state, or closed locally
	StateConnecting                       // Dialing and handshaking
	StateConnected                        // Handshake complete
	StateDisconnected                     // Kicked, or the server closed the connection
	StateTimeout                          // Connect or heartbeat timeout
	StateError                            // Transport, handshake or decode failure
)

// String returns the string representation of the network state.
func (s NetworkState) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	case StateTimeout:
		return "Timeout"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// stateForCause maps a session close cause to the state reported to users.
func stateForCause(cause error) NetworkState {
	switch {
	case cause == nil:
		return StateClosed
	case errors.Is(cause, protocol.ErrHeartbeatTimeout),
		errors.Is(cause, context.DeadlineExceeded):
		return StateTimeout
	case errors.Is(cause, protocol.ErrKicked),
		errors.Is(cause, protocol.ErrConnectionClosed):
		return StateDisconnected
	default:
		return StateError
	}
}
