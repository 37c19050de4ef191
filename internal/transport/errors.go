package transport

import "errors"

var (
	// ErrDialFailed indicates the relay endpoint was unreachable within the
	// connection attempt window.
	ErrDialFailed = errors.New("transport: dial failed")
	// ErrNotConnected indicates an operation was attempted without a live
	// connection.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrRequestTimeout indicates no correlated response arrived in time.
	ErrRequestTimeout = errors.New("transport: request timed out")
	// ErrConnectionLost indicates reconnect attempts were exhausted. The
	// transport stays down until Connect is called again.
	ErrConnectionLost = errors.New("transport: connection lost")
	// ErrClosed indicates the transport was shut down by its owner.
	ErrClosed = errors.New("transport: closed")
)
