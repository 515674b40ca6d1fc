package roborock

import "errors"

// Domain errors for the Roborock transport clients.
var (
	// ErrNotConnected is returned when a frame is written while the
	// transport has no open connection.
	ErrNotConnected = errors.New("roborock: not connected")

	// ErrConnectionFailed is returned when a socket or broker connection
	// cannot be established.
	ErrConnectionFailed = errors.New("roborock: connection failed")

	// ErrRequestTimeout is returned by Get when no reply arrives before the
	// request deadline.
	ErrRequestTimeout = errors.New("roborock: request timed out")

	// ErrClientClosed is returned to pending calls when the client
	// disconnects before their reply arrives.
	ErrClientClosed = errors.New("roborock: client closed")

	// ErrDuplicateRequest is returned when a message id is already waiting
	// for a reply.
	ErrDuplicateRequest = errors.New("roborock: message id already pending")

	// ErrNoRoute is returned when no transport can reach a device.
	ErrNoRoute = errors.New("roborock: no transport for device")

	// ErrSubscribeFailed is returned when the broker rejects the reply
	// subscription.
	ErrSubscribeFailed = errors.New("roborock: reply subscription failed")
)
