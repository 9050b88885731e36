package relay

import "errors"

var (
	// ErrSessionNotFound is returned when an operation references a
	// conversation id with no live session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when audio or control input arrives for a
	// session that is closing or closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrUpstreamUnavailable is returned when the provider handshake fails.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedFrame is returned for client input that cannot be parsed
	// as a tagged command.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrQueueFull is returned when audio arrives before the upstream is
	// ready and the pre-ready queue is already at capacity.
	ErrQueueFull = errors.New("pending audio queue full")
)
