package cnst

import "errors"

var (
	// ErrMissingToken is returned when no gateway token is configured
	ErrMissingToken = errors.New("gateway token is required")
	// ErrMissingSecret is returned when no forwarding secret is configured
	ErrMissingSecret = errors.New("forward secret is required")
	// ErrMissingEndpoint is returned when no forwarding endpoint is configured
	ErrMissingEndpoint = errors.New("forward endpoint is required")
	// ErrInvalidEndpoint is returned when the forwarding endpoint is not an absolute http(s) url
	ErrInvalidEndpoint = errors.New("forward endpoint must be an absolute http(s) url")
	// ErrInvalidGatewayURL is returned when the gateway url is not a ws(s) url
	ErrInvalidGatewayURL = errors.New("gateway url must be an absolute ws(s) url")
	// ErrMemoryLimitExceeded is returned by the watchdog when the process outgrows its ceiling
	ErrMemoryLimitExceeded = errors.New("memory limit exceeded")
	// ErrMalformedFrame is returned when a frame cannot be decoded
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrNotConnected is returned when writing without an open socket
	ErrNotConnected = errors.New("not connected")
	// ErrForwardStatus is returned when the sink answers with a non-2xx status
	ErrForwardStatus = errors.New("unexpected forward status")
)
