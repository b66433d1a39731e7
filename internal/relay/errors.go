package relay

import "errors"

var (
	// ErrMalformedPayload is returned when an event payload is missing required fields.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnknownEvent is returned for event names the relay does not handle.
	ErrUnknownEvent = errors.New("unknown event")
)
