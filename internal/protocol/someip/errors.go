package someip

import "errors"

var (
	ErrTooShort        = errors.New("someip: fewer bytes than the fixed header")
	ErrMalformed       = errors.New("someip: length field inconsistent with available bytes")
	ErrPayloadTooLarge = errors.New("someip: payload too large")
)
