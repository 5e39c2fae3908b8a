package core

import "errors"

// Error taxonomy shared across packages. Match with errors.Is; concrete errors
// wrap one (or two) of these with context.
var (
	// ErrConfiguration marks bad or missing configuration surfaced at construction.
	ErrConfiguration = errors.New("configuration error")
	// ErrCredential marks key material that cannot be parsed or loaded.
	ErrCredential = errors.New("credential error")
	// ErrSigning marks a failure while signing an assertion.
	ErrSigning = errors.New("signing error")
	// ErrTransport marks a failed token exchange: non-2xx status, connection failure or timeout.
	ErrTransport = errors.New("transport error")
	// ErrResponseFormat marks a token exchange response missing the expected fields.
	ErrResponseFormat = errors.New("response format error")
)
