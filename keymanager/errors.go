package keymanager

import "errors"

var (
	// ErrUnknownKeyType is returned when a key references a type with no
	// registered scheme backend.
	ErrUnknownKeyType = errors.New("keymanager: unknown key type")

	// ErrRoleViolation is returned when an operation receives a key of the
	// wrong public/private role.
	ErrRoleViolation = errors.New("keymanager: wrong key role")

	// ErrTransport is returned for directory or provider calls that fail at
	// the transport level: non-2xx status, wrong content type, TLS failure.
	ErrTransport = errors.New("keymanager: transport failure")

	// ErrAuthenticationRequired is returned when an authenticated call is
	// attempted without a session token.
	ErrAuthenticationRequired = errors.New("keymanager: session token required")

	// ErrNoCACert is returned when a network call is attempted without a CA
	// trust anchor and no HTTP client was injected.
	ErrNoCACert = errors.New("keymanager: CA certificate required")

	// ErrNotPublishable is returned by SendKey for schemes whose keys the
	// provider does not accept.
	ErrNotPublishable = errors.New("keymanager: key type is not publishable")
)

// IsUnknownKeyType reports whether err is or wraps ErrUnknownKeyType.
func IsUnknownKeyType(err error) bool {
	return errors.Is(err, ErrUnknownKeyType)
}

// IsRoleViolation reports whether err is or wraps ErrRoleViolation.
func IsRoleViolation(err error) bool {
	return errors.Is(err, ErrRoleViolation)
}

// IsTransport reports whether err is or wraps ErrTransport.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
