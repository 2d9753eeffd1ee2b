// Package payload implements the signed, encrypted envelope format that every
// vault revision is stored and replicated as (see SPEC_FULL.md §4.1).
package payload

import "errors"

// Sentinel errors returned by the codec. Callers compare with errors.Is.
var (
	// ErrMalformedEnvelope is returned when a byte string is too short or
	// mis-framed to be a valid envelope or encrypted body.
	ErrMalformedEnvelope = errors.New("payload: malformed envelope")

	// ErrUnsupportedVersion is returned when protocol_version != 0.
	ErrUnsupportedVersion = errors.New("payload: unsupported protocol version")

	// ErrInvalidSignature is returned when verify fails signature validation,
	// including when the vault id cannot be parsed back into a public key.
	ErrInvalidSignature = errors.New("payload: invalid signature")

	// ErrBadKey is returned when decrypt fails due to a padding error, i.e.
	// the wrong password/key was used.
	ErrBadKey = errors.New("payload: bad key")
)
