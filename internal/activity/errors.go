package activity

import "errors"

var (
	// ErrTransportRefused is classified from a TCP RST/ECONNREFUSED: a
	// soft failure that just removes the APL entry.
	ErrTransportRefused = errors.New("activity: transport refused")

	// ErrTransportError is any other network failure probing a peer,
	// logged at a higher severity than ErrTransportRefused.
	ErrTransportError = errors.New("activity: transport error")
)
