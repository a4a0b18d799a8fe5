package discovery

import "errors"

var (
	// ErrNoParameters indicates the host exposed no parameters at all. It is
	// reported as a diagnostic on an empty record, never returned.
	ErrNoParameters = errors.New("no parameters enumerated")

	// ErrInvalidTarget indicates a target without a proxy or with an unusable
	// plugin identity.
	ErrInvalidTarget = errors.New("invalid discovery target")
)
