package probe

import "errors"

var (
	// ErrNoViableFormat indicates no candidate encoding round-tripped exactly.
	ErrNoViableFormat = errors.New("no viable format")

	// ErrNotStringNumeric indicates the observation is not a string-numeric
	// parameter.
	ErrNotStringNumeric = errors.New("not a string-numeric parameter")

	// ErrNoValueSet indicates no catalogued value set was echoed by the host.
	ErrNoValueSet = errors.New("no value set echoed")
)
