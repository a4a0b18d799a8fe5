package classify

import "errors"

// ErrRangeIndeterminate indicates bracketing found fewer than two distinct
// accepted values.
var ErrRangeIndeterminate = errors.New("range indeterminate")
