package harvest

import "errors"

// ErrAttributeRead indicates one attribute could not be read during harvest.
var ErrAttributeRead = errors.New("attribute read failed")
