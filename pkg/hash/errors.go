package hash

import "errors"

var ErrMissingVersion = errors.New("signed package missing version")
