package types

import "errors"

// ErrOutsideRoot is returned when a path is the root itself or is not below it.
var ErrOutsideRoot = errors.New("path is not below the index root")
