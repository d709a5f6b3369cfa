package commit

import "errors"

var (
	// ErrIncompatibleVersion is returned when the commit point version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible commit point version")

	// ErrNotFound is returned when no commit point exists.
	ErrNotFound = errors.New("commit point not found")
)
