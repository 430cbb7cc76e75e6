package engine

import (
	"errors"
)

var (
	// ErrRateNotFound indicates neither the store nor any provider had an
	// answer for a single-rate fetch.
	ErrRateNotFound = errors.New("rate not found")

	ErrInvalidRequest = errors.New("invalid rate request")
)
