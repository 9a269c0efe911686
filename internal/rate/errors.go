package rate

import "errors"

var (
	// ErrRateLimited is returned when a window's limit has been exceeded.
	ErrRateLimited = errors.New("rate limited")
	// ErrCounterUnavailable is returned when the counter backend fails.
	ErrCounterUnavailable = errors.New("rate counter unavailable")
)
