package domain

import "errors"

// Error taxonomy shared by every component. Producers wrap these with
// fmt.Errorf("%w: ...") and callers branch with errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrStorage          = errors.New("storage failure")
	ErrNotFound         = errors.New("record not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limit exceeded")
)
