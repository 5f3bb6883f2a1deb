package processor

import "errors"

var (
	ErrNoItems           = errors.New("no items found for the given search parameters")
	ErrNoSearch          = errors.New("no STAC items found. Perform a search first")
	ErrInvalidPercentile = errors.New("percentile must be between 0 and 100")
	ErrNoBands           = errors.New("argument bands is required")
)
