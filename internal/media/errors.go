package media

import "errors"

var (
	// ErrMediaUnavailable indicates the media could not be fetched within the
	// retry budget or exceeded the configured size ceiling.
	ErrMediaUnavailable = errors.New("media unavailable")
)
