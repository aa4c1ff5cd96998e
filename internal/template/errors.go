package template

import "errors"

var (
	// ErrUnknownTrigger is returned when no template is registered for a
	// trigger.
	ErrUnknownTrigger = errors.New("unknown template trigger")
	// ErrMissingPlaceholder is returned when a render call does not supply a
	// value for every placeholder in the template body. A literal placeholder
	// must never reach the user.
	ErrMissingPlaceholder = errors.New("missing template placeholder")
)
