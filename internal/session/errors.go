package session

import "errors"

var (
	// ErrStoreUnavailable indicates the underlying persistence is down. The
	// pipeline aborts the turn and signals the transport to retry later.
	ErrStoreUnavailable = errors.New("session store unavailable")
)
