package queue

import "errors"

// ErrAlreadyQueued is returned by Add when the session already has a pending
// or processing entry.
var ErrAlreadyQueued = errors.New("session already queued")
