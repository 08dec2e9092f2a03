package transport

import (
	"errors"
	"time"
)

// SendError classifies a failed send for the retry loop.
type SendError struct {
	Err error
	// RetryAfter is the wait the platform asked for (flood control).
	RetryAfter time.Duration
	// Permanent means another attempt cannot succeed, e.g. the bot was
	// removed from the channel.
	Permanent bool
}

func (e *SendError) Error() string { return e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

// RetryAfter returns the platform-requested wait carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var se *SendError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

func IsPermanent(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Permanent
}
