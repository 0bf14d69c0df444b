package breaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrOpen matches any *OpenError via errors.Is.
var ErrOpen = errors.New("circuit open")

// OpenError is returned by Execute when the breaker denies a call. It never
// wraps the protected operation's error.
type OpenError struct {
	Key     string
	State   State
	RetryAt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %q (%s), retry after %s", e.Key, e.State, e.RetryAt.Format(time.RFC3339))
}

func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// IsOpen reports whether err came from a denied call.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}
