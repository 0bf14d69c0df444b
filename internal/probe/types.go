package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/hamed0406/heartbeat/internal/domain"
)

var (
	ErrProbeTimeout     = errors.New("probe timeout")
	ErrProbeNetwork     = errors.New("probe network error")
	ErrUnhealthyStatus  = errors.New("unhealthy status")
	ErrProbeCanceled    = errors.New("probe canceled")
	errProbeUnclassified = errors.New("probe failed")
)

// CheckResult holds the outcome of a single check.
//
// StatusCode is 0 for transport errors. Version and Uptime are copied from a
// JSON response body when present.
type CheckResult struct {
	Success    bool
	StatusCode int
	LatencyMS  float64
	Message    string
	Kind       domain.ErrorKind
	Version    string
	Uptime     string
}

// Err converts a failed result into a *Error, nil on success.
func (r CheckResult) Err() error {
	if r.Success {
		return nil
	}
	return &Error{Kind: r.Kind, StatusCode: r.StatusCode, Message: r.Message}
}

// Checker is implemented by any service check.
type Checker interface {
	Check(ctx context.Context, t domain.Target) CheckResult
}

// Error carries a classified probe failure.
type Error struct {
	Kind       domain.ErrorKind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %d %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	switch e.Kind {
	case domain.KindTimeout:
		return ErrProbeTimeout
	case domain.KindNetwork:
		return ErrProbeNetwork
	case domain.KindHTTPStatus:
		return ErrUnhealthyStatus
	case domain.KindCanceled:
		return ErrProbeCanceled
	}
	return errProbeUnclassified
}
