package publisher

import (
	"errors"
	"fmt"

	"quakebot/internal/transport/bluesky"
)

var ErrPublish = errors.New("publish failed")

// Kind classifies a publish failure.
type Kind string

const (
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindNetwork   Kind = "network"
	KindRejected  Kind = "rejected"
)

type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("publish failed (%s)", e.Kind)
	}
	return fmt.Sprintf("publish failed (%s): %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool { return target == ErrPublish }

// classify maps sink errors onto the publish taxonomy.
func classify(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, bluesky.ErrNoCredentials) {
		return &Error{Kind: KindAuth, Cause: err}
	}
	var ae *bluesky.APIError
	if errors.As(err, &ae) {
		switch {
		case ae.IsAuth():
			return &Error{Kind: KindAuth, Cause: err}
		case ae.IsRateLimit():
			return &Error{Kind: KindRateLimit, Cause: err}
		default:
			return &Error{Kind: KindRejected, Cause: err}
		}
	}
	return &Error{Kind: KindNetwork, Cause: err}
}
