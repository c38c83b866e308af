package feed

import (
	"errors"
	"fmt"
)

var (
	ErrFeedUnavailable = errors.New("feed unavailable")
	ErrFeedParse       = errors.New("feed parse error")
)

// UnavailableError reports a transport failure (Status 0) or a non-2xx response.
type UnavailableError struct {
	Status int
	Cause  error
}

func (e *UnavailableError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("feed unavailable: %v", e.Cause)
	}
	return fmt.Sprintf("feed unavailable: http %d", e.Status)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

func (e *UnavailableError) Is(target error) bool { return target == ErrFeedUnavailable }

// ParseError reports a body that is not a feature collection.
type ParseError struct {
	Cause error
}

func (e *ParseError) Error() string { return fmt.Sprintf("feed parse error: %v", e.Cause) }

func (e *ParseError) Unwrap() error { return e.Cause }

func (e *ParseError) Is(target error) bool { return target == ErrFeedParse }
