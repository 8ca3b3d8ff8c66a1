package feed

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNonOkResponse     = errors.New("non-OK response")
	ErrEmptyResponseBody = errors.New("empty response body")
	ErrNonJSONContent    = errors.New("non-JSON content type")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnavailable       = errors.New("source unavailable")
	ErrMalformed         = errors.New("malformed payload")
)

// FetchError describes a non-OK answer of a feed.
type FetchError struct {
	Source     string
	StatusCode int
	Status     string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Source, ErrNonOkResponse, e.Status)
}

// Is maps HTTP status codes onto the package sentinel errors.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrNonOkResponse:
		return true
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrUnavailable:
		return e.StatusCode >= http.StatusInternalServerError
	}
	return false
}
