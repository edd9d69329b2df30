package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrTokenUnavailable = errors.New("no upstream token available")
	ErrTokenTimeout     = errors.New("upstream token request timed out")
	ErrTokenFetchFailed = errors.New("upstream token fetch failed")
	ErrUpstreamTimeout  = errors.New("upstream request timed out")
	ErrPlatformNotFound = errors.New("platform not found")
	ErrNoUserMessage    = errors.New("last message must have role user")
	ErrNoResponseBody   = errors.New("no response body from upstream")
)

// UpstreamHTTPError carries the upstream status and a truncated body for
// diagnosability. Credentials never appear in the message.
type UpstreamHTTPError struct {
	Status int
	Body   string
}

func (e *UpstreamHTTPError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, body)
}
