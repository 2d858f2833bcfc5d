package feeds

import "fmt"

// DuplicateFeedError is returned when adding a feed that is already
// tracked. Surfaced to the caller, never fatal.
type DuplicateFeedError struct {
	Feed string
}

func (e *DuplicateFeedError) Error() string {
	return fmt.Sprintf("feed %s already added", e.Feed)
}

// FeedNotFoundError is returned when removing or reading something that
// is not tracked.
type FeedNotFoundError struct {
	Feed string
}

func (e *FeedNotFoundError) Error() string {
	return fmt.Sprintf("no feed %s", e.Feed)
}

// RequestError is a non-2xx upstream response. Body carries the raw
// response payload for the diagnostic log.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("[%d] %s", e.Status, e.Body)
}

// ParseError is an upstream response that does not match the expected
// schema.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "unexpected response: " + e.Reason
}
