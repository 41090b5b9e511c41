package feed

import (
	"fmt"
	"time"
)

// Item is one normalized entry from the feed.
type Item struct {
	GUID        string
	Title       string
	Link        string
	Source      string    // originating publication, empty when not present
	PublishedAt time.Time // zero when the feed date could not be parsed
}

// FetchErrorKind classifies why a feed retrieval failed.
type FetchErrorKind string

const (
	FetchErrorTimeout FetchErrorKind = "timeout"
	FetchErrorStatus  FetchErrorKind = "http_status"
	FetchErrorNetwork FetchErrorKind = "network"
	FetchErrorParse   FetchErrorKind = "parse"
)

// FetchError is fatal for the run: the store is left unchanged and the next
// scheduled invocation retries.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchErrorStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FilterError reports a malformed filter expression. It is raised while
// resolving configuration, before any network I/O.
type FilterError struct {
	Expression string
	Reason     string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("invalid filter expression %q: %s", e.Expression, e.Reason)
}
