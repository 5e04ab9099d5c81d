package fetcher

import (
	"errors"
	"fmt"
)

var (
	// ErrIgnored marks a URL excluded by the ignore list or the skip-set.
	ErrIgnored = errors.New("url ignored")
	// ErrNoContent marks a fetch that produced nothing after every attempt.
	ErrNoContent = errors.New("no content")
	// ErrDisallowed marks a URL refused by robots.txt.
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// StatusError is a non-success HTTP response.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// TransportError wraps a failure to obtain or read a response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }
