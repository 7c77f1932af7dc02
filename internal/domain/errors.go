package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceBusy is returned when a cycle is requested while one is in flight.
	ErrSourceBusy = errors.New("source cycle already in flight")
	// ErrUnknownSource is returned for a source name that is not configured.
	ErrUnknownSource = errors.New("unknown source")
	// ErrRateLimited is returned when a dispatch attempt exceeds the notification rate.
	ErrRateLimited = errors.New("dispatch rate limited")
)

// FetchErrorKind classifies transport failures.
type FetchErrorKind string

const (
	FetchUnreachable FetchErrorKind = "unreachable"
	FetchTimeout     FetchErrorKind = "timeout"
	FetchBadResponse FetchErrorKind = "bad_response"
)

// FetchError is the only error a source adapter returns.
type FetchError struct {
	Source string
	Kind   FetchErrorKind
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError describes one record dropped by the normalizer. Index is
// the record's position in the payload.
type ValidationError struct {
	Index  int    `json:"index"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %d: %s: %s", e.Index, e.Field, e.Reason)
}

// NotFoundError is returned when resolving an incident that is not active.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("incident %q not found among active incidents", e.ID)
}

// DispatchFailure reports a failed notification attempt. The incident's
// state is not rolled back; the attempt stays pending for retry.
type DispatchFailure struct {
	IncidentID string
	Err        error
}

func (e *DispatchFailure) Error() string {
	return fmt.Sprintf("dispatch for incident %s failed: %v", e.IncidentID, e.Err)
}

func (e *DispatchFailure) Unwrap() error { return e.Err }
