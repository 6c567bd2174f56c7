// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the operation conflicts with an in-flight operation
// or a concurrent modification (optimistic locking).
var ErrConflict = errors.New("conflict: resource is busy or was modified by another request")

// ErrValidation indicates a request failed domain validation.
var ErrValidation = errors.New("validation failed")

// ErrResourceExhausted indicates the preview port pool is fully leased.
var ErrResourceExhausted = errors.New("resource exhausted: no ports available")

// ErrBuildFailed indicates a build exited non-zero or missed its startup deadline.
var ErrBuildFailed = errors.New("build failed")

// ErrUpstreamTimeout indicates an external collaborator exceeded its time bound.
var ErrUpstreamTimeout = errors.New("upstream timeout")

// ErrEditRejected indicates the AI collaborator's edit was refused
// (confidence below threshold or malformed response).
var ErrEditRejected = errors.New("edit rejected")
