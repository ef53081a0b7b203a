package recon

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Sentinel errors matched with errors.Is by the transports.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
)

// ValidationError reports malformed caller input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports an unknown session, rule or match id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError covers stale rule versions, held leases and illegal state transitions.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: %s", e.Resource, e.ID, e.Reason)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NewConflictError creates a new ConflictError.
func NewConflictError(resource, id, reason string) *ConflictError {
	return &ConflictError{Resource: resource, ID: id, Reason: reason}
}

// InternalError wraps an unexpected failure, typically a storage error that
// survived all retries.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error during %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

func (e *InternalError) Is(target error) bool {
	return target == ErrInternal
}

// PartialFailureKind classifies a recoverable problem inside a matching pass.
type PartialFailureKind string

const (
	FailureBatchTimeout  PartialFailureKind = "batch_timeout"
	FailureBatchError    PartialFailureKind = "batch_error"
	FailureSkippedRecord PartialFailureKind = "skipped_record"
)

// PartialFailure is a value, not a returned error: passes accumulate them in
// the session error summary and keep going.
type PartialFailure struct {
	Kind       PartialFailureKind `json:"kind"`
	BatchStart string             `json:"batch_start,omitempty"`
	BatchEnd   string             `json:"batch_end,omitempty"`
	RecordID   string             `json:"record_id,omitempty"`
	Message    string             `json:"message"`
	At         time.Time          `json:"at"`
}

func (p PartialFailure) Error() string {
	if p.RecordID != "" {
		return fmt.Sprintf("%s: record %s: %s", p.Kind, p.RecordID, p.Message)
	}
	return fmt.Sprintf("%s: batch [%s, %s]: %s", p.Kind, p.BatchStart, p.BatchEnd, p.Message)
}

// DefaultMaxErrorSamples bounds ErrorSummary.Samples.
const DefaultMaxErrorSamples = 10

// ErrorSummary keeps a count of every partial failure and the first few samples.
// A record-level failure is counted once per session however many passes
// encounter it.
type ErrorSummary struct {
	Count   int              `json:"count"`
	Samples []PartialFailure `json:"samples"`
	Records []string         `json:"records,omitempty"`
}

// Add records f, keeping at most max samples. It reports false when f names
// a record already in the summary.
func (s *ErrorSummary) Add(f PartialFailure, max int) bool {
	if max <= 0 {
		max = DefaultMaxErrorSamples
	}
	if f.RecordID != "" {
		key := string(f.Kind) + "/" + f.RecordID
		if slices.Contains(s.Records, key) {
			return false
		}
		s.Records = append(s.Records, key)
	}
	s.Count++
	if len(s.Samples) < max {
		s.Samples = append(s.Samples, f)
	}
	return true
}
