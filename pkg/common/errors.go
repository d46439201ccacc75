package common

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrCycle               = errors.New("parent cycle")
	ErrSelfRelationship    = errors.New("self relationship")
	ErrUpstreamService     = errors.New("upstream service error")
	ErrPartialPipeline     = errors.New("partial pipeline failure")
	ErrJobExhaustedRetries = errors.New("job exhausted retries")
)

// ValidationError rejects a bad enum value, range or argument.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports an unknown id.
type NotFoundError struct {
	Kind string
	ID   string
}

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// CycleError reports a parent_entity_id that would make an entity its own ancestor.
type CycleError struct {
	EntityID string
	ParentID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("setting parent %q on entity %q creates a cycle", e.ParentID, e.EntityID)
}

func (e *CycleError) Is(target error) bool { return target == ErrCycle }

// SelfRelationshipError reports an edge whose endpoints are the same entity.
type SelfRelationshipError struct {
	EntityID string
}

func (e *SelfRelationshipError) Error() string {
	return fmt.Sprintf("entity %q cannot be related to itself", e.EntityID)
}

func (e *SelfRelationshipError) Is(target error) bool { return target == ErrSelfRelationship }

// UpstreamServiceError wraps a failed or timed out call to the AI or
// embedding service. It is retryable at the step level.
type UpstreamServiceError struct {
	Service string
	Err     error
}

func NewUpstreamServiceError(service string, err error) *UpstreamServiceError {
	return &UpstreamServiceError{Service: service, Err: err}
}

func (e *UpstreamServiceError) Error() string {
	return fmt.Sprintf("%s service failed: %v", e.Service, e.Err)
}

func (e *UpstreamServiceError) Unwrap() error { return e.Err }

func (e *UpstreamServiceError) Is(target error) bool { return target == ErrUpstreamService }

// PartialPipelineFailure describes a job that completed with some failed steps.
type PartialPipelineFailure struct {
	JobID       string
	FailedSteps []string
}

func (e *PartialPipelineFailure) Error() string {
	return fmt.Sprintf("job %s completed with failed steps: %s", e.JobID, strings.Join(e.FailedSteps, ", "))
}

func (e *PartialPipelineFailure) Is(target error) bool { return target == ErrPartialPipeline }

// JobExhaustedRetries reports a job that stayed failed after max_retries.
type JobExhaustedRetries struct {
	JobID   string
	Retries int
}

func (e *JobExhaustedRetries) Error() string {
	return fmt.Sprintf("job %s failed after %d retries", e.JobID, e.Retries)
}

func (e *JobExhaustedRetries) Is(target error) bool { return target == ErrJobExhaustedRetries }

// ValidateConfidence checks that v lies in [0,1].
func ValidateConfidence(field string, v float64) error {
	if v < 0 || v > 1 || v != v {
		return NewValidationError(field, "must be within [0,1], got %v", v)
	}
	return nil
}
