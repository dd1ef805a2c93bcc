package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidConfig indicates a component was constructed with unusable settings.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCollectionNotFound indicates the tenant collection does not exist yet.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch indicates a vector length differs from the collection vector size.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrMissingEmbedding indicates a provider returned no vector for an input.
	ErrMissingEmbedding = errors.New("missing embedding")

	// ErrEmptyInput indicates a blank question or an empty tenant id.
	ErrEmptyInput = errors.New("empty input")

	// ErrUpstream indicates a failure of an embedding, vector store or LLM service.
	ErrUpstream = errors.New("upstream service failure")
)

// UpstreamError is a failed call to an external service.
type UpstreamError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() []error { return []error{ErrUpstream, e.Err} }

// DocumentFailure is the failure to delete the vectors of one document.
type DocumentFailure struct {
	DocumentID string
	Err        error
}

// DeleteError reports the documents whose vectors could not be deleted.
// Documents not listed were deleted.
type DeleteError struct {
	Failures []DocumentFailure
}

func (e *DeleteError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.DocumentID, f.Err)
	}
	return fmt.Sprintf("delete failed for %d document(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *DeleteError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// FailedIDs returns the ids of the documents that must be retried.
func (e *DeleteError) FailedIDs() []string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.DocumentID
	}
	return ids
}
