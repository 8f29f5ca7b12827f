package audit

import (
	"fmt"
	"time"
)

// Stage error taxonomy. Each stage converts its upstream failures into one of
// these so the orchestrator can record a human-readable, non-leaking reason
// without inspecting provider internals.

type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("video download failed for %s: %v", e.URL, e.Err)
}
func (e *DownloadError) Unwrap() error { return e.Err }

type IndexingTimeoutError struct {
	JobID  string
	Budget time.Duration
}

func (e *IndexingTimeoutError) Error() string {
	return fmt.Sprintf("video indexing job %s did not finish within %s", e.JobID, e.Budget)
}

type IndexingError struct {
	JobID string
	Err   error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("video indexing failed (job %s): %v", e.JobID, e.Err)
}
func (e *IndexingError) Unwrap() error { return e.Err }

type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("rule retrieval failed: %v", e.Err)
}
func (e *RetrievalError) Unwrap() error { return e.Err }

type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("compliance analysis failed: %v", e.Err)
}
func (e *AnalysisError) Unwrap() error { return e.Err }

type SchemaValidationError struct {
	Attempts int
	Err      error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("model output failed schema validation after %d attempts: %v", e.Attempts, e.Err)
}
func (e *SchemaValidationError) Unwrap() error { return e.Err }

// Boundary errors. These are the only ones surfaced synchronously to callers.

type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("audit task %s not found", e.TaskID)
}

type NotReadyError struct {
	TaskID string
	Status Status
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("audit task %s is %s, not COMPLETED", e.TaskID, e.Status)
}
