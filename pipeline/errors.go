package pipeline

import "errors"

// ErrNotFound is returned by read operations for an unknown (index,
// documentId)/(contentId)/key — a distinguishable "not found", never a bare
// exception to the caller.
var ErrNotFound = errors.New("pipeline: not found")

// ErrInvalid wraps a validation failure. These are synchronous rejections;
// nothing is persisted.
var ErrInvalid = errors.New("pipeline: invalid")

// InvalidPipelineDataError is raised by the state store when a persisted
// record cannot be parsed. The orchestrator surfaces this as a fatal error
// but preserves the document's artifacts.
type InvalidPipelineDataError struct {
	Index      string
	DocumentID string
	Key        string
	ByteLen    int
	Err        error
}

func (e *InvalidPipelineDataError) Error() string {
	return "pipeline: invalid pipeline data at " + e.Key + " (" + e.Index + "/" + e.DocumentID + "): " + e.Err.Error()
}

func (e *InvalidPipelineDataError) Unwrap() error { return e.Err }
