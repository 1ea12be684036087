// Package handler defines the StepHandler contract: one named
// step that reads and writes the artifact store for a pipeline's volume and
// returns an outcome shared with the queue subsystem — a named processing
// stage that mutates a store and reports an outcome, never panicking on
// expected failure modes.
package handler

import (
	"context"

	"github.com/hazyhaar/semindex/blobstore"
	"github.com/hazyhaar/semindex/pipeline"
	"github.com/hazyhaar/semindex/queue"
)

// Outcome is reused unchanged from the queue package.
type Outcome = queue.Outcome

const (
	Success        = queue.Success
	TransientError = queue.TransientError
	FatalError     = queue.FatalError
)

// Context carries what a handler needs beyond the pipeline value itself:
// the request context, the artifact store, and the volume it may
// read/write. Collaborators such as embedding generators or vector DBs are
// not carried here; the reference handlers hold them as their own fields.
type Context struct {
	context.Context
	Blobs  blobstore.Store
	Volume string // index + "/" + documentId
}

// StepHandler is one named processing stage. Invoke receives the current
// pipeline and returns the (possibly mutated) pipeline plus an outcome.
//
// On Success, the handler must have marked itself in
// FileHeader.ProcessedBy for every file it fully processed; the caller
// advances the step. On TransientError, nothing about the step advances and
// the handler may be invoked again for the same (pipeline, file) pair — it
// must check AlreadyProcessedBy(StepName()) before repeating any
// observable side effect outside the artifact store. On FatalError, the
// caller halts the pipeline and flags it failed.
type StepHandler interface {
	// StepName is this handler's registered step name.
	StepName() string

	// Invoke processes p and returns the updated pipeline and an outcome.
	Invoke(hctx Context, p *pipeline.DataPipeline) (*pipeline.DataPipeline, Outcome, error)
}
