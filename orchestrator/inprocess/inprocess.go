// Package inprocess implements the in-process orchestrator: it runs every
// handler on the calling goroutine, in step order, without a queue. It
// drives a pipeline through a fixed sequence of stages on the calling
// goroutine and reports outcomes rather than panicking, the way an
// ingest consumer drains one entry through match rules → extract → chunk
// → store.
package inprocess

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/hazyhaar/semindex/blobstore"
	"github.com/hazyhaar/semindex/handler"
	"github.com/hazyhaar/semindex/idgen"
	"github.com/hazyhaar/semindex/orchestrator"
	"github.com/hazyhaar/semindex/pipeline"
)

// RetryPolicy bounds the in-process step retry loop, reclassifying an
// exhausted TransientError as Fatal. It mirrors queue.Options'
// MaxAttempts/backoff shape rather than importing package queue, since the
// in-process driver has no queue of its own.
type RetryPolicy struct {
	MaxAttempts int           // deliveries before reclassifying TransientError as Fatal
	BaseDelay   time.Duration // linear backoff unit, like filequeue's 1s*deliveries
	Jitter      float64       // fraction of the computed delay added/subtracted at random
	Sleep       func(time.Duration)
}

func (r *RetryPolicy) defaults() {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 2
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = time.Second
	}
	if r.Sleep == nil {
		r.Sleep = time.Sleep
	}
}

func (r RetryPolicy) delay(attempt int) time.Duration {
	base := time.Duration(attempt) * r.BaseDelay
	if r.Jitter <= 0 {
		return base
	}
	spread := float64(base) * r.Jitter
	return base + time.Duration(rand.Float64()*2*spread-spread)
}

// Orchestrator is the in-process driver.
type Orchestrator struct {
	*orchestrator.Core
	handlers map[string]handler.StepHandler
	retry    RetryPolicy
}

// New creates an in-process Orchestrator over blobs, using newID for
// documentId/executionId generation (idgen.UUIDv7() when nil) and
// embeddingGenerationEnabled to gate embedding handlers.
func New(blobs blobstore.Store, newID idgen.Generator, embeddingGenerationEnabled bool, retry RetryPolicy) *Orchestrator {
	retry.defaults()
	return &Orchestrator{
		Core:     orchestrator.NewCore(blobs, newID, embeddingGenerationEnabled),
		handlers: make(map[string]handler.StepHandler),
		retry:    retry,
	}
}

// AddHandler registers h by its StepName. A duplicate step name is
// rejected.
func (o *Orchestrator) AddHandler(h orchestrator.StepHandlerRegistrant) error {
	sh, ok := h.(handler.StepHandler)
	if !ok {
		return fmt.Errorf("inprocess: %T does not implement handler.StepHandler", h)
	}
	name := sh.StepName()
	if name == "" {
		return fmt.Errorf("inprocess: handler has an empty step name")
	}
	if _, exists := o.handlers[name]; exists {
		return fmt.Errorf("inprocess: handler for step %q already registered", name)
	}
	o.handlers[name] = sh
	return nil
}

// HandlerNames implements orchestrator.Service.
func (o *Orchestrator) HandlerNames() []string {
	names := make([]string, 0, len(o.handlers))
	for n := range o.handlers {
		names = append(names, n)
	}
	return names
}

// ImportDocument accepts an upload, assigns documentId when upload carries
// none, prepares and runs its pipeline to completion, and returns the
// documentId.
func (o *Orchestrator) ImportDocument(ctx context.Context, index string, upload orchestrator.Upload) (string, error) {
	documentID := upload.DocumentID
	if documentID == "" {
		documentID = idgen.Timestamped(idgen.NanoID(32))()
	}
	p, err := o.PrepareNewUpload(ctx, index, documentID, upload.Tags, upload.Files)
	if err != nil {
		return "", err
	}
	p.Steps = append([]string(nil), upload.Steps...)
	p.RemainingSteps = append([]string(nil), upload.Steps...)
	if err := o.RunPipeline(ctx, p); err != nil {
		return "", err
	}
	return documentID, nil
}

// RunPipeline drives p to completion or failure on the calling goroutine.
func (o *Orchestrator) RunPipeline(ctx context.Context, p *pipeline.DataPipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := o.PersistInitial(ctx, p); err != nil {
		return err
	}
	if !p.UploadComplete {
		if err := o.UploadFiles(ctx, p); err != nil {
			return err
		}
		if err := o.States.Write(ctx, p); err != nil {
			return err
		}
	}

	vol := p.Index + "/" + p.DocumentID
	hctx := handler.Context{Context: ctx, Blobs: o.Blobs, Volume: vol}

	for len(p.RemainingSteps) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		stepName := p.CurrentStep()
		h, ok := o.handlers[stepName]
		if !ok {
			p.Failed = true
			p.FailureError = fmt.Sprintf("inprocess: no handler registered for step %q", stepName)
			p.LastUpdate = time.Now().UTC()
			_ = o.States.Write(ctx, p)
			return fmt.Errorf("%s", p.FailureError)
		}

		outcome, err := o.invokeWithRetry(hctx, h, p)
		switch outcome {
		case handler.Success:
			p.AdvanceStep()
			p.LastUpdate = time.Now().UTC()
			if err := o.States.Write(ctx, p); err != nil {
				return err
			}
		default: // FatalError, or TransientError whose retry budget was exhausted
			p.Failed = true
			if err != nil {
				p.FailureError = err.Error()
			} else {
				p.FailureError = fmt.Sprintf("step %q failed", stepName)
			}
			p.LastUpdate = time.Now().UTC()
			_ = o.States.Write(ctx, p)
			return fmt.Errorf("inprocess: step %q: %s", stepName, p.FailureError)
		}
	}

	p.LastUpdate = time.Now().UTC()
	return o.States.Write(ctx, p)
}

// invokeWithRetry calls h.Invoke at most o.retry.MaxAttempts times in total
// while it returns TransientError, sleeping a linear (optionally jittered)
// backoff between calls, before reclassifying the outcome as FatalError.
func (o *Orchestrator) invokeWithRetry(hctx handler.Context, h handler.StepHandler, p *pipeline.DataPipeline) (handler.Outcome, error) {
	var lastErr error
	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		updated, outcome, err := h.Invoke(hctx, p)
		if updated != nil {
			*p = *updated
		}
		if outcome != handler.TransientError {
			return outcome, err
		}
		lastErr = err
		if attempt < o.retry.MaxAttempts {
			o.retry.Sleep(o.retry.delay(attempt))
		}
	}
	return handler.FatalError, fmt.Errorf("retry budget exhausted: %w", lastErr)
}

// StartDocumentDeletion runs a single "delete-document" pipeline: it
// removes the artifact volume and the persisted pipeline record. There is
// no reference handler for this step because deletion is a primitive of
// the artifact/state stores, not a pluggable step.
func (o *Orchestrator) StartDocumentDeletion(ctx context.Context, index, documentID string) error {
	norm, err := pipeline.NormalizeIndex(index)
	if err != nil {
		return err
	}
	if err := pipeline.ValidateDocumentID(documentID); err != nil {
		return err
	}
	if err := o.Blobs.DeleteVolume(ctx, norm+"/"+documentID); err != nil {
		return fmt.Errorf("inprocess: delete document artifacts: %w", err)
	}
	return o.States.Delete(ctx, norm, documentID)
}

// StartIndexDeletion runs the "delete-index" pipeline, the
// documentId-empty case. "Remove every document volume under this index
// prefix" is not expressible as a single blobstore call, so callers wire a
// "delete-index" StepHandler that iterates their own index/document
// catalog; when none is registered, the orchestrator still records the
// pipeline so status queries reflect that deletion was requested.
func (o *Orchestrator) StartIndexDeletion(ctx context.Context, index string) error {
	norm, err := pipeline.NormalizeIndex(index)
	if err != nil {
		return err
	}
	p := &pipeline.DataPipeline{
		Index:          norm,
		ExecutionID:    o.NewID(),
		Steps:          orchestrator.DeleteIndexSteps,
		RemainingSteps: orchestrator.DeleteIndexSteps,
		Creation:       time.Now().UTC(),
		LastUpdate:     time.Now().UTC(),
	}
	if _, ok := o.handlers[pipeline.DeleteIndexStep]; !ok {
		return o.PersistInitial(ctx, p)
	}
	return o.RunPipeline(ctx, p)
}

// StopAll is a no-op for the in-process driver: there is no background
// polling/dispatch loop to stop, because every step runs synchronously on
// the calling goroutine.
func (o *Orchestrator) StopAll(ctx context.Context) error { return nil }

// ReadFile reads fileName from (index, documentId)'s artifact volume.
func (o *Orchestrator) ReadFile(ctx context.Context, index, documentID, fileName string) ([]byte, error) {
	return o.Blobs.ReadBytes(ctx, index+"/"+documentID, fileName)
}

// WriteFile writes fileName into (index, documentId)'s artifact volume.
func (o *Orchestrator) WriteFile(ctx context.Context, index, documentID, fileName string, data []byte) error {
	vol := index + "/" + documentID
	if err := o.Blobs.CreateVolume(ctx, vol); err != nil {
		return err
	}
	return o.Blobs.WriteBytes(ctx, vol, fileName, data)
}

var _ orchestrator.Service = (*Orchestrator)(nil)
