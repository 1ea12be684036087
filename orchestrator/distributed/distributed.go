// Package distributed implements the queue-driven orchestrator: each step
// runs as a subscriber on its own queue
// ("queue-<stepName>"), coordinated through the pipeline state store
// rather than by passing the pipeline value directly from step to step.
// Grounded on vtq.Q.Run dispatch loop (claim → handle →
// ack/nack) generalized from one queue to one-queue-per-step, with
// advanceStep (below) playing the role vtq's Ack does: committing forward
// progress and publishing the next unit of work.
package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/semindex/blobstore"
	"github.com/hazyhaar/semindex/handler"
	"github.com/hazyhaar/semindex/idgen"
	"github.com/hazyhaar/semindex/internal/advisory"
	"github.com/hazyhaar/semindex/orchestrator"
	"github.com/hazyhaar/semindex/pipeline"
	"github.com/hazyhaar/semindex/queue"
)

// queuePrefix names every per-step queue: "queue-<stepName>".
const queuePrefix = "queue-"

func queueName(stepName string) string { return queuePrefix + stepName }

// Orchestrator is the distributed driver. Its public surface is
// identical to orchestrator/inprocess.Orchestrator; the difference is that
// AddHandler opens a pub-sub queue and subscribes, rather than calling the
// handler directly from RunPipeline.
type Orchestrator struct {
	*orchestrator.Core
	factory  queue.Factory
	opts     queue.Options
	registry *advisory.Registry
	lockKey  string

	queues   map[string]queue.Queue
	handlers map[string]handler.StepHandler
}

// New creates a distributed Orchestrator publishing/subscribing through
// factory. lockKey identifies the document-scoped advisory lock domain
// — callers
// typically pass the same storage root the factory itself is bound to.
func New(factory queue.Factory, opts queue.Options, blobs blobstore.Store, newID idgen.Generator, embeddingGenerationEnabled bool, lockKey string) *Orchestrator {
	return &Orchestrator{
		Core:     orchestrator.NewCore(blobs, newID, embeddingGenerationEnabled),
		factory:  factory,
		opts:     queue.Defaults(opts),
		registry: advisory.NewRegistry(),
		lockKey:  lockKey,
		queues:   make(map[string]queue.Queue),
		handlers: make(map[string]handler.StepHandler),
	}
}

// RunHandlers controls which queues a process opens in pub-sub mode versus
// publish-only.
type RunHandlers bool

const (
	// PublishOnly yields handles that can enqueue pointers but never
	// dequeue them — the web-facing process that accepts uploads but does
	// not run step handlers.
	PublishOnly RunHandlers = false
	// Subscribe yields handles that poll and dispatch — the worker
	// process.
	Subscribe RunHandlers = true
)

// AddHandler registers h and, when runHandlers is Subscribe, opens
// "queue-<stepName>" in pub-sub mode and subscribes. Use
// AddHandlerMode to control pub-sub vs publish-only per call; AddHandler
// itself defaults to Subscribe so a single-process deployment (in-process
// orchestrator's distributed twin used in tests) behaves like a worker.
func (o *Orchestrator) AddHandler(h orchestrator.StepHandlerRegistrant) error {
	return o.AddHandlerMode(h, Subscribe)
}

// AddHandlerMode registers h. With runHandlers == PublishOnly, the queue
// handle is opened with DequeueEnabled=false: messages may still be
// enqueued (by advanceStep, from any process), but this process never
// dispatches them.
func (o *Orchestrator) AddHandlerMode(h orchestrator.StepHandlerRegistrant, runHandlers RunHandlers) error {
	sh, ok := h.(handler.StepHandler)
	if !ok {
		return fmt.Errorf("distributed: %T does not implement handler.StepHandler", h)
	}
	name := sh.StepName()
	if name == "" {
		return fmt.Errorf("distributed: handler has an empty step name")
	}
	if _, exists := o.handlers[name]; exists {
		return fmt.Errorf("distributed: handler for step %q already registered", name)
	}

	opts := o.opts
	opts.DequeueEnabled = bool(runHandlers)
	q, err := o.factory.Connect(context.Background(), queueName(name), opts)
	if err != nil {
		return fmt.Errorf("distributed: connect queue for step %q: %w", name, err)
	}

	o.handlers[name] = sh
	o.queues[name] = q

	if runHandlers == Subscribe {
		q.OnDequeue(o.dequeueHandlerFor(sh))
	}
	return nil
}

// dequeueHandlerFor builds the queue.Handler that decodes the dequeued
// pointer, loads the pipeline, checks executionId, invokes the step, and
// advances or maps the outcome.
func (o *Orchestrator) dequeueHandlerFor(sh handler.StepHandler) queue.Handler {
	return func(ctx context.Context, body []byte) (queue.Outcome, error) {
		var ptr pipeline.DataPipelinePointer
		if err := json.Unmarshal(body, &ptr); err != nil {
			return queue.FatalError, fmt.Errorf("distributed: decode pointer: %w", err)
		}

		p, err := o.States.Read(ctx, ptr.Index, ptr.DocumentID)
		if err != nil {
			return queue.TransientError, fmt.Errorf("distributed: read pipeline: %w", err)
		}
		if p == nil {
			// The document was deleted out from under this message; treat
			// as already-handled rather than erroring.
			return queue.Success, nil
		}
		if p.ExecutionID != ptr.ExecutionID {
			// A later upload superseded this one. The earlier execution's
			// handler must treat its message as already-handled.
			return queue.Success, nil
		}

		vol := p.Index + "/" + p.DocumentID
		hctx := handler.Context{Context: ctx, Blobs: o.Blobs, Volume: vol}
		updated, outcome, herr := sh.Invoke(hctx, p)
		if updated != nil {
			p = updated
		}

		switch outcome {
		case handler.Success:
			if err := o.advanceStep(ctx, p); err != nil {
				return queue.TransientError, err
			}
			return queue.Success, nil
		case handler.FatalError:
			p.Failed = true
			if herr != nil {
				p.FailureError = herr.Error()
			} else {
				p.FailureError = fmt.Sprintf("step %q failed", sh.StepName())
			}
			p.LastUpdate = time.Now().UTC()
			_ = o.States.Write(ctx, p)
			return queue.FatalError, herr
		default: // TransientError
			return queue.TransientError, herr
		}
	}
}

// advanceStep re-reads the persisted pipeline under a document-scoped
// advisory lock (picking up any concurrent handler updates — the handler
// already wrote its own artifact log / processedBy changes via p before
// this is called, but re-reading guards against another execution's write
// racing in between), pops the first remaining step, persists, and
// publishes a pointer to the next step's queue.
func (o *Orchestrator) advanceStep(ctx context.Context, handled *pipeline.DataPipeline) error {
	key := o.lockKey + "/" + handled.Index + "/" + handled.DocumentID
	mu := o.registry.Lock(key)
	mu.Lock()
	defer mu.Unlock()

	current, err := o.States.Read(ctx, handled.Index, handled.DocumentID)
	if err != nil {
		return fmt.Errorf("distributed: advanceStep: re-read: %w", err)
	}
	if current == nil || current.ExecutionID != handled.ExecutionID {
		// Superseded between Invoke and advanceStep: drop silently, same
		// supersession rule as dequeueHandlerFor.
		return nil
	}

	// Merge the handler's file/tag/customData mutations onto the freshly
	// re-read record, keeping the re-read record's step bookkeeping as the
	// source of truth for concurrent-write safety.
	current.Files = handled.Files
	current.Tags = handled.Tags
	current.CustomData = handled.CustomData
	current.PreviousExecutionsToPurge = handled.PreviousExecutionsToPurge

	current.AdvanceStep()
	current.LastUpdate = time.Now().UTC()
	if err := o.States.Write(ctx, current); err != nil {
		return fmt.Errorf("distributed: advanceStep: persist: %w", err)
	}

	if current.CurrentStep() != "" {
		return o.enqueuePointer(ctx, current)
	}
	return nil
}

func (o *Orchestrator) enqueuePointer(ctx context.Context, p *pipeline.DataPipeline) error {
	next := p.CurrentStep()
	q, ok := o.queues[next]
	if !ok {
		var err error
		q, err = o.factory.Connect(ctx, queueName(next), queue.Options{DequeueEnabled: false})
		if err != nil {
			return fmt.Errorf("distributed: connect publish-only queue for step %q: %w", next, err)
		}
		o.queues[next] = q
	}
	ptr := pipeline.DataPipelinePointer{Index: p.Index, DocumentID: p.DocumentID, ExecutionID: p.ExecutionID, Steps: p.Steps}
	body, err := json.Marshal(ptr)
	if err != nil {
		return fmt.Errorf("distributed: encode pointer: %w", err)
	}
	return q.Enqueue(ctx, body)
}

// HandlerNames implements orchestrator.Service.
func (o *Orchestrator) HandlerNames() []string {
	names := make([]string, 0, len(o.handlers))
	for n := range o.handlers {
		names = append(names, n)
	}
	return names
}

// ImportDocument accepts an upload, assigns documentId when none is
// supplied, and runs its pipeline.
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

// RunPipeline persists the initial record, uploads files, then enqueues a
// pointer to the first step's queue — unlike the
// in-process driver, it returns as soon as the first step is scheduled, not
// once the pipeline completes.
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
	if p.CurrentStep() == "" {
		p.LastUpdate = time.Now().UTC()
		return o.States.Write(ctx, p)
	}
	return o.enqueuePointer(ctx, p)
}

// StartDocumentDeletion enqueues a "delete-document" pipeline cancelling
// any in-flight execution for the same document via the ordinary
// executionId-mismatch check every step handler already performs.
func (o *Orchestrator) StartDocumentDeletion(ctx context.Context, index, documentID string) error {
	norm, err := pipeline.NormalizeIndex(index)
	if err != nil {
		return err
	}
	if err := pipeline.ValidateDocumentID(documentID); err != nil {
		return err
	}
	steps := []string{"delete-document"}
	p := &pipeline.DataPipeline{
		Index:          norm,
		DocumentID:     documentID,
		ExecutionID:    o.NewID(),
		Steps:          steps,
		RemainingSteps: steps,
		Creation:       time.Now().UTC(),
		LastUpdate:     time.Now().UTC(),
	}
	return o.RunPipeline(ctx, p)
}

// StartIndexDeletion enqueues the fixed "delete-index" pipeline.
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
	return o.RunPipeline(ctx, p)
}

// StopAll disposes every queue this orchestrator opened, letting in-flight
// handlers finish.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	var firstErr error
	for _, q := range o.queues {
		if err := q.Dispose(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

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
