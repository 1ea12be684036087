// Package orchestrator holds the pieces shared by both execution modes:
// the public Service surface every caller (HTTP
// transport, CLI, tests) programs against, and the validate/persist/upload
// sequence common to "import a document and run its pipeline to
// completion" regardless of whether steps execute in-process or over a
// queue.
//
// Concrete drivers live in sibling packages orchestrator/inprocess and
// orchestrator/distributed; this package only holds the shared contract and
// the prepare-pipeline helper both of them call first.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/semindex/blobstore"
	"github.com/hazyhaar/semindex/idgen"
	"github.com/hazyhaar/semindex/pipeline"
	"github.com/hazyhaar/semindex/pipelinestore"
	"github.com/hazyhaar/semindex/search"
)

// Service is the public surface every caller programs against, shared
// verbatim by the in-process and distributed orchestrators.
type Service interface {
	AddHandler(h StepHandlerRegistrant) error
	ImportDocument(ctx context.Context, index string, upload Upload) (string, error)
	PrepareNewUpload(ctx context.Context, index, documentID string, tags pipeline.TagCollection, files []pipeline.FileUpload) (*pipeline.DataPipeline, error)
	RunPipeline(ctx context.Context, p *pipeline.DataPipeline) error
	ReadStatus(ctx context.Context, index, documentID string) (*pipeline.DataPipeline, error)
	ReadSummary(ctx context.Context, index, documentID string) (*pipeline.DataPipelineStatus, error)
	IsDocumentReady(ctx context.Context, index, documentID string) (bool, error)
	StartIndexDeletion(ctx context.Context, index string) error
	StartDocumentDeletion(ctx context.Context, index, documentID string) error
	StopAll(ctx context.Context) error
	HandlerNames() []string
	EmbeddingGenerationEnabled() bool
}

// StepHandlerRegistrant is the subset of handler.StepHandler the
// orchestrator needs at registration time, kept here (rather than importing
// package handler) so orchestrator has no import-cycle risk with the
// handler package's own dependency on pipeline/blobstore/queue.
type StepHandlerRegistrant interface {
	StepName() string
}

// Upload is the transport-agnostic shape of an incoming upload request,
// already decoded. ImportDocument accepts this and mints a fresh
// DataPipeline.
type Upload struct {
	DocumentID string
	Steps      []string
	Tags       pipeline.TagCollection
	Files      []pipeline.FileUpload
}

// DeleteIndexSteps is the fixed one-element step list for an
// index-deletion pipeline.
var DeleteIndexSteps = []string{pipeline.DeleteIndexStep}

// Core holds the collaborators both orchestrator drivers need: the
// pipeline state store, the artifact store, and an ID generator for
// executionId/documentId minting. Embed it in each driver's struct.
type Core struct {
	States  *pipelinestore.Store
	Blobs   blobstore.Store
	NewID   idgen.Generator
	EmbedOn bool

	EmbeddingGenerators []search.EmbeddingGenerator
	MemoryDBs           []search.VectorDB
	TextGen             search.TextGenerator
}

// NewCore wires a Core from its collaborators. When embeddingGenerationEnabled
// is false, partitioning still runs but embedding handlers become no-ops.
func NewCore(blobs blobstore.Store, newID idgen.Generator, embeddingGenerationEnabled bool) *Core {
	if newID == nil {
		newID = idgen.UUIDv7()
	}
	return &Core{
		States:  pipelinestore.New(blobs),
		Blobs:   blobs,
		NewID:   newID,
		EmbedOn: embeddingGenerationEnabled,
	}
}

// GetEmbeddingGenerators implements the collaborator-accessor part of the
// orchestrator's public surface.
func (c *Core) GetEmbeddingGenerators() []search.EmbeddingGenerator { return c.EmbeddingGenerators }

// GetMemoryDbs implements the collaborator-accessor part of the
// orchestrator's public surface.
func (c *Core) GetMemoryDbs() []search.VectorDB { return c.MemoryDBs }

// GetTextGenerator implements the collaborator-accessor part of the
// orchestrator's public surface.
func (c *Core) GetTextGenerator() search.TextGenerator { return c.TextGen }

// EmbeddingGenerationEnabled implements Service.
func (c *Core) EmbeddingGenerationEnabled() bool { return c.EmbedOn }

// PrepareNewUpload builds a fresh, validated DataPipeline for
// (index, documentId), minting a new executionId and stamping
// filesToUpload for the caller's RunPipeline step 2.
func (c *Core) PrepareNewUpload(ctx context.Context, index, documentID string, tags pipeline.TagCollection, files []pipeline.FileUpload) (*pipeline.DataPipeline, error) {
	norm, err := pipeline.NormalizeIndex(index)
	if err != nil {
		return nil, err
	}
	if documentID != "" {
		if err := pipeline.ValidateDocumentID(documentID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	p := &pipeline.DataPipeline{
		Index:          norm,
		DocumentID:     documentID,
		ExecutionID:    c.NewID(),
		Tags:           tags,
		Creation:       now,
		LastUpdate:     now,
		CustomData:     make(map[string]string),
		FilesToUpload:  files,
	}
	for _, f := range files {
		p.Files = append(p.Files, &pipeline.OriginalFile{
			FileHeader: pipeline.FileHeader{
				ID:       c.NewID(),
				Name:     f.Name,
				Size:     int64(len(f.Content)),
				MimeType: f.MimeType,
				Tags:     f.Tags,
			},
		})
	}
	return p, nil
}

// PersistInitial validates p, supersedes any prior execution for the same
// (index, documentId) — stashing it onto PreviousExecutionsToPurge, since a
// new upload mints a fresh executionId and appends the previous snapshot —
// and writes the initial record.
func (c *Core) PersistInitial(ctx context.Context, p *pipeline.DataPipeline) error {
	prior, err := c.States.Read(ctx, p.Index, p.DocumentID)
	if err != nil {
		return fmt.Errorf("orchestrator: read prior pipeline: %w", err)
	}
	if prior != nil && prior.ExecutionID != p.ExecutionID {
		p.PreviousExecutionsToPurge = append(append([]pipeline.PipelineSnapshot(nil), prior.PreviousExecutionsToPurge...),
			pipeline.PipelineSnapshot{ExecutionID: prior.ExecutionID, SupersededAt: time.Now().UTC()})
	}
	if err := p.Validate(); err != nil {
		return err
	}
	return c.States.Write(ctx, p)
}

// UploadFiles writes p.FilesToUpload into the artifact volume and sets
// UploadComplete.
func (c *Core) UploadFiles(ctx context.Context, p *pipeline.DataPipeline) error {
	vol := p.Index + "/" + p.DocumentID
	if err := c.Blobs.CreateVolume(ctx, vol); err != nil {
		return fmt.Errorf("orchestrator: create volume: %w", err)
	}
	for _, f := range p.FilesToUpload {
		if err := c.Blobs.WriteBytes(ctx, vol, f.Name, f.Content); err != nil {
			return fmt.Errorf("orchestrator: upload %s: %w", f.Name, err)
		}
	}
	p.UploadComplete = true
	p.FilesToUpload = nil
	return nil
}

// ReadStatus implements Service.
func (c *Core) ReadStatus(ctx context.Context, index, documentID string) (*pipeline.DataPipeline, error) {
	norm, err := pipeline.NormalizeIndex(index)
	if err != nil {
		return nil, err
	}
	return c.States.Read(ctx, norm, documentID)
}

// ReadSummary implements Service.
func (c *Core) ReadSummary(ctx context.Context, index, documentID string) (*pipeline.DataPipelineStatus, error) {
	p, err := c.ReadStatus(ctx, index, documentID)
	if err != nil {
		return nil, err
	}
	return pipeline.Summarize(p), nil
}

// IsDocumentReady implements Service: true iff persisted, complete, and
// non-empty.
func (c *Core) IsDocumentReady(ctx context.Context, index, documentID string) (bool, error) {
	p, err := c.ReadStatus(ctx, index, documentID)
	if err != nil {
		return false, err
	}
	return p != nil && p.Complete() && !p.Failed && len(p.Steps) > 0, nil
}
