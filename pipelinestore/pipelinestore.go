// Package pipelinestore persists one pipeline.DataPipeline per
// (index, documentId), keyed at "__pipeline_status.json" inside the
// document's artifact volume. It is a thin layer over
// blobstore.Store, grounded on key-value read/write idiom in
// domkeeper/internal/store.
package pipelinestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/semindex/blobstore"
	"github.com/hazyhaar/semindex/pipeline"
)

const recordKey = "__pipeline_status.json"

// Store persists DataPipeline records into a blobstore.Store.
type Store struct {
	blobs blobstore.Store
}

// New wraps a blobstore.Store.
func New(blobs blobstore.Store) *Store {
	return &Store{blobs: blobs}
}

func volume(index, documentID string) string {
	return index + "/" + documentID
}

// Read returns the pipeline record for (index, documentId), or nil if no
// such pipeline exists. A corrupt record raises
// pipeline.InvalidPipelineDataError rather than returning nil, so the
// orchestrator can treat it as fatal-but-recoverable.
func (s *Store) Read(ctx context.Context, index, documentID string) (*pipeline.DataPipeline, error) {
	data, err := s.blobs.ReadBytes(ctx, volume(index, documentID), recordKey)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pipelinestore: read %s/%s: %w", index, documentID, err)
	}

	var p pipeline.DataPipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &pipeline.InvalidPipelineDataError{
			Index:      index,
			DocumentID: documentID,
			Key:        recordKey,
			ByteLen:    len(data),
			Err:        err,
		}
	}
	return &p, nil
}

// Write persists p atomically at its (index, documentId) key.
func (s *Store) Write(ctx context.Context, p *pipeline.DataPipeline) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("pipelinestore: encode %s/%s: %w", p.Index, p.DocumentID, err)
	}
	vol := volume(p.Index, p.DocumentID)
	if err := s.blobs.CreateVolume(ctx, vol); err != nil {
		return fmt.Errorf("pipelinestore: create volume for %s/%s: %w", p.Index, p.DocumentID, err)
	}
	if err := s.blobs.WriteBytes(ctx, vol, recordKey, data); err != nil {
		return fmt.Errorf("pipelinestore: write %s/%s: %w", p.Index, p.DocumentID, err)
	}
	return nil
}

// Delete removes the pipeline record for (index, documentId). Deleting an
// already-absent record is not an error.
func (s *Store) Delete(ctx context.Context, index, documentID string) error {
	if err := s.blobs.DeleteFile(ctx, volume(index, documentID), recordKey); err != nil {
		return fmt.Errorf("pipelinestore: delete %s/%s: %w", index, documentID, err)
	}
	return nil
}
