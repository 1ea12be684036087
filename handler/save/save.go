// Package save is the "save" reference StepHandler: it writes every
// partition's text and vector into each registered search/memorydb.VectorDB,
// then marks the pipeline's files as "save"-processed.
package save

import (
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/semindex/handler"
	"github.com/hazyhaar/semindex/pipeline"
	"github.com/hazyhaar/semindex/search"
)

// StepName is this reference handler's registered step name.
const StepName = "save"

const partitionStepName = "partition"
const embedStepName = "embed"

type vectorSidecar struct {
	PartitionID string        `json:"partitionId"`
	Model       string        `json:"model"`
	Dimension   int           `json:"dimension"`
	Vector      search.Vector `json:"vector"`
}

// Handler upserts every not-yet-saved partition (plus its sidecar vector,
// when one was produced) into every registered VectorDB.
type Handler struct {
	DBs []search.VectorDB
}

// New creates a save Handler writing into every given VectorDB.
func New(dbs ...search.VectorDB) *Handler {
	return &Handler{DBs: dbs}
}

// StepName implements handler.StepHandler.
func (h *Handler) StepName() string { return StepName }

// Invoke implements handler.StepHandler.
func (h *Handler) Invoke(hctx handler.Context, p *pipeline.DataPipeline) (*pipeline.DataPipeline, handler.Outcome, error) {
	byPartitionID := make(map[string]*pipeline.GeneratedFile)
	var partitions []*pipeline.GeneratedFile
	for _, file := range p.Files {
		gf, ok := file.(*pipeline.GeneratedFile)
		if !ok {
			continue
		}
		switch gf.GeneratedBy {
		case partitionStepName:
			if !gf.Header().AlreadyProcessedBy(StepName) {
				partitions = append(partitions, gf)
			}
		case embedStepName:
			byPartitionID[gf.SourcePartitionID] = gf
		}
	}

	collection := p.Index

	for _, part := range partitions {
		text, err := hctx.Blobs.ReadText(hctx, hctx.Volume, part.Name)
		if err != nil {
			return p, handler.TransientError, fmt.Errorf("save: read %s: %w", part.Name, err)
		}

		var vec search.Vector
		if sidecar, ok := byPartitionID[part.ID]; ok {
			vec, err = readVector(hctx, sidecar)
			if err != nil {
				return p, handler.TransientError, err
			}
		}

		metadata := map[string]string{
			"documentId":  p.DocumentID,
			"index":       p.Index,
			"sourceFile":  part.ParentID,
			"contentHash": part.ContentSHA256,
		}

		for _, db := range h.DBs {
			if len(vec) > 0 {
				if err := db.EnsureCollection(hctx, collection, len(vec)); err != nil {
					return p, handler.TransientError, fmt.Errorf("save: ensure collection on %s: %w", db.Name(), err)
				}
			}
			if err := db.Upsert(hctx, collection, part.ID, vec, text, metadata); err != nil {
				return p, handler.TransientError, fmt.Errorf("save: upsert %s on %s: %w", part.ID, db.Name(), err)
			}
		}

		part.Header().MarkProcessedBy(StepName)
		part.Header().AddLogEntry(StepName, fmt.Sprintf("saved to %d vector store(s)", len(h.DBs)))
	}

	return p, handler.Success, nil
}

func readVector(hctx handler.Context, sidecar *pipeline.GeneratedFile) (search.Vector, error) {
	body, err := hctx.Blobs.ReadBytes(hctx, hctx.Volume, sidecar.Name)
	if err != nil {
		return nil, fmt.Errorf("save: read sidecar %s: %w", sidecar.Name, err)
	}
	var decoded vectorSidecar
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("save: decode sidecar %s: %w", sidecar.Name, err)
	}
	return decoded.Vector, nil
}
