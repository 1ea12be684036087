// Package embed is the "embed" reference StepHandler: it calls a
// search.EmbeddingGenerator for every partition file not yet processed by
// "embed", writing a "<original>.embed.<N>.json" vector sidecar.
package embed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/semindex/handler"
	"github.com/hazyhaar/semindex/pipeline"
	"github.com/hazyhaar/semindex/search"
)

// StepName is this reference handler's registered step name.
const StepName = "embed"

// partitionStepName is the upstream step this handler consumes output from.
const partitionStepName = "partition"

// vectorSidecar is the JSON shape written alongside each partition.
type vectorSidecar struct {
	PartitionID string        `json:"partitionId"`
	Model       string        `json:"model"`
	Dimension   int           `json:"dimension"`
	Vector      search.Vector `json:"vector"`
}

// Handler embeds every not-yet-embedded partition with a single registered
// search.EmbeddingGenerator. When Enabled is false (or Generator is nil) it
// marks every eligible file processed without producing vectors, honoring
// the embeddingGenerationEnabled flag.
type Handler struct {
	Generator search.EmbeddingGenerator
	Enabled   bool
}

// New creates an embed Handler. Enabled defaults to true whenever a
// generator is supplied.
func New(generator search.EmbeddingGenerator) *Handler {
	return &Handler{Generator: generator, Enabled: generator != nil}
}

// StepName implements handler.StepHandler.
func (h *Handler) StepName() string { return StepName }

// Invoke implements handler.StepHandler.
func (h *Handler) Invoke(hctx handler.Context, p *pipeline.DataPipeline) (*pipeline.DataPipeline, handler.Outcome, error) {
	var sources []*pipeline.GeneratedFile
	for _, file := range p.Files {
		gf, ok := file.(*pipeline.GeneratedFile)
		if !ok || gf.GeneratedBy != partitionStepName {
			continue
		}
		if gf.Header().AlreadyProcessedBy(StepName) {
			continue
		}
		sources = append(sources, gf)
	}

	if !h.Enabled || h.Generator == nil {
		for _, src := range sources {
			src.Header().MarkProcessedBy(StepName)
			src.Header().AddLogEntry(StepName, "embedding generation disabled; skipped")
		}
		return p, handler.Success, nil
	}

	for _, src := range sources {
		text, err := hctx.Blobs.ReadText(hctx, hctx.Volume, src.Name)
		if err != nil {
			return p, handler.TransientError, fmt.Errorf("embed: read %s: %w", src.Name, err)
		}

		vec, err := h.Generator.Embed(hctx, text)
		if err != nil {
			return p, handler.TransientError, fmt.Errorf("embed: generate vector for %s: %w", src.Name, err)
		}

		sidecar := vectorSidecar{PartitionID: src.ID, Model: h.Generator.Name(), Dimension: h.Generator.Dimension(), Vector: vec}
		body, err := json.Marshal(sidecar)
		if err != nil {
			return p, handler.FatalError, fmt.Errorf("embed: marshal sidecar for %s: %w", src.Name, err)
		}

		partIndex := partitionIndexOf(src.ID)
		baseName := strings.TrimSuffix(src.Name, fmt.Sprintf(".partition.%d.txt", partIndex))
		outName := fmt.Sprintf("%s.embed.%d.json", baseName, partIndex)
		if err := hctx.Blobs.WriteBytes(hctx, hctx.Volume, outName, body); err != nil {
			return p, handler.TransientError, fmt.Errorf("embed: write %s: %w", outName, err)
		}

		gen := &pipeline.GeneratedFile{
			FileHeader: pipeline.FileHeader{
				ID:       src.ID + ".embed." + strconv.Itoa(partIndex),
				Name:     outName,
				Size:     int64(len(body)),
				MimeType: "application/json",
			},
			ParentID:          src.ParentID,
			SourcePartitionID: src.ID,
			ContentSHA256:     pipeline.SHA256Hex(body),
			GeneratedBy:       StepName,
		}
		p.Files = append(p.Files, gen)

		src.Header().MarkProcessedBy(StepName)
		src.Header().AddLogEntry(StepName, fmt.Sprintf("embedded with %s (dim %d)", h.Generator.Name(), h.Generator.Dimension()))
	}

	return p, handler.Success, nil
}

// partitionIndexOf extracts the trailing ".partition.<N>" index from a
// generated file's ID, defaulting to 0 if the suffix is missing.
func partitionIndexOf(id string) int {
	const marker = ".partition."
	i := strings.LastIndex(id, marker)
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(id[i+len(marker):])
	if err != nil {
		return 0
	}
	return n
}
