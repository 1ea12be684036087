package partition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/semindex/handler"
	"github.com/hazyhaar/semindex/pipeline"
)

// StepName is this reference handler's registered step name.
const StepName = "partition"

// extractStepName is the upstream step this handler consumes output from.
const extractStepName = "extract"

// Handler splits every not-yet-partitioned extract output into overlapping
// partitions, writing "<original>.partition.<N>.txt" artifacts.
type Handler struct {
	opts Options
}

// New creates a partition Handler with the given partitioning options.
func New(opts Options) *Handler {
	opts.defaults()
	return &Handler{opts: opts}
}

// StepName implements handler.StepHandler.
func (h *Handler) StepName() string { return StepName }

// Invoke implements handler.StepHandler.
func (h *Handler) Invoke(hctx handler.Context, p *pipeline.DataPipeline) (*pipeline.DataPipeline, handler.Outcome, error) {
	var sources []*pipeline.GeneratedFile
	for _, file := range p.Files {
		gf, ok := file.(*pipeline.GeneratedFile)
		if !ok || gf.GeneratedBy != extractStepName {
			continue
		}
		if gf.Header().AlreadyProcessedBy(StepName) {
			continue
		}
		sources = append(sources, gf)
	}

	for _, src := range sources {
		text, err := hctx.Blobs.ReadText(hctx, hctx.Volume, src.Name)
		if err != nil {
			return p, handler.TransientError, fmt.Errorf("partition: read %s: %w", src.Name, err)
		}

		parts := Split(text, h.opts)
		baseName := strings.TrimSuffix(src.Name, ".extract.0.txt")

		for _, part := range parts {
			outName := fmt.Sprintf("%s.partition.%d.txt", baseName, part.Index)
			if err := hctx.Blobs.WriteText(hctx, hctx.Volume, outName, part.Text); err != nil {
				return p, handler.TransientError, fmt.Errorf("partition: write %s: %w", outName, err)
			}

			gen := &pipeline.GeneratedFile{
				FileHeader: pipeline.FileHeader{
					ID:       src.ID + ".partition." + strconv.Itoa(part.Index),
					Name:     outName,
					Size:     int64(len(part.Text)),
					MimeType: "text/plain",
				},
				ParentID:          src.ParentID,
				SourcePartitionID: src.ID,
				ContentSHA256:     pipeline.SHA256Hex([]byte(part.Text)),
				GeneratedBy:       StepName,
			}
			p.Files = append(p.Files, gen)
		}

		src.Header().MarkProcessedBy(StepName)
		src.Header().AddLogEntry(StepName, fmt.Sprintf("split into %d partitions", len(parts)))
	}

	return p, handler.Success, nil
}
