package extract

import (
	"fmt"
	"time"

	"github.com/hazyhaar/semindex/handler"
	"github.com/hazyhaar/semindex/pipeline"
)

// StepName is the step name reference handler chains register under.
const StepName = "extract"

// Handler is the "extract" reference StepHandler: for every OriginalFile
// not yet processed by this step, it detects the format, produces plain
// text, and writes it as a GeneratedFile named "<original>.extract.0.txt".
type Handler struct{}

// New creates an extract Handler.
func New() *Handler { return &Handler{} }

// StepName implements handler.StepHandler.
func (h *Handler) StepName() string { return StepName }

// Invoke implements handler.StepHandler.
func (h *Handler) Invoke(hctx handler.Context, p *pipeline.DataPipeline) (*pipeline.DataPipeline, handler.Outcome, error) {
	for _, file := range p.Files {
		if file.IsGenerated() {
			continue
		}
		header := file.Header()
		if header.AlreadyProcessedBy(StepName) {
			continue
		}

		format, err := Detect(header.Name)
		if err != nil {
			header.AddLogEntry(StepName, err.Error())
			return p, handler.FatalError, err
		}

		data, err := hctx.Blobs.ReadBytes(hctx, hctx.Volume, header.Name)
		if err != nil {
			return p, handler.TransientError, fmt.Errorf("extract: read %s: %w", header.Name, err)
		}

		text, err := extractOne(format, data)
		if err != nil {
			header.AddLogEntry(StepName, err.Error())
			return p, handler.FatalError, err
		}

		outName := header.Name + ".extract.0.txt"
		if err := hctx.Blobs.WriteText(hctx, hctx.Volume, outName, text); err != nil {
			return p, handler.TransientError, fmt.Errorf("extract: write %s: %w", outName, err)
		}

		gen := &pipeline.GeneratedFile{
			FileHeader: pipeline.FileHeader{
				ID:       header.ID + ".extract.0",
				Name:     outName,
				Size:     int64(len(text)),
				MimeType: "text/plain",
			},
			ParentID:      header.ID,
			ContentSHA256: pipeline.SHA256Hex([]byte(text)),
			GeneratedBy:   StepName,
		}
		p.Files = append(p.Files, gen)

		header.MarkProcessedBy(StepName)
		header.AddLogEntry(StepName, fmt.Sprintf("extracted %d bytes of text at %s", len(text), time.Now().UTC().Format(time.RFC3339)))
	}

	return p, handler.Success, nil
}

func extractOne(format Format, data []byte) (string, error) {
	switch format {
	case FormatTXT:
		return extractPlainText(data)
	case FormatMD:
		return extractMarkdown(data)
	case FormatHTML:
		return extractHTML(data)
	case FormatDocx:
		return extractDocx(data)
	case FormatODT:
		return extractODT(data)
	case FormatPDF:
		return extractPDF(data)
	default:
		return "", fmt.Errorf("extract: no parser registered for format %q", format)
	}
}
