package pipeline

import (
	"encoding/json"
	"fmt"
)

// wireFile is the on-disk representation of a FileRecord: the header plus an
// "isGenerated" discriminator and the generated-only fields (empty for an
// OriginalFile). This is how the tagged variant survives JSON round-trips
// without reflection-based polymorphism.
type wireFile struct {
	Kind FileHeader `json:"header"`

	IsGenerated       bool   `json:"isGenerated"`
	ParentID          string `json:"parentId,omitempty"`
	SourcePartitionID string `json:"sourcePartitionId,omitempty"`
	ContentSHA256     string `json:"contentSha256,omitempty"`
	GeneratedBy       string `json:"generatedBy,omitempty"`
}

func toWire(f FileRecord) wireFile {
	h := *f.Header()
	w := wireFile{Kind: h, IsGenerated: f.IsGenerated()}
	if g, ok := f.(*GeneratedFile); ok {
		w.ParentID = g.ParentID
		w.SourcePartitionID = g.SourcePartitionID
		w.ContentSHA256 = g.ContentSHA256
		w.GeneratedBy = g.GeneratedBy
	}
	return w
}

func fromWire(w wireFile) FileRecord {
	if w.IsGenerated {
		return &GeneratedFile{
			FileHeader:        w.Kind,
			ParentID:          w.ParentID,
			SourcePartitionID: w.SourcePartitionID,
			ContentSHA256:     w.ContentSHA256,
			GeneratedBy:       w.GeneratedBy,
		}
	}
	return &OriginalFile{FileHeader: w.Kind}
}

// pipelineWire mirrors DataPipeline but with a JSON-friendly Files field.
// It is the only type that actually touches encoding/json for DataPipeline.
type pipelineWire struct {
	Index       string `json:"index"`
	DocumentID  string `json:"documentId"`
	ExecutionID string `json:"executionId"`

	Steps          []string `json:"steps"`
	RemainingSteps []string `json:"remainingSteps"`
	CompletedSteps []string `json:"completedSteps"`

	Tags  TagCollection `json:"tags"`
	Files []wireFile    `json:"files"`

	Creation   string `json:"creation"`
	LastUpdate string `json:"lastUpdate"`

	PreviousExecutionsToPurge []PipelineSnapshot `json:"previousExecutionsToPurge,omitempty"`
	CustomData                map[string]string  `json:"customData,omitempty"`

	Failed       bool   `json:"failed,omitempty"`
	FailureError string `json:"failureError,omitempty"`
}

// MarshalJSON implements a stable on-disk encoding for DataPipeline,
// including its polymorphic Files slice.
func (p *DataPipeline) MarshalJSON() ([]byte, error) {
	w := pipelineWire{
		Index:                     p.Index,
		DocumentID:                p.DocumentID,
		ExecutionID:               p.ExecutionID,
		Steps:                     p.Steps,
		RemainingSteps:            p.RemainingSteps,
		CompletedSteps:            p.CompletedSteps,
		Tags:                      p.Tags,
		Creation:                  p.Creation.UTC().Format(timeLayout),
		LastUpdate:                p.LastUpdate.UTC().Format(timeLayout),
		PreviousExecutionsToPurge: p.PreviousExecutionsToPurge,
		CustomData:                p.CustomData,
		Failed:                    p.Failed,
		FailureError:              p.FailureError,
	}
	for _, f := range p.Files {
		w.Files = append(w.Files, toWire(f))
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *DataPipeline) UnmarshalJSON(data []byte) error {
	var w pipelineWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("pipeline: decode DataPipeline: %w", err)
	}
	p.Index = w.Index
	p.DocumentID = w.DocumentID
	p.ExecutionID = w.ExecutionID
	p.Steps = w.Steps
	p.RemainingSteps = w.RemainingSteps
	p.CompletedSteps = w.CompletedSteps
	p.Tags = w.Tags
	p.PreviousExecutionsToPurge = w.PreviousExecutionsToPurge
	p.CustomData = w.CustomData
	p.Failed = w.Failed
	p.FailureError = w.FailureError

	var err error
	if p.Creation, err = parseTime(w.Creation); err != nil {
		return fmt.Errorf("pipeline: creation: %w", err)
	}
	if p.LastUpdate, err = parseTime(w.LastUpdate); err != nil {
		return fmt.Errorf("pipeline: lastUpdate: %w", err)
	}

	p.Files = make([]FileRecord, 0, len(w.Files))
	for _, wf := range w.Files {
		p.Files = append(p.Files, fromWire(wf))
	}
	return nil
}
