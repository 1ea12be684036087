// Package pipeline defines the core entities that every other semindex
// component operates on: the DataPipeline state record, its file/tag
// sub-structures, the minimal queue pointer used by the distributed
// orchestrator, and the read-only status projection exposed to callers.
//
// Nothing in this package talks to storage, a queue, or a handler — it is
// the shared vocabulary those packages mutate and persist.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// TagCollection maps a tag name to an ordered list of string values.
// Tag names starting with "__" are reserved for internal use (set only by
// the orchestrator or a handler, never accepted from untrusted input).
type TagCollection map[string][]string

// ReservedPrefix marks tag names that may only be set internally.
const ReservedPrefix = "__"

// IsReserved reports whether name carries the reserved prefix.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}

// Set assigns values to name. It returns false without mutating the
// collection if name is reserved and allowInternal is false.
func (t TagCollection) Set(name string, allowInternal bool, values ...string) bool {
	if IsReserved(name) && !allowInternal {
		return false
	}
	t[name] = append([]string(nil), values...)
	return true
}

// Get returns the values for name, or nil if unset.
func (t TagCollection) Get(name string) []string {
	return t[name]
}

// Equal reports whether two collections have the same names and, for each
// name, the same ordered value list.
func (t TagCollection) Equal(o TagCollection) bool {
	if len(t) != len(o) {
		return false
	}
	for k, v := range t {
		ov, ok := o[k]
		if !ok || len(v) != len(ov) {
			return false
		}
		for i := range v {
			if v[i] != ov[i] {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy.
func (t TagCollection) Clone() TagCollection {
	out := make(TagCollection, len(t))
	for k, v := range t {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// ReservedTagKeys is the fixed set of reserved keys the upload surface
// populates internally; clients may never set these directly.
var ReservedTagKeys = map[string]struct{}{
	"__user":        {},
	"__pipeline_id": {},
	"__file_id":     {},
	"__file_part":   {},
	"__file_type":   {},
}

// GeneratedFileDescriptor is the metadata about a derived artifact recorded
// in a FileRecord's GeneratedFiles map, keyed by generated file name.
type GeneratedFileDescriptor struct {
	Name              string `json:"name"`
	ParentID          string `json:"parentId"`
	SourcePartitionID string `json:"sourcePartitionId,omitempty"`
	ContentSHA256     string `json:"contentSha256"`
	GeneratedBy       string `json:"generatedBy"`
	MimeType          string `json:"mimeType,omitempty"`
	Size              int64  `json:"size"`
}

// LogEntry is an operator-visible breadcrumb a handler leaves on a file.
type LogEntry struct {
	Time   time.Time `json:"time"`
	Source string    `json:"source"` // the step name that produced this entry
	Text   string    `json:"text"`
}

// FileHeader holds the fields common to every FileRecord variant, shared via
// plain struct embedding rather than an inheritance hierarchy.
type FileHeader struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Size           int64            `json:"size"`
	MimeType       string           `json:"mimeType"`
	ArtifactType   string           `json:"artifactType"`
	Tags           TagCollection    `json:"tags,omitempty"`
	ProcessedBy    map[string]bool  `json:"processedBy,omitempty"` // set-by-name, case-insensitive
	GeneratedFiles map[string]GeneratedFileDescriptor `json:"generatedFiles,omitempty"`
	LogEntries     []LogEntry       `json:"logEntries,omitempty"`
}

// MarkProcessedBy records that stepName has finished touching this file.
// Step names are matched case-insensitively.
func (h *FileHeader) MarkProcessedBy(stepName string) {
	if h.ProcessedBy == nil {
		h.ProcessedBy = make(map[string]bool)
	}
	h.ProcessedBy[strings.ToLower(stepName)] = true
}

// AlreadyProcessedBy reports whether stepName has already completed for this
// file — the idempotence check every handler must perform before any
// side-effecting work.
func (h *FileHeader) AlreadyProcessedBy(stepName string) bool {
	return h.ProcessedBy[strings.ToLower(stepName)]
}

// AddLogEntry appends an operator-visible breadcrumb. Handlers must not put
// secrets or PII in Text.
func (h *FileHeader) AddLogEntry(source, text string) {
	h.LogEntries = append(h.LogEntries, LogEntry{Time: time.Now().UTC(), Source: source, Text: text})
}

// FileRecord is the tagged variant every pipeline file satisfies: either an
// OriginalFile (uploaded by the client) or a GeneratedFile (produced by a
// handler, e.g. a partition or an embedding sidecar).
type FileRecord interface {
	Header() *FileHeader
	IsGenerated() bool
}

// OriginalFile is a file supplied at upload time.
type OriginalFile struct {
	FileHeader
}

// Header implements FileRecord.
func (f *OriginalFile) Header() *FileHeader { return &f.FileHeader }

// IsGenerated implements FileRecord.
func (f *OriginalFile) IsGenerated() bool { return false }

// GeneratedFile is a file produced by a step handler from one or more
// source files (e.g. a partition, an embedding sidecar, a consolidated
// summary).
type GeneratedFile struct {
	FileHeader
	ParentID          string `json:"parentId"`
	SourcePartitionID string `json:"sourcePartitionId,omitempty"`
	ContentSHA256     string `json:"contentSha256"`
	GeneratedBy       string `json:"generatedBy"`
}

// Header implements FileRecord.
func (f *GeneratedFile) Header() *FileHeader { return &f.FileHeader }

// IsGenerated implements FileRecord.
func (f *GeneratedFile) IsGenerated() bool { return true }

// SHA256Hex returns the lowercase hex SHA-256 digest of data, used for
// GeneratedFile.ContentSHA256 deduplication.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileUpload is a transient (never persisted) description of a file to
// write into the artifact store when a pipeline first runs.
type FileUpload struct {
	Name     string
	MimeType string
	Content  []byte
	Tags     TagCollection
}

// DataPipeline is the unit of work carried through an ordered sequence of
// named steps. Validate enforces its field invariants.
type DataPipeline struct {
	Index       string `json:"index"`
	DocumentID  string `json:"documentId"`
	ExecutionID string `json:"executionId"`

	Steps          []string `json:"steps"`
	RemainingSteps []string `json:"remainingSteps"`
	CompletedSteps []string `json:"completedSteps"`

	Tags  TagCollection `json:"tags"`
	Files []FileRecord  `json:"-"` // custom (de)serialization, see codec.go

	Creation   time.Time `json:"creation"`
	LastUpdate time.Time `json:"lastUpdate"`

	PreviousExecutionsToPurge []PipelineSnapshot `json:"previousExecutionsToPurge,omitempty"`

	CustomData map[string]string `json:"customData,omitempty"`

	// Failed is set by the orchestrator when a handler returns FatalError or
	// a retriable step exhausts its retry budget, so DataPipelineStatus can
	// answer "failed" without re-deriving it from missing data.
	Failed       bool   `json:"failed,omitempty"`
	FailureError string `json:"failureError,omitempty"`

	// Transient fields: present only between orchestrator entry and the
	// initial artifact-store writes, never persisted.
	FilesToUpload  []FileUpload `json:"-"`
	UploadComplete bool         `json:"-"`
}

// PipelineSnapshot is a superseded pipeline's identity, recorded in
// PreviousExecutionsToPurge. No code in this module purges the listed
// executions' artifacts; the list only accumulates.
type PipelineSnapshot struct {
	ExecutionID string    `json:"executionId"`
	SupersededAt time.Time `json:"supersededAt"`
}

// Complete reports whether every step has finished.
func (p *DataPipeline) Complete() bool {
	return len(p.RemainingSteps) == 0
}

// DataPipelinePointer is the minimal message placed on a queue for the
// distributed orchestrator.
type DataPipelinePointer struct {
	Index       string   `json:"index"`
	DocumentID  string   `json:"document_id"`
	ExecutionID string   `json:"execution_id"`
	Steps       []string `json:"steps"`
}

// DataPipelineStatus is the read-only projection returned by status queries.
// It never round-trips through the state store.
type DataPipelineStatus struct {
	Index          string     `json:"index"`
	DocumentID     string     `json:"documentId"`
	Completed      bool       `json:"completed"`
	Failed         bool       `json:"failed"`
	Empty          bool       `json:"empty"`
	RemainingSteps []string   `json:"remainingSteps"`
	CompletedSteps []string   `json:"completedSteps"`
	LastUpdate     time.Time  `json:"lastUpdate"`
	LogEntries     []LogEntry `json:"logEntries,omitempty"`
}

// Summarize builds the read-only status projection for p. It is a pure
// function: the state store never persists these derived fields.
func Summarize(p *DataPipeline) *DataPipelineStatus {
	if p == nil {
		return &DataPipelineStatus{Empty: true}
	}
	s := &DataPipelineStatus{
		Index:          p.Index,
		DocumentID:     p.DocumentID,
		Completed:      p.Complete() && !p.Failed,
		Failed:         p.Failed,
		Empty:          len(p.Steps) == 0,
		RemainingSteps: append([]string(nil), p.RemainingSteps...),
		CompletedSteps: append([]string(nil), p.CompletedSteps...),
		LastUpdate:     p.LastUpdate,
	}
	for _, f := range p.Files {
		s.LogEntries = append(s.LogEntries, f.Header().LogEntries...)
	}
	return s
}
