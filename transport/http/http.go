// Package http is the thin transport layer satisfying the HTTP surface in
// spec §6: a go-chi/chi/v5 router with one handler per endpoint, wired
// only to the orchestrator.Service and search.Client public surfaces.
// Transport owns no business logic — request parsing and response shaping
// are kept to struct tags and encoding/json, matching the teacher's
// cmd/chrc/main.go idiom (env(), writeJSON(), writeError(), chi.Router).
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/semindex/idgen"
	"github.com/hazyhaar/semindex/orchestrator"
	"github.com/hazyhaar/semindex/pipeline"
	"github.com/hazyhaar/semindex/search"
)

// maxUploadMemory bounds the in-memory part of a multipart form; larger
// file parts spill to temp files via net/http's own ParseMultipartForm.
const maxUploadMemory = 32 << 20

// Server wires the orchestrator and search client into handler funcs.
type Server struct {
	Orchestrator orchestrator.Service
	Search       search.Client
	started      time.Time
	newID        idgen.Generator
}

// New creates a Server. newID defaults to idgen.UUIDv7 when nil and is kept
// on the Server; handleUpload does not use it, and mints a documentId for an
// empty upload request with idgen.Timestamped(idgen.NanoID(32)).
func New(o orchestrator.Service, s search.Client, newID idgen.Generator) *Server {
	if newID == nil {
		newID = idgen.UUIDv7()
	}
	return &Server{Orchestrator: o, Search: s, started: time.Now(), newID: newID}
}

// Router builds the chi.Mux implementing every row of spec §6's table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/", s.handleRoot)
	r.Post("/upload", s.handleUpload)
	r.Post("/ask", s.handleAsk)
	r.Post("/search", s.handleSearch)
	r.Get("/upload-status", s.handleUploadStatus)
	r.Delete("/documents", s.handleDeleteDocument)
	r.Delete("/indexes", s.handleDeleteIndex)
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

// handleUpload implements POST /upload: a multipart form carrying
// documentId (required... unless empty, which triggers server-side
// generation), an optional index, zero or more repeated steps fields, any
// number of tag key/value pairs, and one or more file{N} parts.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("upload: parse form: %w", err))
		return
	}
	form := r.MultipartForm

	documentID := strings.TrimSpace(firstValue(form.Value, "documentId"))
	index := strings.TrimSpace(firstValue(form.Value, "index"))
	steps := form.Value["steps"]

	tags := make(pipeline.TagCollection)
	for key, values := range form.Value {
		if key == "documentId" || key == "index" || key == "steps" {
			continue
		}
		if pipeline.IsReserved(key) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("upload: tag %q uses the reserved \"__\" prefix", key))
			return
		}
		tags.Set(key, false, values...)
	}

	var files []pipeline.FileUpload
	for field, headers := range form.File {
		if !strings.HasPrefix(field, "file") {
			continue
		}
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("upload: open %s: %w", fh.Filename, err))
				return
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("upload: read %s: %w", fh.Filename, err))
				return
			}
			files = append(files, pipeline.FileUpload{
				Name:     fh.Filename,
				MimeType: fh.Header.Get("Content-Type"),
				Content:  content,
			})
		}
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("upload: at least one file part is required"))
		return
	}

	if documentID == "" {
		documentID = idgen.Timestamped(idgen.NanoID(32))()
	} else if err := pipeline.ValidateDocumentID(documentID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	docID, err := s.Orchestrator.ImportDocument(r.Context(), index, orchestrator.Upload{
		DocumentID: documentID,
		Steps:      steps,
		Tags:       tags,
		Files:      files,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalid) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Location", "/upload-status?index="+index+"&documentId="+docID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"documentId": docID,
		"index":      index,
		"message":    "accepted",
	})
}

func firstValue(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

type askRequest struct {
	Question     string            `json:"question"`
	Index        string            `json:"index"`
	Filters      map[string]string `json:"filters,omitempty"`
	MinRelevance float32           `json:"minRelevance,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("ask: decode body: %w", err))
		return
	}
	if req.Question == "" || req.Index == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("ask: question and index are required"))
		return
	}
	answer, matches, err := s.Search.Ask(r.Context(), req.Index, req.Question)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"answer":  answer,
		"matches": matches,
	})
}

type searchRequest struct {
	Query        string            `json:"query"`
	Index        string            `json:"index"`
	Filters      map[string]string `json:"filters,omitempty"`
	Limit        int               `json:"limit,omitempty"`
	MinRelevance float32           `json:"minRelevance,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("search: decode body: %w", err))
		return
	}
	if req.Query == "" || req.Index == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("search: query and index are required"))
		return
	}
	matches, err := s.Search.Search(r.Context(), req.Index, req.Query, req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if matches == nil {
		matches = []search.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	index := r.URL.Query().Get("index")
	documentID := r.URL.Query().Get("documentId")
	if index == "" || documentID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("upload-status: index and documentId are required"))
		return
	}
	status, err := s.Orchestrator.ReadSummary(r.Context(), index, documentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if status == nil || status.Empty {
		writeError(w, http.StatusNotFound, fmt.Errorf("upload-status: %s/%s not found", index, documentID))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	index := r.URL.Query().Get("index")
	documentID := r.URL.Query().Get("documentId")
	if index == "" || documentID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("documents: index and documentId are required"))
		return
	}
	if err := s.Orchestrator.StartDocumentDeletion(r.Context(), index, documentID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "deletion enqueued"})
}

func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	index := r.URL.Query().Get("index")
	if index == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("indexes: index is required"))
		return
	}
	if err := s.Orchestrator.StartIndexDeletion(r.Context(), index); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "deletion enqueued"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

