package http

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hazyhaar/semindex/blobstore/fsblob"
	"github.com/hazyhaar/semindex/handler/embed"
	"github.com/hazyhaar/semindex/handler/extract"
	"github.com/hazyhaar/semindex/handler/partition"
	"github.com/hazyhaar/semindex/handler/save"
	"github.com/hazyhaar/semindex/orchestrator/inprocess"
	"github.com/hazyhaar/semindex/pipeline"
	"github.com/hazyhaar/semindex/search/embedding"
	"github.com/hazyhaar/semindex/search/memorydb/fsvector"
	"github.com/hazyhaar/semindex/search/retrieval"
	"github.com/hazyhaar/semindex/search/textgen"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	blobs := fsblob.New(t.TempDir())
	vectors := fsvector.New(t.TempDir())
	embedder := embedding.New(embedding.Config{})
	generator := textgen.New(textgen.Config{})

	orch := inprocess.New(blobs, nil, true, inprocess.RetryPolicy{})
	orch.EmbeddingGenerators = append(orch.EmbeddingGenerators, embedder)
	orch.MemoryDBs = append(orch.MemoryDBs, vectors)
	orch.TextGen = generator

	for _, h := range []interface{ StepName() string }{
		extract.New(), partition.New(partition.Options{}), embed.New(embedder), save.New(vectors),
	} {
		if err := orch.AddHandler(h); err != nil {
			t.Fatalf("add handler: %v", err)
		}
	}

	client := retrieval.New(embedder, vectors, generator, 5)
	return New(orch, client, nil)
}

func multipartUpload(t *testing.T, fields map[string]string, fileName, fileBody string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	fw, err := w.CreateFormFile("file0", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(fileBody)); err != nil {
		t.Fatalf("write file body: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf, w.FormDataContentType()
}

func TestUploadHappyPath(t *testing.T) {
	srv := newTestServer(t)
	r := srv.Router()

	body, contentType := multipartUpload(t, map[string]string{
		"documentId": "doc-001",
		"index":      "personal",
		"steps":      "extract",
	}, "hello.txt", "hello world")

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["documentId"] != "doc-001" {
		t.Fatalf("expected documentId doc-001, got %q", resp["documentId"])
	}
	if rec.Header().Get("Location") == "" {
		t.Fatal("expected a Location header")
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/upload-status?index=personal&documentId=doc-001", nil)
	statusRec := httptest.NewRecorder()
	r.ServeHTTP(statusRec, statusReq)
	if statusRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", statusRec.Code, statusRec.Body.String())
	}
	var status pipeline.DataPipelineStatus
	if err := json.Unmarshal(statusRec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Completed {
		t.Fatalf("expected a completed pipeline, got %+v", status)
	}
}

func TestUploadRejectsReservedTag(t *testing.T) {
	srv := newTestServer(t)
	r := srv.Router()

	body, contentType := multipartUpload(t, map[string]string{
		"documentId": "doc-002",
		"__user":     "alice",
	}, "hello.txt", "hello world")

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a reserved tag, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadRejectsEmptyFileList(t *testing.T) {
	srv := newTestServer(t)
	r := srv.Router()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	w.WriteField("documentId", "doc-003")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty upload, got %d", rec.Code)
	}
}

func TestUploadStatusNotFound(t *testing.T) {
	srv := newTestServer(t)
	r := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/upload-status?index=personal&documentId=nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSearchOnEmptyIndexReturnsEmptyResult(t *testing.T) {
	srv := newTestServer(t)
	r := srv.Router()

	reqBody, _ := json.Marshal(searchRequest{Query: "kubernetes", Index: "personal"})
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Matches []map[string]any `json:"matches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Matches == nil {
		t.Fatal("expected a non-nil (possibly empty) matches list")
	}
	if len(resp.Matches) != 0 {
		t.Fatalf("expected no matches against an empty index, got %d", len(resp.Matches))
	}
}

func TestDeleteDocumentRequiresParams(t *testing.T) {
	srv := newTestServer(t)
	r := srv.Router()

	req := httptest.NewRequest(http.MethodDelete, "/documents", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteIndexEnqueues(t *testing.T) {
	srv := newTestServer(t)
	r := srv.Router()

	req := httptest.NewRequest(http.MethodDelete, "/indexes?index=personal", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRootLiveness(t *testing.T) {
	srv := newTestServer(t)
	r := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["uptime"] == "" {
		t.Fatal("expected a non-empty uptime string")
	}
}
