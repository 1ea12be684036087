package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/hazyhaar/semindex/blobstore"
	"github.com/hazyhaar/semindex/blobstore/fsblob"
	"github.com/hazyhaar/semindex/handler"
	"github.com/hazyhaar/semindex/pipeline"
)

func newHctx(t *testing.T, blobs blobstore.Store) handler.Context {
	t.Helper()
	return handler.Context{Context: context.Background(), Blobs: blobs, Volume: "personal/doc-1"}
}

func TestDetectUnsupportedFormat(t *testing.T) {
	if _, err := Detect("file.exe"); err == nil {
		t.Fatal("expected an error for an unrecognized extension")
	}
}

func TestInvokeExtractsPlainText(t *testing.T) {
	blobs := fsblob.New(t.TempDir())
	ctx := context.Background()
	if err := blobs.WriteText(ctx, "personal/doc-1", "hello.txt", "hello world"); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	p := &pipeline.DataPipeline{
		Index:      "personal",
		DocumentID: "doc-1",
		Files: []pipeline.FileRecord{
			&pipeline.OriginalFile{FileHeader: pipeline.FileHeader{ID: "f1", Name: "hello.txt"}},
		},
	}

	h := New()
	out, outcome, err := h.Invoke(newHctx(t, blobs), p)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if outcome != handler.Success {
		t.Fatalf("expected success, got %v", outcome)
	}
	if len(out.Files) != 2 {
		t.Fatalf("expected an original plus a generated file, got %d", len(out.Files))
	}
	if !out.Files[0].Header().AlreadyProcessedBy(StepName) {
		t.Fatal("expected the original file to be marked processed by extract")
	}

	gen, ok := out.Files[1].(*pipeline.GeneratedFile)
	if !ok {
		t.Fatalf("expected a *GeneratedFile, got %T", out.Files[1])
	}
	text, err := blobs.ReadText(ctx, "personal/doc-1", gen.Name)
	if err != nil {
		t.Fatalf("read generated file: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("got %q", text)
	}
}

func TestInvokeExtractsMarkdownFromHTML(t *testing.T) {
	blobs := fsblob.New(t.TempDir())
	ctx := context.Background()
	body := "<html><body><script>evil()</script><h1>Title</h1><p>hello <b>world</b></p></body></html>"
	if err := blobs.WriteText(ctx, "personal/doc-1", "page.html", body); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	p := &pipeline.DataPipeline{
		Index:      "personal",
		DocumentID: "doc-1",
		Files: []pipeline.FileRecord{
			&pipeline.OriginalFile{FileHeader: pipeline.FileHeader{ID: "f1", Name: "page.html"}},
		},
	}

	h := New()
	out, outcome, err := h.Invoke(newHctx(t, blobs), p)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if outcome != handler.Success {
		t.Fatalf("expected success, got %v", outcome)
	}
	gen, ok := out.Files[1].(*pipeline.GeneratedFile)
	if !ok {
		t.Fatalf("expected a *GeneratedFile, got %T", out.Files[1])
	}
	text, err := blobs.ReadText(ctx, "personal/doc-1", gen.Name)
	if err != nil {
		t.Fatalf("read generated file: %v", err)
	}
	if strings.Contains(text, "evil()") {
		t.Fatalf("expected script contents to be stripped, got %q", text)
	}
	if !strings.Contains(text, "Title") || !strings.Contains(text, "world") {
		t.Fatalf("expected extracted markdown to retain visible text, got %q", text)
	}
}

func TestInvokeSkipsAlreadyProcessedFiles(t *testing.T) {
	blobs := fsblob.New(t.TempDir())
	of := &pipeline.OriginalFile{FileHeader: pipeline.FileHeader{ID: "f1", Name: "hello.txt"}}
	of.MarkProcessedBy(StepName)
	p := &pipeline.DataPipeline{Index: "personal", DocumentID: "doc-1", Files: []pipeline.FileRecord{of}}

	h := New()
	out, outcome, err := h.Invoke(newHctx(t, blobs), p)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if outcome != handler.Success {
		t.Fatalf("expected success, got %v", outcome)
	}
	if len(out.Files) != 1 {
		t.Fatalf("expected no new files for an already-processed input, got %d", len(out.Files))
	}
}

func TestInvokeUnsupportedFormatIsFatal(t *testing.T) {
	blobs := fsblob.New(t.TempDir())
	p := &pipeline.DataPipeline{
		Index:      "personal",
		DocumentID: "doc-1",
		Files: []pipeline.FileRecord{
			&pipeline.OriginalFile{FileHeader: pipeline.FileHeader{ID: "f1", Name: "weird.exe"}},
		},
	}

	h := New()
	_, outcome, err := h.Invoke(newHctx(t, blobs), p)
	if err == nil {
		t.Fatal("expected an error")
	}
	if outcome != handler.FatalError {
		t.Fatalf("expected FatalError for an unrecognized format, got %v", outcome)
	}
}
