package partition

import (
	"context"
	"testing"

	"github.com/hazyhaar/semindex/blobstore/fsblob"
	"github.com/hazyhaar/semindex/handler"
	"github.com/hazyhaar/semindex/pipeline"
)

func TestInvokePartitionsExtractedText(t *testing.T) {
	blobs := fsblob.New(t.TempDir())
	ctx := context.Background()
	if err := blobs.WriteText(ctx, "personal/doc-1", "hello.txt.extract.0.txt", "a short piece of extracted text"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	src := &pipeline.GeneratedFile{
		FileHeader:  pipeline.FileHeader{ID: "f1.extract.0", Name: "hello.txt.extract.0.txt"},
		ParentID:    "f1",
		GeneratedBy: "extract",
	}
	p := &pipeline.DataPipeline{Index: "personal", DocumentID: "doc-1", Files: []pipeline.FileRecord{src}}

	h := New(Options{})
	hctx := handler.Context{Context: ctx, Blobs: blobs, Volume: "personal/doc-1"}
	out, outcome, err := h.Invoke(hctx, p)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if outcome != handler.Success {
		t.Fatalf("expected success, got %v", outcome)
	}
	if len(out.Files) != 2 {
		t.Fatalf("expected the extract source plus one partition file, got %d", len(out.Files))
	}
	if !src.Header().AlreadyProcessedBy(StepName) {
		t.Fatal("expected the source file to be marked processed by partition")
	}

	part, ok := out.Files[1].(*pipeline.GeneratedFile)
	if !ok {
		t.Fatalf("expected *GeneratedFile, got %T", out.Files[1])
	}
	if part.SourcePartitionID != src.ID {
		t.Fatalf("expected sourcePartitionId %q, got %q", src.ID, part.SourcePartitionID)
	}
}

func TestInvokeSkipsAlreadyPartitionedSources(t *testing.T) {
	blobs := fsblob.New(t.TempDir())
	src := &pipeline.GeneratedFile{FileHeader: pipeline.FileHeader{ID: "f1.extract.0", Name: "hello.extract.0.txt"}, GeneratedBy: "extract"}
	src.MarkProcessedBy(StepName)
	p := &pipeline.DataPipeline{Index: "personal", DocumentID: "doc-1", Files: []pipeline.FileRecord{src}}

	h := New(Options{})
	hctx := handler.Context{Context: context.Background(), Blobs: blobs, Volume: "personal/doc-1"}
	out, outcome, err := h.Invoke(hctx, p)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if outcome != handler.Success {
		t.Fatalf("expected success, got %v", outcome)
	}
	if len(out.Files) != 1 {
		t.Fatalf("expected no new partitions, got %d files", len(out.Files))
	}
}
