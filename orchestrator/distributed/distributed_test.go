package distributed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hazyhaar/semindex/blobstore/fsblob"
	"github.com/hazyhaar/semindex/handler"
	"github.com/hazyhaar/semindex/idgen"
	"github.com/hazyhaar/semindex/orchestrator"
	"github.com/hazyhaar/semindex/pipeline"
	"github.com/hazyhaar/semindex/queue"
	"github.com/hazyhaar/semindex/queue/filequeue"
)

type recordingHandler struct {
	name     string
	mu       struct{ calls int }
	fail     bool
	fatal    bool
	onInvoke func()
}

func (h *recordingHandler) StepName() string { return h.name }

func (h *recordingHandler) Invoke(hctx handler.Context, p *pipeline.DataPipeline) (*pipeline.DataPipeline, handler.Outcome, error) {
	h.mu.calls++
	if h.onInvoke != nil {
		h.onInvoke()
	}
	if h.fatal {
		return p, handler.FatalError, fmt.Errorf("%s: fatal", h.name)
	}
	if h.fail {
		h.fail = false
		return p, handler.TransientError, fmt.Errorf("%s: transient", h.name)
	}
	for _, f := range p.Files {
		f.Header().MarkProcessedBy(h.name)
	}
	return p, handler.Success, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *filequeue.Factory) {
	t.Helper()
	blobs := fsblob.New(t.TempDir())
	fq := filequeue.NewFactory(t.TempDir(), nil)
	opts := queue.Options{FetchBatchSize: 5, FetchLockSeconds: 5, MaxAttempts: 3, PollInterval: 20}
	return New(fq, opts, blobs, idgen.UUIDv7(), true, "test-lock"), fq
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDistributedHappyPathAdvancesThroughAllSteps(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	steps := []string{"extract", "partition", "embed", "save"}
	for _, name := range steps {
		if err := o.AddHandler(&recordingHandler{name: name}); err != nil {
			t.Fatalf("AddHandler(%s): %v", name, err)
		}
	}

	ctx := context.Background()
	upload := orchestrator.Upload{
		DocumentID: "doc-001",
		Steps:      steps,
		Tags:       pipeline.TagCollection{},
		Files:      []pipeline.FileUpload{{Name: "hello.txt", Content: []byte("hello world")}},
	}
	docID, err := o.ImportDocument(ctx, "personal", upload)
	if err != nil {
		t.Fatalf("ImportDocument: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		status, err := o.ReadSummary(ctx, "personal", docID)
		return err == nil && status.Completed
	})

	status, err := o.ReadSummary(ctx, "personal", docID)
	if err != nil {
		t.Fatalf("ReadSummary: %v", err)
	}
	if fmt.Sprint(status.CompletedSteps) != fmt.Sprint(steps) {
		t.Fatalf("completedSteps = %v, want %v", status.CompletedSteps, steps)
	}
	o.StopAll(ctx)
}

func TestDistributedSupersessionDrainsOldExecutionWithoutError(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	h := &recordingHandler{name: "extract", onInvoke: func() {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}}
	if err := o.AddHandler(h); err != nil {
		t.Fatalf("AddHandler: %v", err)
	}

	ctx := context.Background()
	upload1 := orchestrator.Upload{
		DocumentID: "doc-001",
		Steps:      []string{"extract"},
		Files:      []pipeline.FileUpload{{Name: "a.txt", Content: []byte("v1")}},
	}
	if _, err := o.ImportDocument(ctx, "personal", upload1); err != nil {
		t.Fatalf("first ImportDocument: %v", err)
	}

	<-entered // first execution's handler is blocked inside Invoke

	upload2 := orchestrator.Upload{
		DocumentID: "doc-001",
		Steps:      []string{"extract"},
		Files:      []pipeline.FileUpload{{Name: "a.txt", Content: []byte("v2")}},
	}
	if _, err := o.ImportDocument(ctx, "personal", upload2); err != nil {
		t.Fatalf("second ImportDocument: %v", err)
	}

	close(release) // let the first (now-superseded) handler invocation return

	waitFor(t, 3*time.Second, func() bool {
		status, err := o.ReadSummary(ctx, "personal", "doc-001")
		return err == nil && status.Completed
	})

	p, err := o.ReadStatus(ctx, "personal", "doc-001")
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	data, err := o.ReadFile(ctx, "personal", "doc-001", "a.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "v2" {
		t.Fatalf("expected the later execution's file content to win, got %q", data)
	}
	if len(p.PreviousExecutionsToPurge) == 0 {
		t.Fatal("expected the superseded execution to be recorded for later purge")
	}
	o.StopAll(ctx)
}

func TestDistributedFatalErrorFailsPipeline(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	if err := o.AddHandler(&recordingHandler{name: "extract", fatal: true}); err != nil {
		t.Fatalf("AddHandler: %v", err)
	}

	ctx := context.Background()
	upload := orchestrator.Upload{
		DocumentID: "doc-002",
		Steps:      []string{"extract"},
		Files:      []pipeline.FileUpload{{Name: "a.txt", Content: []byte("x")}},
	}
	if _, err := o.ImportDocument(ctx, "personal", upload); err != nil {
		t.Fatalf("ImportDocument: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		status, err := o.ReadSummary(ctx, "personal", "doc-002")
		return err == nil && status.Failed
	})
	o.StopAll(ctx)
}
