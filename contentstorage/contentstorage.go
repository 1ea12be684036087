// Package contentstorage implements the external-facing Content Storage
// Service: upsert/delete/getById/count over a two-phase
// queued write model. Phase 1 is a synchronous row insert into an
// Operations table; Phase 2 is a background worker that drains Operations
// per contentId in timestamp order, applying them one at a time so the
// latest write is the one left committed (last-write-wins).
//
// Grounded on domkeeper/internal/store (sql.DB wrapper,
// "CREATE TABLE IF NOT EXISTS" schema idiom) and
// domkeeper/internal/ingest.Consumer's IngestEntry processing/done/error
// status-tracking pattern, applied here to one Operation row per write
// request instead of one ingest entry per DOM snapshot.
package contentstorage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/semindex/dbopen"
	"github.com/hazyhaar/semindex/idgen"
	"github.com/hazyhaar/semindex/internal/clock"
	"github.com/hazyhaar/semindex/pipeline"

	_ "modernc.org/sqlite"
)

// ErrNotFound mirrors pipeline.ErrNotFound for GetByID on an unknown or
// deleted contentId.
var ErrNotFound = pipeline.ErrNotFound

const (
	kindUpsert = "upsert"
	kindDelete = "delete"
)

// Request is the Phase 1 write request accepted by Upsert.
type Request struct {
	// ContentID is caller-supplied, or generated when empty.
	ContentID string
	Index     string
	Payload   []byte
	// PlannedSteps records what Phase 2 intends to do, for operator
	// visibility.
	PlannedSteps []string
}

// Service is the Content Storage Service.
type Service struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	clock  clock.Clock

	pollInterval time.Duration
	maxAttempts  int

	mu      sync.Mutex
	active  map[string]bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithPollInterval overrides the Phase 2 worker's poll tick (default 200ms).
func WithPollInterval(d time.Duration) Option { return func(s *Service) { s.pollInterval = d } }

// WithMaxAttempts bounds Phase 2's retry count for a retriable error before
// marking the Operation permanently failed (default 5).
func WithMaxAttempts(n int) Option { return func(s *Service) { s.maxAttempts = n } }

// WithClock overrides the time source used for Operation timestamps.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// Open opens (or creates) the SQLite database at path, applies the content
// storage schema, and returns a ready Service.
func Open(path string, newID idgen.Generator, opts ...Option) (*Service, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("contentstorage: open: %w", err)
	}
	return New(db, newID, opts...), nil
}

// New wraps an already-open, schema-applied *sql.DB.
func New(db *sql.DB, newID idgen.Generator, opts ...Option) *Service {
	if newID == nil {
		newID = idgen.UUIDv7()
	}
	s := &Service{
		db:           db,
		newID:        newID,
		logger:       slog.Default(),
		clock:        clock.Real(),
		pollInterval: 200 * time.Millisecond,
		maxAttempts:  5,
		active:       make(map[string]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Upsert is Phase 1: it assigns a contentId (if req.ContentID is empty),
// persists an Operation row, and returns — Phase 1 always succeeds if the
// row can be written.
func (s *Service) Upsert(ctx context.Context, req Request) (string, error) {
	contentID := req.ContentID
	if contentID == "" {
		contentID = s.newID()
	}
	if err := s.insertOperation(ctx, contentID, req.Index, kindUpsert, req.Payload, req.PlannedSteps); err != nil {
		return "", err
	}
	return contentID, nil
}

// Delete is Phase 1 for a delete: it persists a delete Operation that, once
// drained after every earlier Operation for contentId, removes the
// committed row.
func (s *Service) Delete(ctx context.Context, contentID string) error {
	return s.insertOperation(ctx, contentID, "", kindDelete, nil, nil)
}

func (s *Service) insertOperation(ctx context.Context, contentID, index, kind string, payload []byte, plannedSteps []string) error {
	steps, err := json.Marshal(plannedSteps)
	if err != nil {
		return fmt.Errorf("contentstorage: encode planned steps: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.db,
		`INSERT INTO operations (content_id, index_name, kind, payload, planned_steps, created_at) VALUES (?,?,?,?,?,?)`,
		contentID, index, kind, payload, string(steps), s.clock().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("contentstorage: insert operation: %w", err)
	}
	return nil
}

// GetByID reads the committed content row only — never a pending Operation.
func (s *Service) GetByID(ctx context.Context, contentID string) ([]byte, string, error) {
	var payload []byte
	var index string
	err := s.db.QueryRowContext(ctx, `SELECT payload, index_name FROM content WHERE id = ?`, contentID).Scan(&payload, &index)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("contentstorage: get %s: %w", contentID, err)
	}
	return payload, index, nil
}

// Count returns the number of committed content rows.
func (s *Service) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content`).Scan(&n); err != nil {
		return 0, fmt.Errorf("contentstorage: count: %w", err)
	}
	return n, nil
}

// StartWorker launches the Phase 2 background drain loop. It returns
// immediately; call StopWorker to shut it down.
func (s *Service) StartWorker(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.pollLoop(ctx)
}

// StopWorker stops the drain loop and waits for in-flight per-contentId
// processing to finish.
func (s *Service) StopWorker(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce finds every distinct contentId with pending work and spawns one
// goroutine per id not already being processed — operations on different
// contentIds run in parallel, while each id's operations drain in
// timestamp order inside its own goroutine.
func (s *Service) pollOnce(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT content_id FROM operations WHERE complete = 0 AND cancelled = 0 AND failed = 0`)
	if err != nil {
		s.logger.Warn("contentstorage: poll: list pending content ids failed", "error", err)
		return
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()

	s.mu.Lock()
	var toRun []string
	for _, id := range ids {
		if !s.active[id] {
			s.active[id] = true
			toRun = append(toRun, id)
		}
	}
	s.mu.Unlock()

	for _, id := range toRun {
		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.active, id)
				s.mu.Unlock()
			}()
			s.drainContent(ctx, id)
		}(id)
	}
}

type operation struct {
	seq       int64
	contentID string
	index     string
	kind      string
	payload   []byte
	createdAt int64
	attempts  int
}

// drainContent processes every pending Operation for contentID, oldest
// first, until none remain.
func (s *Service) drainContent(ctx context.Context, contentID string) {
	for {
		op, ok, err := s.nextPending(ctx, contentID)
		if err != nil {
			s.logger.Warn("contentstorage: drain: read next operation failed", "content_id", contentID, "error", err)
			return
		}
		if !ok {
			return
		}

		// nextPending always returns the oldest pending, uncancelled operation
		// for this content id, and drainContent applies operations one at a
		// time in that same order, so convergence on the latest write is
		// carried entirely by in-order apply — there is never a strictly
		// earlier pending operation left to cancel once we reach this point.
		if err := s.apply(ctx, op); err != nil {
			if dbopen.IsBusy(err) && op.attempts < s.maxAttempts {
				s.bumpAttempts(ctx, op)
				return // retry on the next poll tick, bounded backoff via poll interval
			}
			s.markFailed(ctx, op, err)
			continue
		}
		s.markComplete(ctx, op)
	}
}

func (s *Service) nextPending(ctx context.Context, contentID string) (operation, bool, error) {
	var op operation
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, content_id, index_name, kind, payload, created_at, attempts
		 FROM operations
		 WHERE content_id = ? AND complete = 0 AND cancelled = 0 AND failed = 0
		 ORDER BY created_at ASC, seq ASC LIMIT 1`, contentID,
	).Scan(&op.seq, &op.contentID, &op.index, &op.kind, &op.payload, &op.createdAt, &op.attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return operation{}, false, nil
	}
	if err != nil {
		return operation{}, false, err
	}
	return op, true, nil
}

func (s *Service) apply(ctx context.Context, op operation) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		now := s.clock().UnixNano()
		switch op.kind {
		case kindDelete:
			_, err := tx.ExecContext(ctx, `DELETE FROM content WHERE id = ?`, op.contentID)
			return err
		default: // kindUpsert
			_, err := tx.ExecContext(ctx,
				`INSERT INTO content (id, index_name, payload, created_at, updated_at) VALUES (?,?,?,?,?)
				 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, index_name = excluded.index_name, updated_at = excluded.updated_at`,
				op.contentID, op.index, op.payload, now, now,
			)
			return err
		}
	})
}

func (s *Service) markComplete(ctx context.Context, op operation) {
	if _, err := s.db.ExecContext(ctx, `UPDATE operations SET complete = 1 WHERE seq = ?`, op.seq); err != nil {
		s.logger.Warn("contentstorage: mark complete failed", "seq", op.seq, "error", err)
	}
}

func (s *Service) markFailed(ctx context.Context, op operation, cause error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE operations SET failed = 1, last_error = ? WHERE seq = ?`, cause.Error(), op.seq,
	); err != nil {
		s.logger.Warn("contentstorage: mark failed failed", "seq", op.seq, "error", err)
	}
}

func (s *Service) bumpAttempts(ctx context.Context, op operation) {
	if _, err := s.db.ExecContext(ctx, `UPDATE operations SET attempts = attempts + 1 WHERE seq = ?`, op.seq); err != nil {
		s.logger.Warn("contentstorage: bump attempts failed", "seq", op.seq, "error", err)
	}
}
