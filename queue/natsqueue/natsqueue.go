// Package natsqueue implements queue.Queue over NATS core pub/sub
// (github.com/nats-io/nats.go), standing in for the RabbitMQ/AzureQueue
// production QueueType variants a deployment can choose instead.
//
// NATS core has no broker-side redelivery or acknowledgement, unlike
// JetStream, so retry backoff and poisoning are emulated in-process; there
// is no visibility timeout (Options.FetchLockSeconds is not used). This
// package keeps its own JSON envelope rather than
// relying on broker features. Every message carries its own delivery
// count, and a transient outcome
// re-publishes the envelope to the same subject after a linear backoff
// delay instead of relying on the broker to redeliver it.
package natsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hazyhaar/semindex/internal/clock"
	"github.com/hazyhaar/semindex/queue"
)

// PoisonSuffix names the subject poisoned messages are published to:
// "<name><poisonSuffix>".
const PoisonSuffix = ".poison"

type envelope struct {
	ID         string `json:"id"`
	Content    []byte `json:"content"`
	Deliveries int    `json:"deliveries"`
}

// Factory creates natsqueue.Queue handles sharing one *nats.Conn.
type Factory struct {
	conn   *nats.Conn
	logger *slog.Logger
	clock  clock.Clock

	mu     sync.Mutex
	byName map[string]*Queue
}

// NewFactory wraps an already-connected *nats.Conn. The caller owns the
// connection's lifecycle; Factory never closes it.
func NewFactory(conn *nats.Conn, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		conn:   conn,
		logger: logger,
		clock:  clock.Real(),
		byName: make(map[string]*Queue),
	}
}

// Connect implements queue.Factory. Idempotent per name, like filequeue.
func (f *Factory) Connect(ctx context.Context, name string, opts queue.Options) (queue.Queue, error) {
	if name == "" {
		return nil, fmt.Errorf("natsqueue: queue name must not be empty")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if q, ok := f.byName[name]; ok {
		return q, nil
	}

	opts = queue.Defaults(opts)
	q := &Queue{
		name:    name,
		subject: name,
		conn:    f.conn,
		opts:    opts,
		logger:  f.logger.With("queue", name),
		clock:   f.clock,
	}

	if opts.DequeueEnabled {
		sub, err := f.conn.QueueSubscribe(q.subject, q.subject+".workers", q.onMessage)
		if err != nil {
			return nil, fmt.Errorf("natsqueue: subscribe %s: %w", name, err)
		}
		q.sub = sub
	}

	f.byName[name] = q
	return q, nil
}

// Queue is one NATS-core-backed channel.
type Queue struct {
	name    string
	subject string
	conn    *nats.Conn
	opts    queue.Options
	logger  *slog.Logger
	clock   clock.Clock

	mu      sync.Mutex
	handler queue.Handler

	sub *nats.Subscription

	pending sync.WaitGroup
}

// Name implements queue.Queue.
func (q *Queue) Name() string { return q.name }

// Enqueue implements queue.Queue.
func (q *Queue) Enqueue(ctx context.Context, body []byte) error {
	env := envelope{ID: newMessageID(), Content: body, Deliveries: 0}
	return q.publish(env)
}

// OnDequeue implements queue.Queue.
func (q *Queue) OnDequeue(handler queue.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
}

// Dispose implements queue.Queue: unsubscribes and waits for in-flight
// handler invocations and scheduled redeliveries to finish.
func (q *Queue) Dispose(ctx context.Context) error {
	if q.sub != nil {
		if err := q.sub.Unsubscribe(); err != nil {
			q.logger.Warn("natsqueue: unsubscribe failed", "error", err)
		}
	}
	done := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) publish(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("natsqueue: encode message %s: %w", env.ID, err)
	}
	return q.conn.Publish(q.subject, data)
}

func (q *Queue) onMessage(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		q.logger.Error("natsqueue: dropping malformed message", "error", err)
		return
	}

	q.mu.Lock()
	h := q.handler
	q.mu.Unlock()
	if h == nil {
		return
	}

	env.Deliveries++
	q.pending.Add(1)
	go q.handleOne(env, h)
}

func (q *Queue) handleOne(env envelope, h queue.Handler) {
	defer q.pending.Done()

	outcome, herr := h(context.Background(), env.Content)
	if herr != nil && outcome == queue.Success {
		outcome = queue.TransientError
	}

	switch outcome {
	case queue.Success:
		return
	case queue.FatalError:
		q.poison(env, herr)
	default:
		if env.Deliveries >= q.opts.MaxAttempts {
			q.poison(env, herr)
			return
		}
		delay := time.Duration(env.Deliveries) * time.Second
		time.AfterFunc(delay, func() {
			if err := q.publish(env); err != nil {
				q.logger.Error("natsqueue: redelivery publish failed", "id", env.ID, "error", err)
			}
		})
	}
}

func (q *Queue) poison(env envelope, herr error) {
	data, err := json.Marshal(env)
	if err != nil {
		q.logger.Error("natsqueue: poison encode failed", "id", env.ID, "error", err)
		return
	}
	if err := q.conn.Publish(q.subject+PoisonSuffix, data); err != nil {
		q.logger.Error("natsqueue: poison publish failed", "id", env.ID, "error", err)
		return
	}
	if herr != nil {
		q.logger.Warn("natsqueue: message poisoned", "id", env.ID, "deliveries", env.Deliveries, "error", herr)
	}
}

func newMessageID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
