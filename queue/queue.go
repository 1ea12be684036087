// Package queue defines the at-least-once message-passing contract the
// distributed orchestrator is built on, plus the shared Outcome
// type that both handler invocation and queue delivery use.
//
// Concrete backends live in sibling packages: queue/filequeue (the
// file-backed reference implementation) and queue/natsqueue (a broker-
// backed implementation standing in for the RabbitMQ/AzureQueue production
// variants a deployment can choose instead).
package queue

import "context"

// Outcome is the result of processing one message (or, reused unchanged,
// one handler invocation — handler outcomes map 1:1 onto queue outcomes
// without a translation step).
type Outcome int

const (
	// Success deletes the message (or advances the pipeline step).
	Success Outcome = iota
	// TransientError requeues the message with backoff, or poisons it if
	// the retry budget is exhausted.
	TransientError
	// FatalError moves the message to the poison queue immediately (or
	// halts the pipeline without requeueing).
	FatalError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TransientError:
		return "transient_error"
	case FatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// Handler processes one message body and returns an outcome. A non-nil
// error with Outcome==Success is treated as TransientError by callers that
// only check the error (the uncaught-exception case); handlers that want
// FatalError must return it explicitly.
type Handler func(ctx context.Context, body []byte) (Outcome, error)

// Options configures a queue connection. Not every backend honors every
// field; unsupported fields are ignored.
type Options struct {
	// DequeueEnabled=false yields a publish-only handle: no polling or
	// dispatch activity).
	DequeueEnabled bool
	// FetchBatchSize bounds how many messages one poll tick claims.
	FetchBatchSize int
	// FetchLockSeconds is the visibility timeout applied to claimed
	// messages.
	FetchLockSeconds int
	// MaxAttempts is the delivery count at which a message is poisoned
	// instead of retried.
	MaxAttempts int
	// PollInterval is the delay between poll ticks.
	PollInterval int // milliseconds
}

func (o *Options) defaults() {
	if o.FetchBatchSize <= 0 {
		o.FetchBatchSize = 10
	}
	if o.FetchLockSeconds <= 0 {
		o.FetchLockSeconds = 300
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 2
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 1000
	}
}

// Defaults returns o with zero-value fields replaced by spec defaults.
func Defaults(o Options) Options {
	o.defaults()
	return o
}

// Queue is one named FIFO-ish channel with per-message visibility locking
//. A Queue value is bound to exactly one name for its lifetime.
type Queue interface {
	// Name returns the bound queue name.
	Name() string

	// Enqueue appends a message with a monotonically sortable id, schedule
	// = now, deliveries = 0, lockUntil = epoch.
	Enqueue(ctx context.Context, body []byte) error

	// OnDequeue registers the single handler invoked for each visible
	// message. Calling it twice replaces the previous handler. No-op on a
	// publish-only (DequeueEnabled=false) handle.
	OnDequeue(handler Handler)

	// Dispose stops polling/dispatch; in-flight handler invocations run to
	// completion before Dispose returns.
	Dispose(ctx context.Context) error
}

// Factory binds a name to a Queue handle. Implementations are idempotent
// per (storageRoot, name): repeated Connect calls with the same name on
// independent Factory values sharing a storage root cooperate rather than
// conflict.
type Factory interface {
	Connect(ctx context.Context, name string, opts Options) (Queue, error)
}
