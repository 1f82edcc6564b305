// Package delivery runs the single background worker that drains the event
// queue into a transport.
//
// Each iteration waits for data, peeks a batch, delivers up to MaxBatch track
// events in one call and then, if the batch stopped at an identify event,
// delivers that identify on its own. Success and server errors remove the
// delivered prefix. Throttling and proxy authentication failures keep it.
// Any outcome other than success suspends the worker for BackoffInterval.
//
// Stop cancels the wait and backoff points. A transport call already in
// flight is allowed to finish.
package delivery

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/randalmurphal/amplitude/pkg/amplitude/observability"
	"github.com/randalmurphal/amplitude/pkg/amplitude/queue"
	"github.com/randalmurphal/amplitude/pkg/amplitude/transport"
)

// DefaultBackoffInterval is how long the worker pauses after a failed delivery.
const DefaultBackoffInterval = 30 * time.Second

// Delivery kinds used in logs, metrics and spans.
const (
	kindEvents   = "events"
	kindIdentify = "identify"
)

// Config configures a Worker.
type Config struct {
	// MaxBatch caps the number of track events per bulk call. Values
	// outside 1..queue.DefaultMaxBatch fall back to queue.DefaultMaxBatch (10).
	MaxBatch int

	// BackoffInterval is the pause after any non-success outcome.
	// Default: 30 seconds
	BackoffInterval time.Duration

	// Jitter randomizes the backoff by +/- the given fraction (0.0-1.0).
	// Default: 0 (fixed interval)
	Jitter float64

	// Logger receives worker diagnostics. Default: slog.Default()
	Logger *slog.Logger

	// Metrics records delivery metrics. Default: observability.NoopMetrics{}
	Metrics observability.MetricsRecorder

	// Spans traces transport calls. Default: observability.NoopSpanManager{}
	Spans observability.SpanManager
}

func (c Config) withDefaults() Config {
	if c.MaxBatch <= 0 || c.MaxBatch > queue.DefaultMaxBatch {
		c.MaxBatch = queue.DefaultMaxBatch
	}
	if c.BackoffInterval <= 0 {
		c.BackoffInterval = DefaultBackoffInterval
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Jitter > 1 {
		c.Jitter = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observability.NoopMetrics{}
	}
	if c.Spans == nil {
		c.Spans = observability.NoopSpanManager{}
	}
	return c
}

// Worker drains a queue into a transport on one goroutine.
type Worker struct {
	queue     *queue.Queue
	transport transport.Transport
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// New creates a worker. Call Start to begin delivery.
func New(q *queue.Queue, t transport.Transport, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		queue:     q,
		transport: t,
		cfg:       cfg,
		logger:    observability.EnrichLogger(cfg.Logger, "delivery"),
		done:      make(chan struct{}),
	}
}

// Start launches the delivery goroutine. The worker runs until ctx is
// cancelled or Stop is called. A worker can be started once.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrWorkerStopped
	}
	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(runCtx)

	w.logger.Debug("delivery worker started",
		slog.Int("max_batch", w.cfg.MaxBatch),
		slog.Duration("backoff", w.cfg.BackoffInterval),
	)
	return nil
}

// Stop cancels the worker and waits for it to exit. An in-flight transport
// call completes first. Safe to call more than once and before Start.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	cancel, started := w.cancel, w.started
	w.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-w.done
}

// Done is closed when the delivery goroutine has exited.
// It is never closed for a worker that was not started.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err returns the *FatalError that terminated the worker, or nil.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			fe := &FatalError{Value: r, Stack: string(debug.Stack())}
			w.mu.Lock()
			w.err = fe
			w.mu.Unlock()
			observability.LogWorkerFatal(w.logger, fe)
		}
	}()

	for {
		if err := w.queue.WaitForData(ctx); err != nil {
			w.logger.Debug("delivery worker exiting", slog.Int("pending", w.queue.Len()))
			return
		}

		it := w.step(ctx)
		if it.backoff && !w.sleep(ctx) {
			w.logger.Debug("delivery worker exiting during backoff", slog.Int("pending", w.queue.Len()))
			return
		}
	}
}

// iteration summarizes one pass of the delivery state machine.
type iteration struct {
	sentEvents   int
	eventsResult transport.Result

	sentIdentify   bool
	identifyResult transport.Result

	removed int
	backoff bool
}

// step collects one batch and delivers it. It never blocks on the queue.
func (w *Worker) step(ctx context.Context) iteration {
	batch := w.queue.PeekBatch(w.cfg.MaxBatch)
	defer w.queue.Release()

	var it iteration
	if batch.Empty() {
		return it
	}

	sendIdentify := batch.Identify != nil

	if n := len(batch.Events); n > 0 {
		res := w.deliver(ctx, kindEvents, n, func(c context.Context) (transport.Result, error) {
			return w.transport.SendEvents(c, batch.Events)
		})
		it.sentEvents, it.eventsResult = n, res

		if res.Removable() {
			it.removed += w.queue.RemovePrefix(n)
		} else {
			sendIdentify = false
		}
		if res != transport.Success {
			it.backoff = true
		}
	}

	if sendIdentify {
		id := batch.Identify
		res := w.deliver(ctx, kindIdentify, 1, func(c context.Context) (transport.Result, error) {
			return w.transport.SendIdentify(c, id)
		})
		it.sentIdentify, it.identifyResult = true, res

		if res.Removable() {
			it.removed += w.queue.RemovePrefix(1)
		}
		if res != transport.Success {
			it.backoff = true
		}
	}

	if it.removed > 0 {
		w.cfg.Metrics.RecordRemoved(ctx, it.removed)
	}
	if it.backoff {
		w.cfg.Metrics.RecordBackoff(ctx)
	}
	return it
}

// deliver runs one transport call. The call's context is detached from
// cancellation so shutdown never aborts a request mid-flight. Errors and
// panics are folded into transport.ServerError.
func (w *Worker) deliver(
	ctx context.Context,
	kind string,
	count int,
	call func(context.Context) (transport.Result, error),
) transport.Result {
	callCtx, span := w.cfg.Spans.StartDeliverySpan(context.WithoutCancel(ctx), kind, count)
	elapsed := observability.TimedOperation()

	res, err := guard(callCtx, kind, call)
	if err != nil {
		res = transport.ServerError
		observability.LogDeliveryError(w.logger, kind, count, err)
	}

	ms := elapsed()
	w.cfg.Spans.EndDeliverySpan(span, res.String(), err)
	w.cfg.Metrics.RecordDelivery(ctx, kind, count, res.String(), time.Duration(ms*float64(time.Millisecond)))
	observability.LogDelivery(w.logger, kind, count, res.String(), ms)
	return res
}

func guard(
	ctx context.Context,
	kind string,
	call func(context.Context) (transport.Result, error),
) (res transport.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = transport.ServerError
			err = &PanicError{Kind: kind, Value: r, Stack: string(debug.Stack())}
		}
	}()
	return call(ctx)
}

// sleep waits out the backoff interval. It returns false if ctx ended first.
func (w *Worker) sleep(ctx context.Context) bool {
	d := backoffDuration(w.cfg.BackoffInterval, w.cfg.Jitter)
	observability.LogBackoff(w.logger, d, w.queue.Len())

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// backoffDuration applies jitter: base +/- (base * jitter * random).
func backoffDuration(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}
