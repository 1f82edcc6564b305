package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/randalmurphal/amplitude/pkg/amplitude/event"
	"github.com/randalmurphal/amplitude/pkg/amplitude/observability"
	"github.com/randalmurphal/amplitude/pkg/amplitude/queue"
)

// Persistence operations used in logs and metrics.
const (
	opSave = "save"
	opLoad = "load"
)

// Bridge saves and restores queue contents.
type Bridge struct {
	queue   *queue.Queue
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithLogger sets the logger for swallowed failures.
func WithLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) BridgeOption {
	return func(b *Bridge) {
		if m != nil {
			b.metrics = m
		}
	}
}

// NewBridge creates a bridge over q.
func NewBridge(q *queue.Queue, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		queue:   q,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = observability.EnrichLogger(b.logger, "persist")
	return b
}

// Save writes the full queue, in order, to w and returns the number of
// events written. Failures are logged and reported as zero. A nil w is a
// no-op.
func (b *Bridge) Save(w io.Writer) int {
	if w == nil {
		return 0
	}

	data, n, err := b.encode()
	if err == nil {
		_, err = w.Write(data)
	}
	return b.finishSave(n, err)
}

// SaveTo writes the full queue to store under key.
func (b *Bridge) SaveTo(store Store, key string) int {
	if store == nil {
		return 0
	}

	data, n, err := b.encode()
	if err == nil {
		err = store.Save(key, data)
	}
	return b.finishSave(n, err)
}

func (b *Bridge) encode() ([]byte, int, error) {
	events := b.queue.Snapshot()
	data, err := event.MarshalSequence(events)
	if err != nil {
		return nil, 0, err
	}
	return data, len(events), nil
}

func (b *Bridge) finishSave(n int, err error) int {
	b.metrics.RecordPersist(context.Background(), opSave, n, err)
	if err != nil {
		observability.LogPersistError(b.logger, opSave, err)
		return 0
	}
	observability.LogPersist(b.logger, opSave, n)
	return n
}

// Load reads a saved sequence from r and prepends it to the queue, ahead of
// events enqueued in this session. It returns the number restored. An empty
// or nil reader restores nothing. Parse failures are logged and reported
// as zero.
func (b *Bridge) Load(r io.Reader) int {
	if r == nil {
		return 0
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return b.finishLoad(0, fmt.Errorf("read snapshot: %w", err))
	}
	return b.restore(data)
}

// LoadFrom restores the snapshot stored under key. A missing snapshot
// restores nothing and is not an error.
func (b *Bridge) LoadFrom(store Store, key string) int {
	if store == nil {
		return 0
	}

	data, err := store.Load(key)
	if errors.Is(err, ErrNotFound) {
		return 0
	}
	if err != nil {
		return b.finishLoad(0, err)
	}
	return b.restore(data)
}

func (b *Bridge) restore(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	events, err := event.UnmarshalSequence(data)
	if err != nil {
		return b.finishLoad(0, err)
	}

	var maxID int64
	for _, e := range events {
		if e.ID() > maxID {
			maxID = e.ID()
		}
	}
	event.Observe(maxID)

	b.queue.RestorePrepend(events)
	return b.finishLoad(len(events), nil)
}

func (b *Bridge) finishLoad(n int, err error) int {
	b.metrics.RecordPersist(context.Background(), opLoad, n, err)
	if err != nil {
		observability.LogPersistError(b.logger, opLoad, err)
		return 0
	}
	observability.LogPersist(b.logger, opLoad, n)
	return n
}
