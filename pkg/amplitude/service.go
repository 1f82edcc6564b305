package amplitude

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/amplitude/pkg/amplitude/delivery"
	"github.com/randalmurphal/amplitude/pkg/amplitude/event"
	"github.com/randalmurphal/amplitude/pkg/amplitude/observability"
	"github.com/randalmurphal/amplitude/pkg/amplitude/persist"
	"github.com/randalmurphal/amplitude/pkg/amplitude/queue"
	"github.com/randalmurphal/amplitude/pkg/amplitude/transport"
)

// PlaceholderAPIKey is the sample key shipped in documentation. Initialize
// rejects it like an empty key.
const PlaceholderAPIKey = "<YOUR_API_KEY>"

// Service buffers events and delivers them in the background.
// All methods are safe for concurrent use.
type Service struct {
	queue   *queue.Queue
	worker  *delivery.Worker
	bridge  *persist.Bridge
	gate    *transport.Gate
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	policy  UsagePolicy

	store     persist.Store
	storeKey  string
	ownsStore bool

	mu        sync.RWMutex
	identity  event.Identity
	hasIdent  bool
	sessionID int64
	extra     event.Properties
	closed    bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// Initialize validates the key and region, starts the delivery worker, and
// restores persisted events. Restored events are delivered before events
// tracked in this session.
//
// Example:
//
//	svc, err := amplitude.Initialize(apiKey, "us",
//	    amplitude.WithLogger(logger),
//	    amplitude.WithPersistence(f),
//	)
//	if err != nil {
//	    return err
//	}
//	defer svc.Uninitialize(nil)
func Initialize(apiKey, region string, opts ...Option) (*Service, error) {
	if apiKey == "" || apiKey == PlaceholderAPIKey {
		return nil, &ConfigError{Field: "api_key", Err: ErrInvalidAPIKey}
	}
	if region == "" {
		return nil, &ConfigError{Field: "region", Err: ErrRegionRequired}
	}

	cfg := defaultServiceConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger

	t := cfg.transport
	if t == nil {
		client, err := transport.NewClient(transport.Config{
			APIKey:  apiKey,
			Region:  region,
			BaseURL: cfg.baseURL,
			Logger:  observability.EnrichLogger(logger, "transport"),
		})
		if err != nil {
			return nil, &ConfigError{Field: "api_key", Err: err}
		}
		t = client
	}

	s := &Service{
		queue:     queue.New(),
		gate:      transport.NewGate(t, cfg.offline),
		logger:    logger,
		metrics:   cfg.metrics,
		policy:    cfg.policy,
		store:     cfg.store,
		storeKey:  cfg.storeKey,
		ownsStore: cfg.ownsStore,
		extra:     cfg.extra,
	}
	s.worker = delivery.New(s.queue, s.gate, delivery.Config{
		MaxBatch:        cfg.batchSize,
		BackoffInterval: cfg.backoff,
		Jitter:          cfg.jitter,
		Logger:          logger,
		Metrics:         cfg.metrics,
		Spans:           cfg.spans,
	})
	s.bridge = persist.NewBridge(s.queue,
		persist.WithLogger(logger),
		persist.WithMetrics(cfg.metrics),
	)

	if err := s.worker.Start(context.Background()); err != nil {
		return nil, err
	}

	s.bridge.Load(cfg.persistence)
	s.bridge.LoadFrom(s.store, s.storeKey)
	s.NewSession()

	logger.Info("amplitude initialized",
		slog.String("region", region),
		slog.Bool("offline", cfg.offline),
		slog.String("usage_policy", cfg.policy.String()),
		slog.Int("restored", s.queue.Len()),
	)
	return s, nil
}

// Identify replaces the active identity and queues an identify event built
// from the merged user and device properties.
func (s *Service) Identify(user UserProperties, device DeviceProperties) error {
	e := event.NewIdentify(identifyProperties(user, device))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.usageError(ErrClosed, "identify")
	}
	s.identity = e.Identity()
	s.hasIdent = true
	s.queue.Enqueue(e)
	s.mu.Unlock()

	s.metrics.RecordEnqueued(context.Background(), string(event.KindIdentify))
	return nil
}

// Track queues a named event stamped with the active identity and session.
// Before any Identify, or with an empty name, the event is dropped; under
// UsageStrict the error is also returned.
func (s *Service) Track(name string, props Properties) error {
	if err := s.enqueueTrack(name, props); err != nil {
		return s.usageError(err, name)
	}
	s.metrics.RecordEnqueued(context.Background(), string(event.KindTrack))
	return nil
}

// enqueueTrack holds the read lock across the enqueue so an event is never
// queued behind an Identify that replaced the identity it was stamped with.
func (s *Service) enqueueTrack(name string, props Properties) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case s.closed:
		return ErrClosed
	case !s.hasIdent:
		return ErrNotIdentified
	}

	e, err := event.NewTrack(name, s.sessionID, s.identity, props, event.WithExtraProperties(s.extra))
	if err != nil {
		return err
	}
	s.queue.Enqueue(e)
	return nil
}

func (s *Service) usageError(err error, name string) error {
	if s.policy == UsageStrict {
		return err
	}
	s.logger.Warn("amplitude event dropped",
		slog.String("event", name),
		slog.String("reason", err.Error()),
	)
	return nil
}

// NewSession starts a new session. Session ids are Unix milliseconds.
func (s *Service) NewSession() {
	s.mu.Lock()
	s.sessionID = time.Now().UnixMilli()
	s.mu.Unlock()
}

// SessionID returns the active session id.
func (s *Service) SessionID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// SetExtraEventProperty sets a property merged into every later track event.
// A nil value removes it.
func (s *Service) SetExtraEventProperty(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == nil {
		delete(s.extra, key)
		return
	}
	if s.extra == nil {
		s.extra = make(event.Properties)
	}
	s.extra[key] = value
}

// SetOfflineMode toggles offline mode. While offline, queued events are
// drained without being sent.
func (s *Service) SetOfflineMode(offline bool) {
	s.gate.SetOffline(offline)
}

// OfflineMode reports whether offline mode is on.
func (s *Service) OfflineMode() bool {
	return s.gate.Offline()
}

// proxyConfigurer is implemented by transports that accept proxy credentials.
type proxyConfigurer interface {
	ConfigureProxy(username, password string)
}

// ConfigureProxy passes proxy credentials to the transport. Empty values
// revert to the unauthenticated environment proxy. Transports without proxy
// support ignore the call.
func (s *Service) ConfigureProxy(username, password string) {
	if pc, ok := s.gate.Unwrap().(proxyConfigurer); ok {
		pc.ConfigureProxy(username, password)
	}
}

// Pending returns the number of queued events.
func (s *Service) Pending() int {
	return s.queue.Len()
}

// Err reports a fatal delivery worker failure, after which nothing more is
// delivered for the lifetime of the service.
func (s *Service) Err() error {
	return s.worker.Err()
}

// Uninitialize stops the worker, waits for any in-flight delivery, and saves
// the remaining events to w (if non-nil) and to the configured store.
// Persistence failures are logged, never returned. Later calls are no-ops.
func (s *Service) Uninitialize(w io.Writer) {
	s.shutdown(w)
}

// Close is Uninitialize without a stream. It returns the error from closing
// a store opened by InitializeFromSettings.
func (s *Service) Close() error {
	return s.shutdown(nil)
}

func (s *Service) shutdown(w io.Writer) error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.worker.Stop()

		saved := s.bridge.Save(w)
		if s.store != nil {
			saved = s.bridge.SaveTo(s.store, s.storeKey)
		}

		if s.ownsStore && s.store != nil {
			if err := s.store.Close(); err != nil {
				s.shutdownErr = errors.Join(s.shutdownErr, err)
			}
		}

		s.logger.Info("amplitude uninitialized",
			slog.Int("pending", s.queue.Len()),
			slog.Int("saved", saved),
		)
	})
	return s.shutdownErr
}
