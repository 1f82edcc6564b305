package amplitude

import (
	"io"
	"log/slog"
	"time"

	"github.com/randalmurphal/amplitude/pkg/amplitude/delivery"
	"github.com/randalmurphal/amplitude/pkg/amplitude/event"
	"github.com/randalmurphal/amplitude/pkg/amplitude/observability"
	"github.com/randalmurphal/amplitude/pkg/amplitude/persist"
	"github.com/randalmurphal/amplitude/pkg/amplitude/queue"
	"github.com/randalmurphal/amplitude/pkg/amplitude/transport"
)

// UsagePolicy decides what happens when Track or Identify is misused.
type UsagePolicy int

const (
	// UsageLenient logs the mistake at warn level and drops the event.
	// Suitable for production.
	UsageLenient UsagePolicy = iota

	// UsageStrict returns the usage error to the caller.
	// Suitable for development and tests.
	UsageStrict
)

// String returns the policy name.
func (p UsagePolicy) String() string {
	if p == UsageStrict {
		return "strict"
	}
	return "lenient"
}

// serviceConfig holds Initialize settings.
type serviceConfig struct {
	logger      *slog.Logger
	persistence io.Reader
	store       persist.Store
	storeKey    string
	ownsStore   bool
	offline     bool
	policy      UsagePolicy
	transport   transport.Transport
	batchSize   int
	backoff     time.Duration
	jitter      float64
	baseURL     string
	extra       event.Properties
	metrics     observability.MetricsRecorder
	spans       observability.SpanManager
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		logger:    slog.Default(),
		storeKey:  persist.DefaultKey,
		policy:    UsageLenient,
		batchSize: queue.DefaultMaxBatch,
		backoff:   delivery.DefaultBackoffInterval,
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
	}
}

// Option configures Initialize.
type Option func(*serviceConfig)

// WithLogger sets the logger for all components.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPersistence restores events saved by a previous Uninitialize from r.
// Unreadable or corrupt data is logged and ignored.
func WithPersistence(r io.Reader) Option {
	return func(c *serviceConfig) {
		c.persistence = r
	}
}

// WithStore restores events from store at startup and saves them back on
// Uninitialize. The caller keeps ownership of store.
//
// Example:
//
//	store, _ := persist.NewSQLiteStore("amplitude.db")
//	defer store.Close()
//	svc, err := amplitude.Initialize(key, "us", amplitude.WithStore(store))
func WithStore(store persist.Store) Option {
	return func(c *serviceConfig) {
		c.store = store
		c.ownsStore = false
	}
}

// WithStoreKey sets the snapshot key used with WithStore.
// Default: persist.DefaultKey
func WithStoreKey(key string) Option {
	return func(c *serviceConfig) {
		if key != "" {
			c.storeKey = key
		}
	}
}

// WithOfflineMode starts the service offline: events are accepted and
// drained but never sent.
func WithOfflineMode(offline bool) Option {
	return func(c *serviceConfig) {
		c.offline = offline
	}
}

// WithUsagePolicy selects how usage mistakes are reported.
// Default: UsageLenient
func WithUsagePolicy(p UsagePolicy) Option {
	return func(c *serviceConfig) {
		c.policy = p
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(t transport.Transport) Option {
	return func(c *serviceConfig) {
		c.transport = t
	}
}

// WithBatchSize caps the number of track events per bulk call.
// Values above 10 are clamped to 10.
// Default: 10
func WithBatchSize(n int) Option {
	return func(c *serviceConfig) {
		if n > 0 {
			c.batchSize = min(n, queue.DefaultMaxBatch)
		}
	}
}

// WithBackoff sets the pause after a failed delivery and its jitter fraction.
// Default: 30 seconds, no jitter
func WithBackoff(interval time.Duration, jitter float64) Option {
	return func(c *serviceConfig) {
		if interval > 0 {
			c.backoff = interval
		}
		c.jitter = jitter
	}
}

// WithBaseURL overrides the regional ingestion endpoint.
func WithBaseURL(url string) Option {
	return func(c *serviceConfig) {
		c.baseURL = url
	}
}

// WithExtraEventProperties seeds properties merged into every track event.
// Caller-supplied track properties win on collision.
func WithExtraEventProperties(props map[string]any) Option {
	return func(c *serviceConfig) {
		c.extra = event.Properties(props).Clone()
	}
}

// WithMetrics enables OpenTelemetry metrics via the global meter provider.
func WithMetrics(enabled bool) Option {
	return func(c *serviceConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry spans around transport calls.
func WithTracing(enabled bool) Option {
	return func(c *serviceConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}
