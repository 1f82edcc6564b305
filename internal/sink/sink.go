// Package sink implements a fake Amplitude ingestion endpoint for local
// development and end-to-end tests.
//
// It accepts the same multipart requests as the real HTTP API, records what
// it receives, and can be told to answer with a fixed status code so that
// throttling and proxy failures can be reproduced against a live client.
package sink

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randalmurphal/amplitude/pkg/amplitude/observability"
	"github.com/randalmurphal/amplitude/pkg/amplitude/transport"
)

// Kinds of received payloads.
const (
	KindEvent    = "event"
	KindIdentify = "identify"
)

// Received is one payload accepted by the sink. A bulk events request
// produces one Received per event.
type Received struct {
	Kind       string         `json:"kind"`
	APIKey     string         `json:"api_key"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Sink records ingestion requests in memory.
type Sink struct {
	logger *slog.Logger

	mu       sync.RWMutex
	received []Received
	status   int

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	payloads *prometheus.CounterVec
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the sink logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty sink with its own Prometheus registry.
func New(opts ...Option) *Sink {
	s := &Sink{
		logger:   slog.Default(),
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ampsink_requests_total",
				Help: "Ingestion requests by endpoint and response status",
			},
			[]string{"endpoint", "status"},
		),
		payloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ampsink_payloads_total",
				Help: "Accepted events and identifications",
			},
			[]string{"kind"},
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.EnrichLogger(s.logger, "sink")
	s.registry.MustRegister(s.requests, s.payloads)
	return s
}

// Registry returns the registry backing /metrics.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Received returns a copy of everything accepted so far, oldest first.
func (s *Sink) Received() []Received {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Received(nil), s.received...)
}

// Count returns the number of accepted payloads of kind.
func (s *Sink) Count(kind string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.received {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

// ForceStatus makes every ingestion request fail with code. Zero restores
// normal handling.
func (s *Sink) ForceStatus(code int) {
	s.mu.Lock()
	s.status = code
	s.mu.Unlock()
}

// Reset clears received payloads and any forced status.
func (s *Sink) Reset() {
	s.mu.Lock()
	s.received = nil
	s.status = 0
	s.mu.Unlock()
}

func (s *Sink) forced() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Sink) record(items []Received) {
	s.mu.Lock()
	s.received = append(s.received, items...)
	s.mu.Unlock()

	for _, r := range items {
		s.payloads.WithLabelValues(r.Kind).Inc()
	}
}

// Router builds the HTTP routes.
//
// Ingestion: POST /httpapi, POST /identify
// Admin: GET /admin/events, POST /admin/status, POST /admin/reset
// Ops: GET /health, GET /metrics
func (s *Sink) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	ingest := r.Group("/")
	ingest.Use(s.forceStatus())
	ingest.POST(transport.EventsPath, s.handleEvents)
	ingest.POST(transport.IdentifyPath, s.handleIdentify)

	admin := r.Group("/admin")
	admin.GET("/events", s.handleList)
	admin.POST("/status", s.handleStatus)
	admin.POST("/reset", func(c *gin.Context) {
		s.Reset()
		c.Status(http.StatusNoContent)
	})

	return r
}

// forceStatus short-circuits ingestion with the forced status, if any, and
// counts every ingestion response.
func (s *Sink) forceStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		if code := s.forced(); code != 0 {
			c.AbortWithStatusJSON(code, gin.H{"error": http.StatusText(code)})
		} else {
			c.Next()
		}
		s.requests.WithLabelValues(c.FullPath(), strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func (s *Sink) handleEvents(c *gin.Context) {
	apiKey, ok := requireAPIKey(c)
	if !ok {
		return
	}

	var batch []map[string]any
	if err := json.Unmarshal([]byte(c.PostForm(transport.EventsField)), &batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload"})
		return
	}

	now := time.Now().UTC()
	items := make([]Received, 0, len(batch))
	for _, e := range batch {
		items = append(items, Received{Kind: KindEvent, APIKey: apiKey, Payload: e, ReceivedAt: now})
	}
	s.record(items)

	s.logger.Debug("events received", slog.Int("count", len(items)))
	c.String(http.StatusOK, "success")
}

func (s *Sink) handleIdentify(c *gin.Context) {
	apiKey, ok := requireAPIKey(c)
	if !ok {
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(c.PostForm(transport.IdentifyField)), &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identification payload"})
		return
	}
	s.record([]Received{{Kind: KindIdentify, APIKey: apiKey, Payload: payload, ReceivedAt: time.Now().UTC()}})

	s.logger.Debug("identification received")
	c.String(http.StatusOK, "success")
}

func requireAPIKey(c *gin.Context) (string, bool) {
	key := c.PostForm(transport.APIKeyField)
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing api_key"})
		return "", false
	}
	return key, true
}

// handleList returns received payloads, optionally filtered by ?kind=.
func (s *Sink) handleList(c *gin.Context) {
	kind := c.Query("kind")
	out := make([]Received, 0)
	for _, r := range s.Received() {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	c.JSON(http.StatusOK, gin.H{"events": out, "count": len(out)})
}

type statusRequest struct {
	Status int `json:"status"`
}

// handleStatus sets the forced status. {"status": 0} clears it.
func (s *Sink) handleStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if req.Status != 0 && (req.Status < 400 || req.Status > 599) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be 0 or 4xx/5xx"})
		return
	}

	s.ForceStatus(req.Status)
	s.logger.Info("forced status set", slog.Int("status", req.Status))
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}
