// Package transport defines the delivery port used by the background worker
// and its HTTP implementation against the Amplitude ingestion API.
package transport

import (
	"context"
	"net/http"

	"github.com/randalmurphal/amplitude/pkg/amplitude/event"
)

// Result is the outcome of a delivery call.
type Result int

const (
	// Success means the payload was accepted.
	Success Result = iota

	// Throttled means the server asked the client to slow down (HTTP 429).
	// Nothing is dropped.
	Throttled

	// ServerError means the server failed or rejected the payload.
	// The payload is dropped to avoid retrying a poison pill forever.
	ServerError

	// ProxyNeeded means a proxy demanded authentication (HTTP 407).
	// Nothing is dropped; the host must call ConfigureProxy.
	ProxyNeeded
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Throttled:
		return "throttled"
	case ServerError:
		return "server_error"
	case ProxyNeeded:
		return "proxy_needed"
	default:
		return "unknown"
	}
}

// Removable reports whether the delivered events leave the queue.
func (r Result) Removable() bool {
	return r == Success || r == ServerError
}

// ResultForStatus maps an HTTP status code to a Result.
func ResultForStatus(code int) Result {
	switch {
	case code == http.StatusProxyAuthRequired:
		return ProxyNeeded
	case code == http.StatusTooManyRequests:
		return Throttled
	case code >= http.StatusBadRequest:
		return ServerError
	default:
		return Success
	}
}

// Transport delivers events to the ingestion endpoint.
// Implementations must be safe for use by a single worker goroutine
// concurrently with configuration calls from other goroutines.
type Transport interface {
	// SendEvents delivers an ordered batch of track events.
	SendEvents(ctx context.Context, batch []*event.TrackEvent) (Result, error)

	// SendIdentify delivers a single identify event.
	SendIdentify(ctx context.Context, e *event.IdentifyEvent) (Result, error)
}
