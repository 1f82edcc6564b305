// Package event defines the records buffered by the amplitude client.
//
// Two variants exist:
//   - TrackEvent: a named application event stamped with identity and session
//   - IdentifyEvent: a record establishing or replacing the active user/device identity
//
// Both carry a process-wide sequence number (EventID) that is strictly
// increasing in creation order. It is used for ordering and debugging only,
// never for deduplication.
package event

import (
	"crypto/rand"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Version is the client library version reported in the library field.
const Version = "1.0.0"

// Library is the value stamped into every TrackEvent's library field.
const Library = "amplitude-go/" + Version

// RemoteIP tells the ingestion endpoint to use the request's source address.
const RemoteIP = "$remote"

// Identity property keys.
const (
	KeyUserID   = "user_id"
	KeyDeviceID = "device_id"
)

// ErrEmptyEventType is returned when a TrackEvent is created without a name.
var ErrEmptyEventType = errors.New("event type cannot be empty")

// Kind tags the variant of an Event.
type Kind string

// Event kinds.
const (
	KindTrack    Kind = "track"
	KindIdentify Kind = "identify"
)

// Event is implemented by TrackEvent and IdentifyEvent.
// Events are immutable once enqueued.
type Event interface {
	// Kind returns the variant tag.
	Kind() Kind

	// ID returns the process-wide sequence number.
	ID() int64
}

// Properties is a string-keyed property bag.
type Properties map[string]any

// Clone returns a shallow copy. A nil receiver yields nil.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

var sequence atomic.Int64

// NextID returns the next process-wide sequence number.
func NextID() int64 {
	return sequence.Add(1)
}

// Observe raises the sequence so later IDs exceed id.
// Used after restoring persisted events from a previous process.
func Observe(id int64) {
	for {
		cur := sequence.Load()
		if id <= cur || sequence.CompareAndSwap(cur, id) {
			return
		}
	}
}

// insertIDs hands out monotonic ULIDs; the entropy source is not goroutine-safe.
var insertIDs = struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}{entropy: ulid.Monotonic(rand.Reader, 0)}

func newInsertID(t time.Time) string {
	insertIDs.mu.Lock()
	defer insertIDs.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), insertIDs.entropy).String()
}

// Identity is the user/device pair stamped onto track events.
type Identity struct {
	UserID   string
	DeviceID string
}

// TrackEvent records a named application event.
type TrackEvent struct {
	EventID         int64      `json:"event_id"`
	EventType       string     `json:"event_type"`
	Time            int64      `json:"time"`
	SessionID       int64      `json:"session_id"`
	UserID          string     `json:"user_id,omitempty"`
	DeviceID        string     `json:"device_id,omitempty"`
	InsertID        string     `json:"insert_id,omitempty"`
	Library         string     `json:"library,omitempty"`
	IP              string     `json:"ip,omitempty"`
	EventProperties Properties `json:"event_properties,omitempty"`
}

// Kind implements Event.
func (e *TrackEvent) Kind() Kind { return KindTrack }

// ID implements Event.
func (e *TrackEvent) ID() int64 { return e.EventID }

// TrackOption configures TrackEvent creation.
type TrackOption func(*trackConfig)

type trackConfig struct {
	now   time.Time
	extra Properties
}

// WithTime sets the event time (default: time.Now()).
func WithTime(t time.Time) TrackOption {
	return func(cfg *trackConfig) {
		cfg.now = t
	}
}

// WithExtraProperties merges extra into the event properties.
// Keys already supplied by the caller are never overwritten.
func WithExtraProperties(extra Properties) TrackOption {
	return func(cfg *trackConfig) {
		cfg.extra = extra
	}
}

// NewTrack creates a TrackEvent stamped with the given session and identity.
// The caller's properties are copied; the map is not retained.
func NewTrack(eventType string, sessionID int64, id Identity, props Properties, opts ...TrackOption) (*TrackEvent, error) {
	if eventType == "" {
		return nil, ErrEmptyEventType
	}

	cfg := &trackConfig{now: time.Now()}
	for _, opt := range opts {
		opt(cfg)
	}

	merged := props.Clone()
	for k, v := range cfg.extra {
		if merged == nil {
			merged = make(Properties, len(cfg.extra))
		}
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		merged = nil
	}

	return &TrackEvent{
		EventID:         NextID(),
		EventType:       eventType,
		Time:            cfg.now.UnixMilli(),
		SessionID:       sessionID,
		UserID:          id.UserID,
		DeviceID:        id.DeviceID,
		InsertID:        newInsertID(cfg.now),
		Library:         Library,
		IP:              RemoteIP,
		EventProperties: merged,
	}, nil
}

// IdentifyEvent establishes or replaces the active identity.
// UserID and DeviceID are derived from UserProperties.
type IdentifyEvent struct {
	EventID        int64      `json:"event_id"`
	UserProperties Properties `json:"user_properties"`
}

// Kind implements Event.
func (e *IdentifyEvent) Kind() Kind { return KindIdentify }

// ID implements Event.
func (e *IdentifyEvent) ID() int64 { return e.EventID }

// UserID returns the user_id property, or "" if absent.
func (e *IdentifyEvent) UserID() string {
	s, _ := e.UserProperties[KeyUserID].(string)
	return s
}

// DeviceID returns the device_id property, or "" if absent.
func (e *IdentifyEvent) DeviceID() string {
	s, _ := e.UserProperties[KeyDeviceID].(string)
	return s
}

// Identity returns the user/device pair carried by the event.
func (e *IdentifyEvent) Identity() Identity {
	return Identity{UserID: e.UserID(), DeviceID: e.DeviceID()}
}

// NewIdentify creates an IdentifyEvent from a copy of props.
func NewIdentify(props Properties) *IdentifyEvent {
	p := props.Clone()
	if p == nil {
		p = Properties{}
	}
	return &IdentifyEvent{
		EventID:        NextID(),
		UserProperties: p,
	}
}
