package persist_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/amplitude/pkg/amplitude/event"
	"github.com/randalmurphal/amplitude/pkg/amplitude/persist"
	"github.com/randalmurphal/amplitude/pkg/amplitude/queue"
)

func track(t *testing.T, name string) *event.TrackEvent {
	t.Helper()
	e, err := event.NewTrack(name, 1, event.Identity{UserID: "u1"}, event.Properties{"n": name})
	require.NoError(t, err)
	return e
}

func names(events []event.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		switch v := e.(type) {
		case *event.TrackEvent:
			out[i] = v.EventType
		case *event.IdentifyEvent:
			out[i] = "identify:" + v.UserID()
		}
	}
	return out
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("io error") }

func TestBridge_SaveLoadRoundTrip(t *testing.T) {
	saved := queue.New()
	saved.Enqueue(track(t, "a"))
	saved.Enqueue(event.NewIdentify(event.Properties{event.KeyUserID: "u2"}))
	saved.Enqueue(track(t, "b"))

	var buf bytes.Buffer
	assert.Equal(t, 3, persist.NewBridge(saved).Save(&buf))
	assert.Equal(t, 3, saved.Len(), "save must not drain the queue")

	restored := queue.New()
	restored.Enqueue(track(t, "session"))

	assert.Equal(t, 3, persist.NewBridge(restored).Load(&buf))
	assert.Equal(t, []string{"a", "identify:u2", "b", "session"}, names(restored.Snapshot()))
}

func TestBridge_RoundTripKeepsFieldValues(t *testing.T) {
	a, err := event.NewTrack("a", 7, event.Identity{UserID: "u1", DeviceID: "d1"},
		event.Properties{"count": int64(3), "big": int64(9007199254740993), "ratio": 0.5})
	require.NoError(t, err)
	id := event.NewIdentify(event.Properties{event.KeyUserID: "u1", "ram_mbs": int64(16384), "64bit_device": true})

	saved := queue.New()
	saved.Enqueue(id)
	saved.Enqueue(a)

	store := persist.NewMemoryStore()
	require.Equal(t, 2, persist.NewBridge(saved).SaveTo(store, persist.DefaultKey))

	restored := queue.New()
	require.Equal(t, 2, persist.NewBridge(restored).LoadFrom(store, persist.DefaultKey))
	assert.Equal(t, saved.Snapshot(), restored.Snapshot())
}

func TestBridge_LoadAdvancesIDs(t *testing.T) {
	q := queue.New()
	e := track(t, "old")
	e.EventID = event.NextID() + 1_000_000
	q.Enqueue(e)

	var buf bytes.Buffer
	require.Equal(t, 1, persist.NewBridge(q).Save(&buf))

	require.Equal(t, 1, persist.NewBridge(queue.New()).Load(&buf))
	assert.Greater(t, event.NextID(), e.EventID)
}

func TestBridge_FailuresAreSwallowed(t *testing.T) {
	tests := []struct {
		name string
		r    io.Reader
	}{
		{name: "nil reader", r: nil},
		{name: "empty stream", r: strings.NewReader("")},
		{name: "not json", r: strings.NewReader("garbage")},
		{name: "wrong version", r: strings.NewReader(`{"version":99,"events":[]}`)},
		{name: "unknown kind", r: strings.NewReader(`{"version":1,"events":[{"kind":"alias","event":{}}]}`)},
		{name: "read error", r: failingReader{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := queue.New()
			q.Enqueue(track(t, "session"))

			assert.NotPanics(t, func() {
				assert.Equal(t, 0, persist.NewBridge(q).Load(tt.r))
			})
			assert.Equal(t, []string{"session"}, names(q.Snapshot()))
		})
	}
}

func TestBridge_SaveFailureIsSwallowed(t *testing.T) {
	q := queue.New()
	q.Enqueue(track(t, "a"))

	b := persist.NewBridge(q)
	assert.Equal(t, 0, b.Save(failingWriter{}))
	assert.Equal(t, 0, b.Save(nil))
	assert.Equal(t, 1, q.Len())
}

func TestBridge_Store(t *testing.T) {
	store := persist.NewMemoryStore()

	q := queue.New()
	q.Enqueue(track(t, "a"))
	q.Enqueue(track(t, "b"))
	assert.Equal(t, 2, persist.NewBridge(q).SaveTo(store, persist.DefaultKey))

	restored := queue.New()
	b := persist.NewBridge(restored)
	assert.Equal(t, 0, b.LoadFrom(store, "missing"))
	assert.Equal(t, 2, b.LoadFrom(store, persist.DefaultKey))
	assert.Equal(t, []string{"a", "b"}, names(restored.Snapshot()))

	assert.Equal(t, 0, b.LoadFrom(nil, persist.DefaultKey))
	assert.Equal(t, 0, b.SaveTo(nil, persist.DefaultKey))
}

func TestBridge_ClosedStore(t *testing.T) {
	store := persist.NewMemoryStore()
	require.NoError(t, store.Close())

	q := queue.New()
	q.Enqueue(track(t, "a"))
	b := persist.NewBridge(q)

	assert.Equal(t, 0, b.SaveTo(store, persist.DefaultKey))
	assert.Equal(t, 0, b.LoadFrom(store, persist.DefaultKey))
	assert.Equal(t, 1, q.Len())
}
