package amplitude

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/amplitude/pkg/amplitude/config"
	"github.com/randalmurphal/amplitude/pkg/amplitude/event"
	"github.com/randalmurphal/amplitude/pkg/amplitude/persist"
	"github.com/randalmurphal/amplitude/pkg/amplitude/transport"
)

// fakeTransport returns scripted results per kind, then fallback.
type fakeTransport struct {
	mu       sync.Mutex
	events   []transport.Result
	identify []transport.Result
	fallback transport.Result
	calls    []string
	sent     []string

	// hold, when set, blocks every call until release.
	hold        chan struct{}
	releaseOnce sync.Once

	proxyUser, proxyPass string
}

func (f *fakeTransport) pop(list *[]transport.Result) transport.Result {
	if len(*list) == 0 {
		return f.fallback
	}
	r := (*list)[0]
	*list = (*list)[1:]
	return r
}

func (f *fakeTransport) wait() {
	if f.hold != nil {
		<-f.hold
	}
}

func (f *fakeTransport) release() {
	f.releaseOnce.Do(func() {
		if f.hold != nil {
			close(f.hold)
		}
	})
}

func (f *fakeTransport) SendEvents(_ context.Context, batch []*event.TrackEvent) (transport.Result, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "events")
	for _, e := range batch {
		f.sent = append(f.sent, e.EventType)
	}
	return f.pop(&f.events), nil
}

func (f *fakeTransport) SendIdentify(_ context.Context, e *event.IdentifyEvent) (transport.Result, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "identify:"+e.UserID())
	return f.pop(&f.identify), nil
}

func (f *fakeTransport) ConfigureProxy(username, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proxyUser, f.proxyPass = username, password
}

func (f *fakeTransport) recordedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) sentEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newService initializes a service over tr and uninitializes it on cleanup.
func newService(t *testing.T, tr *fakeTransport, opts ...Option) *Service {
	t.Helper()
	base := []Option{
		WithTransport(tr),
		WithLogger(quietLogger()),
		WithBackoff(time.Hour, 0),
	}
	svc, err := Initialize("test-key", "us", append(base, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() { svc.Uninitialize(nil) })
	t.Cleanup(tr.release)
	return svc
}

func held() *fakeTransport {
	return &fakeTransport{hold: make(chan struct{})}
}

func identifyU1(t *testing.T, svc *Service) {
	t.Helper()
	require.NoError(t, svc.Identify(UserProperties{UserID: "u1"}, DeviceProperties{DeviceID: "d1"}))
}

func queued(svc *Service) []string {
	var out []string
	for _, e := range svc.queue.Snapshot() {
		switch v := e.(type) {
		case *event.TrackEvent:
			out = append(out, v.EventType)
		case *event.IdentifyEvent:
			out = append(out, "identify:"+v.UserID())
		}
	}
	return out
}

func TestInitialize_Validation(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		region  string
		wantErr error
		field   string
	}{
		{"empty key", "", "us", ErrInvalidAPIKey, "api_key"},
		{"placeholder key", PlaceholderAPIKey, "us", ErrInvalidAPIKey, "api_key"},
		{"missing region", "key", "", ErrRegionRequired, "region"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := Initialize(tt.apiKey, tt.region)
			assert.Nil(t, svc)
			require.ErrorIs(t, err, tt.wantErr)

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestInitialize_DefaultTransport(t *testing.T) {
	svc, err := Initialize("key", "eu", WithLogger(quietLogger()), WithOfflineMode(true))
	require.NoError(t, err)
	defer svc.Uninitialize(nil)

	client, ok := svc.gate.Unwrap().(*transport.Client)
	require.True(t, ok)
	assert.Equal(t, transport.BaseURLEU, client.BaseURL())
	assert.True(t, svc.OfflineMode())
}

func TestTrack_BeforeIdentify(t *testing.T) {
	t.Run("lenient drops", func(t *testing.T) {
		svc := newService(t, held())
		assert.NoError(t, svc.Track("early", nil))
		assert.Equal(t, 0, svc.Pending())
	})

	t.Run("strict returns error", func(t *testing.T) {
		svc := newService(t, held(), WithUsagePolicy(UsageStrict))
		assert.ErrorIs(t, svc.Track("early", nil), ErrNotIdentified)
		assert.Equal(t, 0, svc.Pending())
	})
}

func TestTrack_EmptyName(t *testing.T) {
	svc := newService(t, held(), WithUsagePolicy(UsageStrict))
	identifyU1(t, svc)

	assert.ErrorIs(t, svc.Track("", nil), ErrEmptyEventType)
	assert.Equal(t, 1, svc.Pending())
}

func TestTrack_StampsIdentityInOrder(t *testing.T) {
	svc := newService(t, held())
	identifyU1(t, svc)

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, svc.Track(name, Properties{"name": name}))
	}

	assert.Equal(t, []string{"identify:u1", "a", "b", "c"}, queued(svc))

	session := svc.SessionID()
	for _, e := range svc.queue.Snapshot()[1:] {
		te := e.(*event.TrackEvent)
		assert.Equal(t, "u1", te.UserID)
		assert.Equal(t, "d1", te.DeviceID)
		assert.Equal(t, session, te.SessionID)
		assert.Equal(t, te.EventType, te.EventProperties["name"])
	}
}

func TestIdentify_ReplacesIdentity(t *testing.T) {
	svc := newService(t, held())
	identifyU1(t, svc)
	require.NoError(t, svc.Track("a", nil))
	require.NoError(t, svc.Identify(UserProperties{UserID: "u2"}, DeviceProperties{}))
	require.NoError(t, svc.Track("b", nil))

	events := svc.queue.Snapshot()
	require.Len(t, events, 4)
	assert.Equal(t, "u1", events[1].(*event.TrackEvent).UserID)
	assert.Equal(t, "u2", events[3].(*event.TrackEvent).UserID)
	assert.Empty(t, events[3].(*event.TrackEvent).DeviceID)
}

func TestTrack_Concurrent(t *testing.T) {
	svc := newService(t, held())
	identifyU1(t, svc)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, svc.Track(fmt.Sprintf("g%d-%d", g, i), nil))
			}
		}(g)
	}
	wg.Wait()

	events := svc.queue.Snapshot()
	require.Len(t, events, 101)

	ids := make(map[int64]bool, len(events))
	for _, e := range events {
		ids[e.ID()] = true
	}
	assert.Len(t, ids, 101)
}

func TestNewSession(t *testing.T) {
	svc := newService(t, held())
	first := svc.SessionID()
	assert.InDelta(t, time.Now().UnixMilli(), first, 5000)

	time.Sleep(3 * time.Millisecond)
	svc.NewSession()
	assert.Greater(t, svc.SessionID(), first)
}

func TestExtraEventProperties(t *testing.T) {
	svc := newService(t, held(), WithExtraEventProperties(map[string]any{"build": "ci", "plan": "free"}))
	identifyU1(t, svc)

	svc.SetExtraEventProperty("channel", "beta")
	require.NoError(t, svc.Track("a", Properties{"plan": "pro"}))

	svc.SetExtraEventProperty("channel", nil)
	require.NoError(t, svc.Track("b", nil))

	events := svc.queue.Snapshot()
	a := events[1].(*event.TrackEvent)
	assert.Equal(t, "pro", a.EventProperties["plan"], "caller keys win")
	assert.Equal(t, "ci", a.EventProperties["build"])
	assert.Equal(t, "beta", a.EventProperties["channel"])

	b := events[2].(*event.TrackEvent)
	assert.NotContains(t, b.EventProperties, "channel")
}

func TestEndToEnd_ThrottleThenDrain(t *testing.T) {
	tr := &fakeTransport{identify: []transport.Result{transport.Throttled}}
	svc := newService(t, tr, WithBackoff(10*time.Millisecond, 0))

	identifyU1(t, svc)
	require.NoError(t, svc.Track("a", nil))
	require.NoError(t, svc.Track("b", nil))

	require.Eventually(t, func() bool { return svc.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)

	calls := tr.recordedCalls()
	require.GreaterOrEqual(t, len(calls), 3)
	assert.Equal(t, "identify:u1", calls[0])
	assert.Equal(t, "identify:u1", calls[1])
	assert.Equal(t, []string{"a", "b"}, tr.sentEvents())
	assert.NoError(t, svc.Err())
}

func TestOfflineMode(t *testing.T) {
	tr := &fakeTransport{fallback: transport.ServerError}
	svc := newService(t, tr, WithOfflineMode(true))
	assert.True(t, svc.OfflineMode())

	identifyU1(t, svc)
	for i := 0; i < 25; i++ {
		require.NoError(t, svc.Track(fmt.Sprintf("e%d", i), nil))
	}

	require.Eventually(t, func() bool { return svc.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, tr.recordedCalls())

	svc.SetOfflineMode(false)
	assert.False(t, svc.OfflineMode())
}

func TestConfigureProxy_PassThrough(t *testing.T) {
	tr := held()
	svc := newService(t, tr)

	svc.ConfigureProxy("alice", "secret")
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Equal(t, "alice", tr.proxyUser)
	assert.Equal(t, "secret", tr.proxyPass)
}

func TestUninitialize_PersistsAndRestores(t *testing.T) {
	first := newService(t, &fakeTransport{fallback: transport.Throttled})
	identifyU1(t, first)
	require.NoError(t, first.Track("a", Properties{"n": 1}))
	require.NoError(t, first.Track("b", nil))

	var buf bytes.Buffer
	first.Uninitialize(&buf)
	require.NotZero(t, buf.Len())

	second := newService(t, held(), WithPersistence(&buf))
	assert.Equal(t, 3, second.Pending())

	identifyU1(t, second)
	require.NoError(t, second.Track("c", nil))
	assert.Equal(t, []string{"identify:u1", "a", "b", "identify:u1", "c"}, queued(second))

	restored := second.queue.Snapshot()[1].(*event.TrackEvent)
	assert.Equal(t, int64(1), restored.EventProperties["n"])
	assert.Equal(t, "u1", restored.UserID)
}

func TestInitialize_CorruptPersistenceIgnored(t *testing.T) {
	svc := newService(t, held(), WithPersistence(bytes.NewBufferString("{not json")))
	assert.Equal(t, 0, svc.Pending())
}

func TestUninitialize_ClosedService(t *testing.T) {
	tests := []struct {
		name   string
		policy UsagePolicy
		want   error
	}{
		{"lenient", UsageLenient, nil},
		{"strict", UsageStrict, ErrClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t, &fakeTransport{fallback: transport.Throttled}, WithUsagePolicy(tt.policy))
			identifyU1(t, svc)

			svc.Uninitialize(nil)
			svc.Uninitialize(nil)
			assert.NoError(t, svc.Close())

			assertErrorIs(t, tt.want, svc.Track("late", nil))
			assertErrorIs(t, tt.want, svc.Identify(UserProperties{UserID: "u2"}, DeviceProperties{}))
			assert.Equal(t, 1, svc.Pending())

			select {
			case <-svc.worker.Done():
			default:
				t.Fatal("worker still running after Uninitialize")
			}
		})
	}
}

func assertErrorIs(t *testing.T, want, got error) {
	t.Helper()
	if want == nil {
		assert.NoError(t, got)
		return
	}
	assert.ErrorIs(t, got, want)
}

func TestWithStore_CallerOwned(t *testing.T) {
	store := persist.NewMemoryStore()

	first := newService(t, &fakeTransport{fallback: transport.Throttled}, WithStore(store), WithStoreKey("app"))
	identifyU1(t, first)
	require.NoError(t, first.Track("a", nil))
	require.NoError(t, first.Close())

	data, err := store.Load("app")
	require.NoError(t, err)
	require.NotEmpty(t, data)

	tr := held()
	second := newService(t, tr, WithStore(store), WithStoreKey("app"))
	assert.Equal(t, []string{"identify:u1", "a"}, queued(second))

	tr.release()
	second.Uninitialize(nil)
	_, err = store.Load("app")
	assert.NoError(t, err, "caller-owned store stays open")
}

func TestInitializeFromSettings_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.db")
	cfg := config.New(map[string]any{
		config.KeyAPIKey:    "key",
		config.KeyRegion:    "us",
		config.KeyStore:     config.StoreSQLite,
		config.KeyStorePath: path,
		config.KeyStrict:    "true",
		config.KeyExtraEventProperties: map[string]any{
			"build": "ci",
		},
	})

	tr := &fakeTransport{fallback: transport.Throttled}
	svc, err := InitializeFromSettings(config.SettingsFrom(cfg), WithTransport(tr), WithLogger(quietLogger()))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Track("early", nil), ErrNotIdentified, "strict from settings")
	identifyU1(t, svc)
	require.NoError(t, svc.Track("a", nil))
	assert.Equal(t, "ci", svc.queue.Snapshot()[1].(*event.TrackEvent).EventProperties["build"])
	require.NoError(t, svc.Close())

	tr2 := held()
	reopened, err := InitializeFromSettings(config.SettingsFrom(cfg), WithTransport(tr2), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer reopened.Close()
	defer tr2.release()
	assert.Equal(t, []string{"identify:u1", "a"}, queued(reopened))
}

func TestInitializeFromSettings_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		settings config.Settings
		wantErr  error
	}{
		{
			name:     "missing api key",
			settings: config.Settings{Region: "us", BatchSize: 10, Backoff: time.Second},
			wantErr:  config.ErrMissingSetting,
		},
		{
			name: "file store without path",
			settings: config.Settings{
				APIKey: "key", Region: "us", BatchSize: 10, Backoff: time.Second,
				Store: config.StoreFile,
			},
			wantErr: config.ErrMissingSetting,
		},
		{
			name: "unknown store",
			settings: config.Settings{
				APIKey: "key", Region: "us", BatchSize: 10, Backoff: time.Second,
				Store: "redis",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := InitializeFromSettings(tt.settings)
			assert.Nil(t, svc)

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "settings", ce.Field)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestInitializeFromSettings_PlaceholderKeyClosesStore(t *testing.T) {
	dir := t.TempDir()
	s := config.Settings{
		APIKey: PlaceholderAPIKey, Region: "us", BatchSize: 10, Backoff: time.Second,
		Store: config.StoreBadger, StorePath: dir,
	}

	_, err := InitializeFromSettings(s)
	require.ErrorIs(t, err, ErrInvalidAPIKey)

	// Badger holds a directory lock while open.
	store, err := persist.NewBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestOpenStore(t *testing.T) {
	store, err := OpenStore(config.StoreNone, "")
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = OpenStore(config.StoreMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &persist.MemoryStore{}, store)
	require.NoError(t, store.Close())

	store, err = OpenStore(config.StoreFile, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &persist.FileStore{}, store)

	_, err = OpenStore("redis", "")
	assert.Error(t, err)
}

func TestUsagePolicy_String(t *testing.T) {
	assert.Equal(t, "lenient", UsageLenient.String())
	assert.Equal(t, "strict", UsageStrict.String())
}

// closeFailingStore is a memory store whose Close reports an error.
type closeFailingStore struct {
	*persist.MemoryStore
}

func (s closeFailingStore) Close() error {
	_ = s.MemoryStore.Close()
	return fmt.Errorf("flush failed")
}

func TestInitializeWithStore_ReportsCloseError(t *testing.T) {
	s := config.Settings{APIKey: "", Region: "us", BatchSize: 10, Backoff: time.Second}

	_, err := initializeWithStore(s, closeFailingStore{persist.NewMemoryStore()})
	require.ErrorIs(t, err, ErrInvalidAPIKey)
	assert.ErrorContains(t, err, "close store: flush failed")

	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestWithBatchSize_ClampedToMax(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 10},
		{-1, 10},
		{3, 3},
		{10, 10},
		{50, 10},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			cfg := defaultServiceConfig()
			WithBatchSize(tt.in)(&cfg)
			assert.Equal(t, tt.want, cfg.batchSize)
		})
	}
}

func TestInitializeFromSettings_InMemoryBadger(t *testing.T) {
	s := config.Settings{
		APIKey: "key", Region: "us", BatchSize: 10, Backoff: time.Second,
		Store: config.StoreBadger,
	}

	svc, err := InitializeFromSettings(s,
		WithTransport(&fakeTransport{fallback: transport.Throttled}),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	assert.IsType(t, &persist.BadgerStore{}, svc.store)

	identifyU1(t, svc)
	require.NoError(t, svc.Track("a", nil))
	assert.NoError(t, svc.Close())
}
