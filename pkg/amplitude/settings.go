package amplitude

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/amplitude/pkg/amplitude/config"
	"github.com/randalmurphal/amplitude/pkg/amplitude/persist"
)

// InitializeFromSettings validates settings, opens the configured store, and
// calls Initialize. The store is closed by Close or Uninitialize. Explicit
// opts are applied after the settings-derived ones.
//
// Example:
//
//	cfg, _ := config.FromFile("amplitude.yaml")
//	svc, err := amplitude.InitializeFromSettings(
//	    config.SettingsFrom(config.Merge(cfg, config.FromEnv())),
//	)
func InitializeFromSettings(s config.Settings, opts ...Option) (*Service, error) {
	if err := s.Validate(); err != nil {
		return nil, &ConfigError{Field: "settings", Err: err}
	}

	store, err := OpenStore(s.Store, s.StorePath)
	if err != nil {
		return nil, &ConfigError{Field: config.KeyStore, Err: err}
	}
	return initializeWithStore(s, store, opts...)
}

// initializeWithStore initializes from validated settings, handing store to
// the service. The store is closed if initialization fails.
func initializeWithStore(s config.Settings, store persist.Store, opts ...Option) (*Service, error) {
	policy := UsageLenient
	if s.Strict {
		policy = UsageStrict
	}

	derived := []Option{
		WithOfflineMode(s.Offline),
		WithUsagePolicy(policy),
		WithBatchSize(s.BatchSize),
		WithBackoff(s.Backoff, 0),
		WithBaseURL(s.BaseURL),
	}
	if s.ExtraEventProperties != nil {
		derived = append(derived, WithExtraEventProperties(s.ExtraEventProperties))
	}
	if store != nil {
		derived = append(derived, withOwnedStore(store))
	}

	svc, err := Initialize(s.APIKey, s.Region, append(derived, opts...)...)
	if err != nil && store != nil {
		if closeErr := store.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close store: %w", closeErr))
		}
	}
	return svc, err
}

// withOwnedStore is WithStore for a store the service closes on shutdown.
func withOwnedStore(store persist.Store) Option {
	return func(c *serviceConfig) {
		c.store = store
		c.ownsStore = true
	}
}

// OpenStore opens a snapshot store of the given kind.
// StoreNone returns a nil store and no error.
func OpenStore(kind, path string) (persist.Store, error) {
	var (
		store persist.Store
		err   error
	)
	switch kind {
	case config.StoreNone:
		return nil, nil
	case config.StoreMemory:
		store = persist.NewMemoryStore()
	case config.StoreFile:
		store, err = persist.NewFileStore(path)
	case config.StoreSQLite:
		store, err = persist.NewSQLiteStore(path)
	case config.StoreBadger:
		store, err = persist.NewBadgerStore(path)
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
