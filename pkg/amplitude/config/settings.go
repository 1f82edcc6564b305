package config

import (
	"errors"
	"fmt"
	"time"
)

// Setting keys.
const (
	KeyAPIKey               = "api_key"
	KeyRegion               = "region"
	KeyBaseURL              = "base_url"
	KeyOffline              = "offline"
	KeyStrict               = "strict"
	KeyBatchSize            = "batch_size"
	KeyBackoff              = "backoff"
	KeyStore                = "store"
	KeyStorePath            = "store_path"
	KeyExtraEventProperties = "extra_event_properties"
)

// Store kinds.
const (
	StoreNone   = ""
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

// Defaults applied by SettingsFrom.
const (
	DefaultBatchSize = 10
	DefaultBackoff   = 30 * time.Second
)

// MaxBatchSize is the largest accepted batch_size.
const MaxBatchSize = 10

// ErrMissingSetting indicates a required setting is absent.
var ErrMissingSetting = errors.New("missing required setting")

// Settings is the typed client configuration.
type Settings struct {
	APIKey               string
	Region               string
	BaseURL              string
	Offline              bool
	Strict               bool
	BatchSize            int
	Backoff              time.Duration
	Store                string
	StorePath            string
	ExtraEventProperties map[string]any
}

// SettingsFrom extracts Settings from cfg, applying defaults.
func SettingsFrom(cfg Config) Settings {
	return Settings{
		APIKey:               cfg.String(KeyAPIKey, ""),
		Region:               cfg.String(KeyRegion, ""),
		BaseURL:              cfg.String(KeyBaseURL, ""),
		Offline:              cfg.Bool(KeyOffline, false),
		Strict:               cfg.Bool(KeyStrict, false),
		BatchSize:            cfg.Int(KeyBatchSize, DefaultBatchSize),
		Backoff:              cfg.Duration(KeyBackoff, DefaultBackoff),
		Store:                cfg.String(KeyStore, StoreNone),
		StorePath:            cfg.String(KeyStorePath, ""),
		ExtraEventProperties: cfg.Map(KeyExtraEventProperties),
	}
}

// Validate checks required fields and value ranges.
func (s Settings) Validate() error {
	if s.APIKey == "" {
		return fmt.Errorf("%w: %s", ErrMissingSetting, KeyAPIKey)
	}
	if s.Region == "" {
		return fmt.Errorf("%w: %s", ErrMissingSetting, KeyRegion)
	}
	if s.BatchSize <= 0 || s.BatchSize > MaxBatchSize {
		return fmt.Errorf("%s must be between 1 and %d, got %d", KeyBatchSize, MaxBatchSize, s.BatchSize)
	}
	if s.Backoff <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyBackoff, s.Backoff)
	}
	switch s.Store {
	case StoreNone, StoreMemory, StoreBadger:
	case StoreFile, StoreSQLite:
		if s.StorePath == "" {
			return fmt.Errorf("%w: %s for store %q", ErrMissingSetting, KeyStorePath, s.Store)
		}
	default:
		return fmt.Errorf("unknown %s %q", KeyStore, s.Store)
	}
	return nil
}
