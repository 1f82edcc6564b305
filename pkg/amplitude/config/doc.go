/*
Package config loads client settings from files, the environment, or plain
maps.

# Overview

Config wraps a map[string]any with typed accessors that return a default
when a key is missing or holds the wrong type. Settings is the typed view
the client consumes.

	cfg, err := config.FromFile("amplitude.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	cfg = config.Merge(cfg, config.FromEnv())

	settings := config.SettingsFrom(cfg)
	if err := settings.Validate(); err != nil {
	    log.Fatal(err)
	}

# Keys

	api_key       string    project API key (required)
	region        string    "us" or "eu" (required)
	base_url      string    overrides the regional endpoint
	offline       bool      start in offline mode
	strict        bool      return usage errors instead of logging them
	batch_size    int       track events per bulk call, 1 to 10 (default 10)
	backoff       duration  pause after a failed delivery (default 30s)
	store         string    "", "memory", "file", "sqlite" or "badger"
	store_path    string    location for file, sqlite and badger stores; badger without a path runs in memory
	extra_event_properties  map merged into every track event

# Environment

FromEnv reads the same keys as AMPLITUDE_<KEY> in upper case, for example
AMPLITUDE_API_KEY and AMPLITUDE_BATCH_SIZE.
*/
package config
