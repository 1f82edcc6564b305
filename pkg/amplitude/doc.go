/*
Package amplitude is a client-side analytics buffer for the Amplitude HTTP API.

# Overview

Track and Identify calls append to an in-memory queue and return
immediately. A single background worker drains the queue: it sends up to
ten track events per request, sends identify events on their own, and
pauses for 30 seconds after any failed delivery. Events still queued at
shutdown can be saved and restored on the next start.

# Basic Usage

	svc, err := amplitude.Initialize(apiKey, "us")
	if err != nil {
	    log.Fatal(err)
	}
	defer svc.Uninitialize(nil)

	svc.Identify(
	    amplitude.UserProperties{UserID: "u1", AppVersion: "1.4.0"},
	    amplitude.DefaultDeviceProperties(),
	)
	svc.Track("app_started", nil)
	svc.Track("file_opened", amplitude.Properties{"size_kb": 120})

# Delivery Outcomes

	Success       delivered events are removed
	ServerError   delivered events are removed, worker backs off
	Throttled     nothing is removed, worker backs off
	ProxyNeeded   nothing is removed, worker backs off until ConfigureProxy

# Persistence

Pass a stream to Initialize and Uninitialize to carry unsent events across
restarts:

	f, _ := os.Open("pending.json")
	svc, _ := amplitude.Initialize(apiKey, "us", amplitude.WithPersistence(f))
	f.Close()

	// ...

	out, _ := os.Create("pending.json")
	svc.Uninitialize(out)
	out.Close()

Or use a store from the persist package (file, SQLite, Badger) with
WithStore, or configure one through InitializeFromSettings.

# Usage Errors

Track before Identify is a usage mistake. UsageLenient (the default) logs
and drops the event. UsageStrict returns ErrNotIdentified, which is useful
in development and tests.

# Observability

WithLogger sets the slog logger used by every component. WithMetrics and
WithTracing enable OpenTelemetry instruments through the global providers.
*/
package amplitude
