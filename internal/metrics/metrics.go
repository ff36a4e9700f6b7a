// Package metrics defines the engine's instrumentation surface.
//
// Collector is what the session engine reports into. NoopCollector keeps
// tests and embedders quiet; SessionCollector exports to a prometheus
// registry.
package metrics

import "time"

// Collector receives engine activity events. Implementations must be safe
// for concurrent use.
type Collector interface {
	GroupCreated()
	CommitBuilt()
	CommitApplied()
	WelcomeProcessed()
	MessageSealed()
	MessageOpened()

	// DecryptFailure counts a failed open, keyed by failure kind
	// (classified from the error taxonomy).
	DecryptFailure(kind string)

	// SnapshotWritten records the duration of one snapshot write.
	SnapshotWritten(d time.Duration)
}
