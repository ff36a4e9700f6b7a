package metrics

import "time"

// NoopCollector discards every event.
type NoopCollector struct{}

func NewNoopCollector() *NoopCollector { return &NoopCollector{} }

func (nc *NoopCollector) GroupCreated()                   {}
func (nc *NoopCollector) CommitBuilt()                    {}
func (nc *NoopCollector) CommitApplied()                  {}
func (nc *NoopCollector) WelcomeProcessed()               {}
func (nc *NoopCollector) MessageSealed()                  {}
func (nc *NoopCollector) MessageOpened()                  {}
func (nc *NoopCollector) DecryptFailure(kind string)      {}
func (nc *NoopCollector) SnapshotWritten(d time.Duration) {}

var _ Collector = (*NoopCollector)(nil)
