package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespaceSession = "conclave"

// SessionCollector reports engine activity to a prometheus registry.
type SessionCollector struct {
	groupsCreated     prometheus.Counter
	commitsBuilt      prometheus.Counter
	commitsApplied    prometheus.Counter
	welcomesProcessed prometheus.Counter
	messagesSealed    prometheus.Counter
	messagesOpened    prometheus.Counter
	decryptFailures   *prometheus.CounterVec
	snapshotWrite     prometheus.Histogram
}

// NewSessionCollector registers the engine metrics on registerer.
func NewSessionCollector(registerer prometheus.Registerer) *SessionCollector {
	factory := promauto.With(registerer)

	sc := &SessionCollector{
		groupsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSession,
			Name:      "groups_created_total",
			Help:      "count of groups created locally",
		}),

		commitsBuilt: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSession,
			Name:      "commits_built_total",
			Help:      "count of membership commits built here",
		}),

		commitsApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSession,
			Name:      "commits_applied_total",
			Help:      "count of commits from other members applied",
		}),

		welcomesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSession,
			Name:      "welcomes_processed_total",
			Help:      "count of welcomes joined",
		}),

		messagesSealed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSession,
			Name:      "messages_sealed_total",
			Help:      "count of application messages encrypted",
		}),

		messagesOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSession,
			Name:      "messages_opened_total",
			Help:      "count of application messages decrypted",
		}),

		decryptFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSession,
			Name:      "decrypt_failures_total",
			Help:      "count of failed decrypts by failure kind",
		}, []string{"kind"}),

		snapshotWrite: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceSession,
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
			Name:      "snapshot_write_seconds",
			Help:      "duration of snapshot writes to the store",
		}),
	}

	return sc
}

func (sc *SessionCollector) GroupCreated()      { sc.groupsCreated.Inc() }
func (sc *SessionCollector) CommitBuilt()       { sc.commitsBuilt.Inc() }
func (sc *SessionCollector) CommitApplied()     { sc.commitsApplied.Inc() }
func (sc *SessionCollector) WelcomeProcessed()  { sc.welcomesProcessed.Inc() }
func (sc *SessionCollector) MessageSealed()     { sc.messagesSealed.Inc() }
func (sc *SessionCollector) MessageOpened()     { sc.messagesOpened.Inc() }

func (sc *SessionCollector) DecryptFailure(kind string) {
	sc.decryptFailures.WithLabelValues(kind).Inc()
}

func (sc *SessionCollector) SnapshotWritten(d time.Duration) {
	sc.snapshotWrite.Observe(d.Seconds())
}

var _ Collector = (*SessionCollector)(nil)
