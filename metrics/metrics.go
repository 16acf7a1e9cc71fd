// Package metrics exposes the node's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tangle-core/dag"
	"tangle-core/milestone"
	"tangle-core/models"
	"tangle-core/whiteflag"
)

const namespace = "tangle"

type Metrics struct {
	registry *prometheus.Registry

	verticesInserted   prometheus.Counter
	verticesSolidified prometheus.Counter
	missingAncestors   prometheus.Counter

	milestonesValidated prometheus.Counter
	milestonesRejected  prometheus.Counter
	confirmedMilestone  prometheus.Gauge

	messagesReferenced    prometheus.Counter
	messagesIncluded      prometheus.Counter
	excludedNoTransaction prometheus.Counter
	excludedConflicting   prometheus.Counter
	roundDuration         prometheus.Histogram
}

// New creates the collectors and registers them, together with the Go runtime and process
// collectors, in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		verticesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vertices_inserted_total",
			Help:      "messages inserted into the tangle",
		}),
		verticesSolidified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vertices_solidified_total",
			Help:      "messages that became solid",
		}),
		missingAncestors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_ancestors_total",
			Help:      "parents found missing during solidification",
		}),
		milestonesValidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "milestones_validated_total",
			Help:      "milestones handed to the confirmation engine",
		}),
		milestonesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "milestones_rejected_total",
			Help:      "milestone candidates rejected by the validator",
		}),
		confirmedMilestone: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "confirmed_milestone_index",
			Help:      "index of the last confirmed milestone",
		}),
		messagesReferenced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "whiteflag",
			Name:      "referenced_total",
			Help:      "messages ordered by confirmation rounds",
		}),
		messagesIncluded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "whiteflag",
			Name:      "included_total",
			Help:      "value transfers applied to the ledger",
		}),
		excludedNoTransaction: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "whiteflag",
			Name:      "excluded_no_transaction_total",
			Help:      "confirmed messages without a value transfer",
		}),
		excludedConflicting: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "whiteflag",
			Name:      "excluded_conflicting_total",
			Help:      "value transfers excluded as conflicting",
		}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "whiteflag",
			Name:      "round_duration_seconds",
			Help:      "duration of committed confirmation rounds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.verticesInserted,
		m.verticesSolidified,
		m.missingAncestors,
		m.milestonesValidated,
		m.milestonesRejected,
		m.confirmedMilestone,
		m.messagesReferenced,
		m.messagesIncluded,
		m.excludedNoTransaction,
		m.excludedConflicting,
		m.roundDuration,
	)

	return m
}

// Registry returns the registry all collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterQueue exposes the length of a worker queue.
func (m *Metrics) RegisterQueue(name string, length func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "queue_length",
		Help:        "elements waiting in a worker queue",
		ConstLabels: prometheus.Labels{"queue": name},
	}, func() float64 {
		return float64(length())
	}))
}

func (m *Metrics) HookTangle(events *dag.Events) {
	events.VertexInserted.Hook(func(models.MessageID) { m.verticesInserted.Inc() })
	events.VertexSolidified.Hook(func(models.MessageID) { m.verticesSolidified.Inc() })
	events.MissingAncestor.Hook(func(models.MessageID) { m.missingAncestors.Inc() })
}

// HookMilestones tracks validations and rejections. The latest milestone gauge reads latest on
// every scrape, so buffered milestones show up before they are handed out.
func (m *Metrics) HookMilestones(events *milestone.Events, latest func() models.MilestoneIndex) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "latest_milestone_index",
		Help:      "highest index of a milestone with valid signatures",
	}, func() float64 {
		return float64(latest())
	}))

	events.MilestoneValidated.Hook(func(*milestone.ValidatedMilestone) { m.milestonesValidated.Inc() })
	events.MilestoneRejected.Hook(func(models.MessageID, error) { m.milestonesRejected.Inc() })
}

func (m *Metrics) HookConfirmation(events *whiteflag.Events) {
	events.MilestoneConfirmed.Hook(func(meta *whiteflag.Metadata) {
		m.confirmedMilestone.Set(float64(meta.MilestoneIndex))
		m.messagesReferenced.Add(float64(len(meta.Referenced)))
		m.messagesIncluded.Add(float64(len(meta.Included)))
		m.excludedNoTransaction.Add(float64(len(meta.ExcludedNoTransaction)))
		m.excludedConflicting.Add(float64(len(meta.ExcludedConflicting)))
		m.roundDuration.Observe(meta.Duration.Seconds())
	})
}

// SetConfirmedMilestoneIndex seeds the confirmed milestone gauge at boot.
func (m *Metrics) SetConfirmedMilestoneIndex(confirmed models.MilestoneIndex) {
	m.confirmedMilestone.Set(float64(confirmed))
}
