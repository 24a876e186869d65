// Package metrics exposes the operational counters and gauges for the
// ingest and matching pipeline, scraped over the standard promhttp handler
// (spec §9, "some operational visibility is expected of any production
// deployment even though the spec itself does not mandate a dashboard").
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PassagesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_core_passages_ingested_total",
			Help: "Passages successfully accepted by InsertPassage, by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	PassageIngestRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_core_passages_rejected_total",
			Help: "Passages rejected before reaching the store, by source and reason.",
		},
		[]string{"source", "reason"},
	)

	MatchesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "passage_core_matches_created_total",
			Help: "Entry/exit passage pairs matched by the matcher.",
		},
	)

	ViolationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_core_violations_created_total",
			Help: "Violations recorded, by kind (speeding, overstay).",
		},
		[]string{"kind"},
	)

	OverstayAlertsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "passage_core_overstay_alerts_created_total",
			Help: "Proactive overstay alerts raised by the scanner.",
		},
	)

	OverstayAlertsResolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "passage_core_overstay_alerts_resolved_total",
			Help: "Overstay alerts resolved by a matching exit arriving.",
		},
	)

	SyncQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "passage_core_client_sync_queue_depth",
			Help: "Pending sync queue entries on a client, by state.",
		},
		[]string{"state"},
	)

	SMSGatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_core_sms_gateway_requests_total",
			Help: "SMS webhook requests handled, by outcome.",
		},
		[]string{"outcome"},
	)

	ReferenceCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "passage_core_reference_cache_entries",
			Help: "Entries currently held in the segment reference-data cache.",
		},
	)
)

// Register adds all collectors to reg. Called once from cmd/passage-core.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		PassagesIngested,
		PassageIngestRejected,
		MatchesCreated,
		ViolationsCreated,
		OverstayAlertsCreated,
		OverstayAlertsResolved,
		SyncQueueDepth,
		SMSGatewayRequests,
		ReferenceCacheEntries,
	)
}
