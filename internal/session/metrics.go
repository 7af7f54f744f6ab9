package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels carry statuses only; never session or owner ids.
var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_session_transitions_total",
		Help: "Pairing state transitions, by from and to status.",
	}, []string{"from", "to"})

	liveAdapters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wagate_session_live_adapters",
		Help: "Device connection adapters currently held by the orchestrator.",
	})

	openSlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wagate_session_open_slots_in_use",
		Help: "Sessions currently holding an open slot (initializing or generating).",
	})

	openRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_session_open_rejections_total",
		Help: "Initialize requests rejected because the open queue wait timed out.",
	})

	durableWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_session_durable_write_failures_total",
		Help: "Failed mirrors of pairing state into the session record.",
	})

	driftCorrectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_session_drift_corrections_total",
		Help: "Session records rewritten by an explicit status fix.",
	})
)
