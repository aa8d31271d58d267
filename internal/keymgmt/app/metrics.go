package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	keyTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyserver",
			Name:      "key_transfers_total",
			Help:      "Total bulk key transfer attempts.",
		},
		[]string{"status"}, // "success", "denied", "insufficient", "error"
	)

	keysMovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "keyserver",
			Name:      "keys_moved_total",
			Help:      "Total keys that changed owner through bulk transfers.",
		},
	)

	keyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyserver",
			Name:      "key_requests_total",
			Help:      "Total key request workflow operations.",
		},
		[]string{"action", "status"}, // action: "create", "approve", "deny"
	)

	childActivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyserver",
			Name:      "child_activations_total",
			Help:      "Total child activation attempts.",
		},
		[]string{"status"},
	)

	keysGeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "keyserver",
			Name:      "keys_generated_total",
			Help:      "Total activation keys minted.",
		},
	)
)
