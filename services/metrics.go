package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	liveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_live_sessions",
			Help: "Number of live websocket sessions on this instance",
		},
	)

	eventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_delivered_total",
			Help: "Total number of frames written to live sessions",
		},
		[]string{"path"},
	)

	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_dropped_total",
			Help: "Total number of events dropped before delivery",
		},
		[]string{"reason"},
	)
)
