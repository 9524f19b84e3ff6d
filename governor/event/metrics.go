package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var announcements = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_event_announcements",
	Help: "Number of announcements accepted, by origin",
}, []string{"kind"})

var broadcastsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_event_broadcasts_delivered",
	Help: "Number of rotation broadcasts delivered, by broadcast id",
}, []string{"broadcast"})

var scheduledFired = promauto.NewCounter(prometheus.CounterOpts{
	Name: "parley_event_scheduled_fired",
	Help: "Number of scheduled message deliveries",
})

var scheduledActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "parley_event_scheduled_active",
	Help: "Number of scheduled messages waiting to fire",
})
