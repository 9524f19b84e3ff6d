package help

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ticketsOpen = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "parley_help_tickets_open",
	Help: "Number of tickets which are open or in progress",
})

var ticketTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_help_ticket_transitions",
	Help: "Number of tickets entering each status",
}, []string{"status"})

var ticketsRejected = promauto.NewCounter(prometheus.CounterOpts{
	Name: "parley_help_tickets_rejected",
	Help: "Number of ticket creations rejected by the per-player quota",
})

var faqMatches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_help_faq_matches",
	Help: "Number of messages answered by an FAQ entry",
}, []string{"faq"})

var staffNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_help_staff_notifications",
	Help: "Number of help requests forwarded to staff, by outcome",
}, []string{"outcome"})
