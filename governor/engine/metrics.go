package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "parley_message_duration_sec",
	Help: "Total duration of message processing",
}, []string{"kind"})

var messagesAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_messages_accepted",
	Help: "Number of messages accepted by the full chain, by channel kind",
}, []string{"kind"})

var messagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_messages_rejected",
	Help: "Number of messages rejected, by reason",
}, []string{"reason"})

var stageDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_stage_degraded",
	Help: "Number of stage failures which were passed through",
}, []string{"stage"})

var stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "parley_stage_duration_sec",
	Help: "Duration of individual pipeline stages",
}, []string{"stage"})

var relayErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "parley_relay_errors",
	Help: "Number of failed outbound relay calls",
})

var relayDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "parley_relay_dropped",
	Help: "Number of accepted messages not relayed because the relay queue was full",
})

var groupCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "parley_group_cache_hits",
	Help: "Number of group lookups served from cache",
})

var groupCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "parley_group_cache_misses",
	Help: "Number of group lookups passed to the upstream provider",
})
