package mention

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var mentionsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_mentions_detected",
	Help: "Number of mention tokens in messages passing the mention stage, by category",
}, []string{"category"})

var mentionCooldownHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_mention_cooldown_hits",
	Help: "Number of messages rejected by a mention cooldown, by category",
}, []string{"category"})
