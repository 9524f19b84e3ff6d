package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("parley")

var requestsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_requests_received",
	Help: "Number of host requests received, by op",
}, []string{"op"})

var requestsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_requests_failed",
	Help: "Number of host requests which were rejected or failed, by op and reason",
}, []string{"op", "reason"})

var reloads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_rules_reloads",
	Help: "Number of rules reload attempts, by outcome",
}, []string{"outcome"})

var requestsLimited = promauto.NewCounter(prometheus.CounterOpts{
	Name: "parley_requests_limited",
	Help: "Number of host requests refused by the per-sender rate limit",
})
