package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_maintenance_commands",
	Help: "Number of maintenance commands executed, by loop, kind and outcome",
}, []string{"loop", "kind", "outcome"})

var commandsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_maintenance_commands_dropped",
	Help: "Number of maintenance commands dropped because the queue was full",
}, []string{"loop", "kind"})

var commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "parley_maintenance_command_duration_sec",
	Help: "Duration of maintenance command execution",
}, []string{"loop", "kind"})

var sweepPanics = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_maintenance_sweep_panics",
	Help: "Number of maintenance sweeps which panicked",
}, []string{"loop"})
