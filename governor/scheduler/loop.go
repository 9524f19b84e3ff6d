// Background maintenance for the channel plugins.
//
// Each plugin owns one Loop. A Loop periodically runs its sweeps, which inspect plugin state and return typed commands (expire this post, fire that scheduled message), and then executes commands one at a time on the loop goroutine. Commands can also be enqueued directly. A command which fails or panics is logged and counted; it never stops the loop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// A unit of maintenance work. Kind is used for logging and metrics.
type Command interface {
	Kind() string
}

// Inspects state as of now and returns any commands which are due.
type Sweep func(now time.Time) []Command

type Handler func(ctx context.Context, cmd Command) error

type Loop struct {
	Name     string
	Logger   *slog.Logger
	Interval time.Duration
	Now      func() time.Time

	handler Handler
	sweeps  []Sweep
	queue   chan Command
}

var DefaultQueueSize = 1024

func NewLoop(name string, logger *slog.Logger, interval time.Duration, handler Handler) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		Name:     name,
		Logger:   logger.With("component", "scheduler", "loop", name),
		Interval: interval,
		Now:      time.Now,
		handler:  handler,
		queue:    make(chan Command, DefaultQueueSize),
	}
}

// Sweeps must be registered before Run is called.
func (l *Loop) AddSweep(s Sweep) {
	l.sweeps = append(l.sweeps, s)
}

// Adds a command to the queue without blocking. Returns false if the queue is full and the command was dropped; periodic sweeps will re-discover any state-derived work.
func (l *Loop) Enqueue(cmd Command) bool {
	select {
	case l.queue <- cmd:
		return true
	default:
		commandsDropped.WithLabelValues(l.Name, cmd.Kind()).Inc()
		l.Logger.Warn("maintenance queue full, dropping command", "kind", cmd.Kind())
		return false
	}
}

// Runs until the context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	l.Logger.Info("maintenance loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			l.Logger.Info("maintenance loop stopped")
			return nil
		case <-ticker.C:
			l.Tick(ctx)
		case cmd := <-l.queue:
			l.execute(ctx, cmd)
		}
	}
}

// Runs every sweep once, then executes everything queued. Run calls this on each tick; tests call it directly with a controlled clock.
func (l *Loop) Tick(ctx context.Context) {
	now := l.Now()
	for i, sweep := range l.sweeps {
		for _, cmd := range l.runSweep(i, sweep, now) {
			l.Enqueue(cmd)
		}
	}
	l.Drain(ctx)
}

// Executes queued commands until the queue is empty.
func (l *Loop) Drain(ctx context.Context) {
	for {
		select {
		case cmd := <-l.queue:
			l.execute(ctx, cmd)
		default:
			return
		}
	}
}

func (l *Loop) Pending() int {
	return len(l.queue)
}

func (l *Loop) runSweep(idx int, sweep Sweep, now time.Time) (cmds []Command) {
	defer func() {
		if r := recover(); r != nil {
			sweepPanics.WithLabelValues(l.Name).Inc()
			l.Logger.Error("maintenance sweep panicked", "sweep", idx, "err", r)
			cmds = nil
		}
	}()
	return sweep(now)
}

func (l *Loop) execute(ctx context.Context, cmd Command) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			l.Logger.Error("maintenance command panicked", "kind", cmd.Kind(), "err", r)
		}
		commandsExecuted.WithLabelValues(l.Name, cmd.Kind(), outcome).Inc()
		commandDuration.WithLabelValues(l.Name, cmd.Kind()).Observe(time.Since(start).Seconds())
	}()
	if err := l.handler(ctx, cmd); err != nil {
		outcome = "error"
		l.Logger.Error("maintenance command failed", "kind", cmd.Kind(), "err", err)
	}
}

// Wraps an unknown command type in an error; handlers return this from their default case.
func UnknownCommand(cmd Command) error {
	return fmt.Errorf("unhandled maintenance command: %T (%s)", cmd, cmd.Kind())
}
