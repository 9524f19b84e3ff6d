package main

import (
	"time"

	"github.com/RussellLuo/slidingwindow"
	"github.com/puzpuzpuz/xsync/v3"
)

func windowFunc() (slidingwindow.Window, slidingwindow.StopFunc) {
	return slidingwindow.NewLocalWindow()
}

// Per-sender sliding-window limit on host requests, in front of the governor. Presence and reload ops are never limited.
type senderLimiter struct {
	perMinute int64
	limiters  *xsync.MapOf[string, *slidingwindow.Limiter]
}

// A non-positive limit disables limiting.
func newSenderLimiter(perMinute int64) *senderLimiter {
	return &senderLimiter{
		perMinute: perMinute,
		limiters:  xsync.NewMapOf[string, *slidingwindow.Limiter](),
	}
}

func (l *senderLimiter) Allow(op, senderID string) bool {
	if l == nil || l.perMinute <= 0 {
		return true
	}
	switch op {
	case "join", "leave", "reload":
		return true
	}
	lim, _ := l.limiters.LoadOrCompute(senderID, func() *slidingwindow.Limiter {
		lim, _ := slidingwindow.NewLimiter(time.Minute, l.perMinute, windowFunc)
		return lim
	})
	if !lim.Allow() {
		requestsLimited.Inc()
		return false
	}
	return true
}

// Drops the limiter of a sender who left.
func (l *senderLimiter) Forget(senderID string) {
	if l == nil {
		return
	}
	l.limiters.Delete(senderID)
}
