package config

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Holds the current rule table. Readers always see a complete table; Swap replaces it in one step and then notifies subscribers.
//
// Store also serves as the pipeline's channel registry.
type Store struct {
	logger  *slog.Logger
	current atomic.Pointer[Rules]

	mu          sync.Mutex
	subscribers []func(*Rules)
}

func NewStore(logger *slog.Logger, rules *Rules) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if rules == nil {
		rules = Empty()
	}
	s := &Store{
		logger: logger.With("component", "config"),
	}
	s.current.Store(rules)
	s.logWarnings(rules)
	return s
}

func (s *Store) Rules() *Rules {
	return s.current.Load()
}

func (s *Store) Channel(id string) (Channel, bool) {
	return s.current.Load().Channel(id)
}

func (s *Store) Defaults() Defaults {
	return s.current.Load().Defaults
}

// Registers a callback invoked after every successful swap. Callbacks run on the swapping goroutine, in registration order.
func (s *Store) Subscribe(fn func(*Rules)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Store) Swap(rules *Rules) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Store(rules)
	s.logWarnings(rules)
	for _, fn := range s.subscribers {
		s.notify(fn, rules)
	}
	s.logger.Info("rules swapped", "channels", len(rules.Channels), "faq", len(rules.Help.FAQ), "broadcasts", len(rules.Event.Broadcasts))
}

// Parses the file and swaps it in. On any error the previous rules stay in place.
func (s *Store) ReloadFile(path string) error {
	rules, err := LoadFile(path)
	if err != nil {
		return fmt.Errorf("reloading %s: %w", path, err)
	}
	s.Swap(rules)
	return nil
}

func (s *Store) notify(fn func(*Rules), rules *Rules) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("rules subscriber panicked", "err", r)
		}
	}()
	fn(rules)
}

func (s *Store) logWarnings(rules *Rules) {
	for _, w := range rules.Warnings() {
		s.logger.Warn("malformed rule entry", "detail", w)
	}
}
