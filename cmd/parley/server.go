package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parley-chat/parley/governor"
	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/cooldown"
	"github.com/parley-chat/parley/governor/engine"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	logger     *slog.Logger
	gov        *governor.Governor
	rules      *config.Store
	dir        *hostDirectory
	out        *output
	configPath string
	// manual clock, only set when replaying
	clock   *engine.FixedClock
	limiter *senderLimiter
}

type Config struct {
	Logger *slog.Logger
	// rule table path; the embedded example configuration is used when empty
	ConfigPath string
	RedisURL   string
	RelayURL   string
	// accepted results waiting for the relay; beyond this they are dropped
	RelayQueueSize int
	GroupCacheTTL  time.Duration
	// requests per sender per minute; zero disables
	SenderLimit int64
	Output      io.Writer
	// when set, time only advances as requests say so
	Clock *engine.FixedClock
	// fixes broadcast selection; zero keeps the default random source
	Seed uint64
}

func NewServer(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	rules, err := loadRules(logger, cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	store := config.NewStore(logger, rules)

	var cooldowns cooldown.Store
	if cfg.RedisURL != "" {
		rs, err := cooldown.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		cooldowns = rs
		logger.Info("using redis cooldown store")
	}

	var relay engine.Relay
	if cfg.RelayURL != "" {
		relay = engine.NewWebhookRelay(cfg.RelayURL, logger)
	}

	s := &Server{
		logger:     logger,
		rules:      store,
		out:        newOutput(out),
		configPath: cfg.ConfigPath,
		clock:      cfg.Clock,
		limiter:    newSenderLimiter(cfg.SenderLimit),
	}
	s.dir = newHostDirectory(s.out)
	for _, p := range rules.Players {
		if p.ID != "" && p.Name != "" {
			s.dir.Join(p)
		}
	}

	gcfg := governor.Config{
		Logger:         logger,
		Rules:          store,
		Groups:         s.dir,
		Perms:          s.dir,
		Directory:      s.dir,
		Broadcaster:    &hostBroadcaster{out: s.out},
		Relay:          relay,
		RelayQueueSize: cfg.RelayQueueSize,
		Cooldowns:      cooldowns,
		GroupCacheTTL:  cfg.GroupCacheTTL,
	}
	if cfg.Clock != nil {
		gcfg.Clock = cfg.Clock.Now
	}
	s.gov = governor.New(gcfg)
	if cfg.Seed != 0 {
		s.gov.Event.Rand = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed)).IntN
	}
	return s, nil
}

func loadRules(logger *slog.Logger, path string) (*config.Rules, error) {
	if path == "" {
		logger.Warn("no rules file configured, using embedded example rules")
		return config.Parse(config.ExampleConfig)
	}
	return config.LoadFile(path)
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

// Re-reads the rules file on every SIGHUP until the context is cancelled. A bad file leaves the current rules in place.
func (s *Server) RunReloadOnSignal(ctx context.Context) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP)
	defer signal.Stop(sigs)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigs:
			if err := s.reload(); err != nil {
				s.logger.Error("failed to reload rules", "err", err, "path", s.configPath)
			}
		}
	}
}

func (s *Server) reload() error {
	if s.configPath == "" {
		reloads.WithLabelValues("skipped").Inc()
		return fmt.Errorf("no rules file configured")
	}
	if err := s.rules.ReloadFile(s.configPath); err != nil {
		reloads.WithLabelValues("error").Inc()
		return err
	}
	reloads.WithLabelValues("ok").Inc()
	s.logger.Info("reloaded rules", "path", s.configPath)
	return nil
}

// Reads one JSON request per line and writes the response frames, until EOF or context cancellation. Malformed lines are answered with an error frame and skipped.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := s.out.write(s.handleLine(ctx, line)); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	return scanner.Err()
}

// Moves the manual clock forward and runs one maintenance pass. Never moves backwards.
func (s *Server) advance(ctx context.Context, to time.Time) {
	if s.clock == nil {
		return
	}
	if d := to.Sub(s.clock.Now()); d > 0 {
		s.clock.Advance(d)
		s.gov.Tick(ctx)
	}
}
