package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/engine"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "parley",
		Usage:   "chat message governance daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to the YAML rules file (embedded example rules when unset)",
			EnvVars: []string{"PARLEY_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"PARLEY_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format: json or text",
			Value:   "json",
			EnvVars: []string{"PARLEY_LOG_FORMAT"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		checkConfigCmd,
		replayCmd,
	}

	return app.Run(args)
}

// Logs always go to stderr; stdout carries the host protocol.
func configLogger(cctx *cli.Context, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cctx.String("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cctx.String("log-format")) {
	case "json", "":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", cctx.String("log-format"))
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service, reading host requests from stdin",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"PARLEY_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL, for cooldowns shared between instances",
			EnvVars: []string{"PARLEY_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "relay-url",
			Usage:   "webhook which accepted messages on relay channels are posted to",
			EnvVars: []string{"PARLEY_RELAY_URL"},
		},
		&cli.IntFlag{
			Name:    "relay-queue-size",
			Usage:   "accepted messages buffered for the relay webhook before new ones are dropped",
			Value:   1024,
			EnvVars: []string{"PARLEY_RELAY_QUEUE_SIZE"},
		},
		&cli.Int64Flag{
			Name:    "sender-rate-limit",
			Usage:   "max requests per sender per minute (0 disables)",
			Value:   60,
			EnvVars: []string{"PARLEY_SENDER_RATE_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "group-cache-ttl",
			Usage:   "how long permission group lookups are cached (0 disables)",
			Value:   time.Minute,
			EnvVars: []string{"PARLEY_GROUP_CACHE_TTL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx, os.Stderr)
		if err != nil {
			return err
		}

		shutdownTracing, err := configOTEL("parley")
		if err != nil {
			return err
		}
		defer shutdownTracing()

		srv, err := NewServer(Config{
			Logger:         logger,
			ConfigPath:     cctx.String("config"),
			RedisURL:       cctx.String("redis-url"),
			RelayURL:       cctx.String("relay-url"),
			RelayQueueSize: cctx.Int("relay-queue-size"),
			GroupCacheTTL:  cctx.Duration("group-cache-ttl"),
			SenderLimit:    cctx.Int64("sender-rate-limit"),
			Output:         os.Stdout,
		})
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.gov.Run(gctx) })
		g.Go(func() error { return srv.RunReloadOnSignal(gctx) })

		// reads on stdin can't be interrupted, so Serve is not waited on after a signal
		served := make(chan error, 1)
		go func() { served <- srv.Serve(gctx, os.Stdin) }()

		var serveErr error
		select {
		case serveErr = <-served:
			logger.Info("host closed input, shutting down")
		case <-gctx.Done():
		}
		stop()
		if err := g.Wait(); err != nil {
			return fmt.Errorf("failed to run governor: %w", errors.Join(serveErr, err))
		}
		return serveErr
	},
}

var checkConfigCmd = &cli.Command{
	Name:  "check-config",
	Usage: "parse a rules file and report malformed entries",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "example",
			Usage: "print the embedded example rules instead",
		},
		&cli.BoolFlag{
			Name:  "strict",
			Usage: "fail when any entry had to be dropped or corrected",
		},
	},
	Action: func(cctx *cli.Context) error {
		out := cctx.App.Writer
		if cctx.Bool("example") {
			_, err := out.Write(config.ExampleConfig)
			return err
		}
		path := cctx.String("config")
		if path == "" {
			path = cctx.Args().First()
		}
		if path == "" {
			return fmt.Errorf("need a rules file, via --config or as an argument")
		}
		rules, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		return reportRules(out, rules, cctx.Bool("strict"))
	},
}

func reportRules(w io.Writer, rules *config.Rules, strict bool) error {
	fmt.Fprintf(w, "channels:   %d\n", len(rules.Channels))
	fmt.Fprintf(w, "groups:     %d\n", len(rules.Groups))
	fmt.Fprintf(w, "faq:        %d\n", len(rules.Help.FAQ))
	fmt.Fprintf(w, "broadcasts: %d\n", len(rules.Event.Broadcasts))
	fmt.Fprintf(w, "scheduled:  %d\n", len(rules.Event.Scheduled))
	for _, warn := range rules.Warnings() {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	if strict && len(rules.Warnings()) > 0 {
		return fmt.Errorf("%d malformed rule entries", len(rules.Warnings()))
	}
	return nil
}

var replayCmd = &cli.Command{
	Name:      "replay",
	Usage:     "feed a recorded session through the governor on a manual clock",
	ArgsUsage: "<file>",
	Flags: []cli.Flag{
		&cli.TimestampFlag{
			Name:   "start",
			Usage:  "initial clock time (RFC 3339); defaults to now",
			Layout: time.RFC3339,
		},
		&cli.Uint64Flag{
			Name:  "seed",
			Usage: "seed for broadcast selection",
			Value: 1,
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx, os.Stderr)
		if err != nil {
			return err
		}

		var in io.Reader = os.Stdin
		if path := cctx.Args().First(); path != "" && path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		start := time.Now().UTC()
		if ts := cctx.Timestamp("start"); ts != nil {
			start = *ts
		}
		srv, err := NewServer(Config{
			Logger:     logger,
			ConfigPath: cctx.String("config"),
			Output:     cctx.App.Writer,
			Clock:      engine.NewFixedClock(start),
			Seed:       cctx.Uint64("seed"),
		})
		if err != nil {
			return err
		}
		return srv.Serve(cctx.Context, in)
	},
}
