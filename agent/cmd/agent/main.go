package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airguard/airguard/agent/internal/config"
	"github.com/airguard/airguard/agent/internal/scraper"
	"github.com/airguard/airguard/agent/internal/shipper"
)

// sensor pairs a configured source with its scraper.
type sensor struct {
	id string
	scraper.Scraper
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("agent: load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	level.Set(cfg.SlogLevel())
	slog.Info("agent: starting",
		"broker", cfg.Agent.MQTT.Broker,
		"topic", cfg.Agent.Topic,
		"poll_interval", cfg.Agent.PollInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sensors := buildSensors(cfg.Agent.Sources)

	// Only the log level is hot-reloadable; sources and broker need a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(c *config.Config) { level.Set(c.SlogLevel()) })
		if err != nil {
			slog.Error("agent: config watcher stopped", "err", err)
		}
	}()

	ship := shipper.New(cfg.Agent)
	go ship.Run(ctx)

	poll(ctx, cfg.Agent.PollInterval, sensors, ship)

	slog.Info("agent: stopped",
		"shipped", ship.Shipped(),
		"evicted", ship.Evicted(),
		"pending", ship.Pending(),
	)
}

// buildSensors constructs a scraper per source. A source that cannot be built
// is logged and left out so the others keep running.
func buildSensors(srcs []config.Source) []sensor {
	out := make([]sensor, 0, len(srcs))
	for _, src := range srcs {
		s, err := scraper.New(src)
		if err != nil {
			slog.Error("agent: source disabled", "source", src.ID, "err", err)
			continue
		}
		out = append(out, sensor{id: src.ID, Scraper: s})
		slog.Info("agent: source ready", "source", src.ID, "type", src.Type)
	}
	if len(out) == 0 {
		slog.Warn("agent: no usable sources, nothing will be published")
	}
	return out
}

// poll scrapes every sensor once per interval and hands complete readings to
// ship. It returns when ctx is cancelled.
func poll(ctx context.Context, every time.Duration, sensors []sensor, ship *shipper.Shipper) {
	tick := time.NewTicker(every)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		for _, s := range sensors {
			res, err := s.Scrape(ctx)
			switch {
			case err != nil:
				slog.Warn("agent: scrape failed", "source", s.id, "err", err)
			case res.Err != nil:
				slog.Debug("agent: cycle skipped", "source", s.id, "err", res.Err)
			default:
				ship.Ship(res.Reading)
			}
		}
	}
}
