package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airguard/airguard/server/internal/actuator"
	"github.com/airguard/airguard/server/internal/alerts"
	"github.com/airguard/airguard/server/internal/api"
	"github.com/airguard/airguard/server/internal/auth"
	"github.com/airguard/airguard/server/internal/broker"
	"github.com/airguard/airguard/server/internal/classifier"
	"github.com/airguard/airguard/server/internal/config"
	"github.com/airguard/airguard/server/internal/ingest"
	"github.com/airguard/airguard/server/internal/metrics"
	"github.com/airguard/airguard/server/internal/store"
	"github.com/airguard/airguard/server/internal/store/dynamostore"
	"github.com/airguard/airguard/server/internal/store/mongostore"
	"github.com/airguard/airguard/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("airguard-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.SlogLevel())

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"feed", cfg.Feed.Source,
		"command_sink", cfg.Feed.CommandSink,
		"storage", cfg.Storage.Backend,
		"classifier", cfg.Classifier.Type,
		"cooldown", cfg.Alerts.Cooldown,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	started := time.Now()

	// Storage, bounded per call.
	backend, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open storage", "backend", cfg.Storage.Backend, "err", err)
		os.Exit(1)
	}
	st := store.Bounded(backend, cfg.Storage.Timeout)
	defer func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer ccancel()
		st.Close(cctx) //nolint:errcheck
	}()

	// Classifier behind a circuit breaker.
	cls, breaker, err := newClassifier(ctx, cfg)
	if err != nil {
		slog.Error("failed to create classifier", "type", cfg.Classifier.Type, "err", err)
		os.Exit(1)
	}

	// Telemetry feed and command channel.
	var mq *broker.MQTT
	if cfg.Feed.Source == "mqtt" || cfg.Feed.CommandSink == "mqtt" {
		mq = broker.NewMQTT(broker.MQTTOptions{
			Broker:         cfg.MQTT.Broker,
			ClientIDPrefix: cfg.MQTT.ClientIDPrefix,
			Username:       cfg.MQTT.Username(),
			Password:       cfg.MQTT.Password(),
			QoS:            byte(cfg.MQTT.QoS),
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
			PublishTimeout: cfg.MQTT.PublishTimeout,
			BufferSize:     cfg.Feed.BufferSize,
		})
		if err := mq.Connect(ctx); err != nil {
			slog.Error("mqtt connect aborted", "err", err)
			os.Exit(1)
		}
		defer mq.Close()
	}

	var (
		feed     ingest.Feed
		feedLink api.Link
		dropped  func() uint64
	)
	switch cfg.Feed.Source {
	case "kafka":
		kf := broker.NewKafkaFeed(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Feed.TelemetryTopic, cfg.Feed.BufferSize)
		defer kf.Close() //nolint:errcheck
		go kf.Run(ctx)
		feed, feedLink, dropped = kf, alwaysUp{}, kf.Dropped
	default:
		if err := mq.Subscribe(cfg.Feed.TelemetryTopic); err != nil {
			slog.Error("failed to subscribe to telemetry", "topic", cfg.Feed.TelemetryTopic, "err", err)
			os.Exit(1)
		}
		feed, feedLink, dropped = mq, mq, mq.Dropped
	}

	var commands actuator.Publisher
	switch cfg.Feed.CommandSink {
	case "kafka":
		kp := broker.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.MQTT.PublishTimeout)
		defer kp.Close() //nolint:errcheck
		commands = kp
	default:
		commands = mq
	}

	// Notification channels; the first one is canonical.
	channels, email := newChannels(cfg)
	if len(channels) == 0 {
		slog.Warn("no notification channels configured; poor readings will not alert")
	}

	hub := ws.New(cfg.Stream.PingPeriod)
	go hub.Run(ctx)

	coord := ingest.New(cfg.Feed.TelemetryTopic, ingest.Deps{
		Feed:       feed,
		Readings:   st,
		Classifier: cls,
		Actuator:   actuator.New(commands, st, cfg.Feed.CommandTopic),
		Alerts:     alerts.New(st, channels, cfg.Alerts.Cooldown, cfg.Alerts.SendTimeout),
		Events:     hub,
	})
	go coord.Run(ctx)

	// Hot reload: log level and alert recipient.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			level.Set(next.SlogLevel())
			if email != nil {
				email.SetRecipient(next.Alerts.Email.Recipient(), next.Alerts.Email.RecipientName)
			}
			slog.Info("config reloaded", "log_level", next.Server.LogLevel)
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// Metrics.
	reg := metrics.NewRegistry()
	reg.MustRegister(
		coord.Tracker().Collector(),
		metrics.Up("airguard_feed_connected", "1 when the telemetry feed is connected.", feedLink.Connected),
		metrics.Up("airguard_command_connected", "1 when the command channel is connected.", commands.Connected),
		metrics.Counter("airguard_feed_dropped_total", "Feed messages dropped because the consumer lagged.",
			func() float64 { return float64(dropped()) }),
		metrics.Gauge("airguard_stream_clients", "Connected live stream clients.",
			func() float64 { return float64(hub.Count()) }),
		metrics.Gauge("airguard_uptime_seconds", "Seconds since the server started.",
			func() float64 { return time.Since(started).Seconds() }),
	)

	// Combined HTTP server: status API, live stream and metrics on HTTPPort.
	apiHandler := api.New(api.Deps{
		Status:   coord.Tracker(),
		Devices:  st,
		Ping:     st.Ping,
		Feed:     feedLink,
		Commands: commands,
		Backend:  cfg.Storage.Backend,
		Cooldown: cfg.Alerts.Cooldown,
		Breaker:  breaker,
		Clients:  hub.Count,
		Started:  started,
	})
	requireKey := auth.APIKey(cfg.Server.Auth.Mode, cfg.Server.Auth.EffectiveHeader(), cfg.Server.Auth.Key())

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", requireKey(apiHandler))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", metrics.Handler(reg))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("airguard-server shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	httpSrv.Shutdown(sctx) //nolint:errcheck
}

// openStore connects the configured storage backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "mongo":
		octx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return mongostore.Open(octx, cfg.Storage.Mongo.URI(), cfg.Storage.Mongo.Database)
	case "dynamodb":
		d := cfg.Storage.DynamoDB
		return dynamostore.Open(d.Region, d.Endpoint, d.TablePrefix)
	default:
		m := store.NewMemory(cfg.Storage.Retention)
		go m.Run(ctx)
		return m, nil
	}
}

// newClassifier builds the configured classifier wrapped in a breaker. The
// returned func reports the breaker state, or nil when the breaker is off.
func newClassifier(ctx context.Context, cfg *config.Config) (classifier.Classifier, func() string, error) {
	c := cfg.Classifier
	labels := classifier.DefaultLabels().WithOverrides(c.Labels)

	var inner classifier.Classifier
	switch c.Type {
	case "sagemaker":
		sm, err := classifier.NewSageMaker(ctx, c.SageMaker.Region, c.SageMaker.EndpointName, c.Timeout, labels)
		if err != nil {
			return nil, nil, err
		}
		inner = sm
	default:
		inner = classifier.NewHTTP(c.URL, c.Timeout, labels)
	}

	wrapped := classifier.NewBreaker(inner, c.Breaker.FailureThreshold, c.Breaker.OpenTimeout)
	if b, ok := wrapped.(*classifier.Breaker); ok {
		return b, func() string { return b.State().String() }, nil
	}
	return wrapped, nil, nil
}

// newChannels builds the notifiers in canonical order: email, push, then
// webhooks. The email notifier is also returned for recipient reloads.
func newChannels(cfg *config.Config) ([]alerts.Notifier, *alerts.Email) {
	var (
		out   []alerts.Notifier
		email *alerts.Email
	)
	a := cfg.Alerts
	if a.Email.Host != "" {
		email = alerts.NewEmail(a.Email)
		out = append(out, email)
	}
	if a.Push.Type == "pushsafer" {
		out = append(out, alerts.NewPushsafer(a.Push.URL, a.Push.Key(), a.Push.Device, a.Cooldown))
	}
	for _, wh := range a.Webhooks {
		out = append(out, alerts.NewWebhook(wh.Type, wh.URL()))
	}
	if email == nil && len(out) > 0 {
		slog.Warn("email not configured; first channel decides whether an alert counts as sent",
			"channel", out[0].Name())
	}
	return out, email
}

type alwaysUp struct{}

func (alwaysUp) Connected() bool { return true }
