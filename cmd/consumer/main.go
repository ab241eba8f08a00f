package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"example.com/tachograph/internal/config"
	"example.com/tachograph/internal/consumer"
	"example.com/tachograph/internal/domain"
	"example.com/tachograph/internal/persistence/postgres"
	"example.com/tachograph/internal/render"
	"example.com/tachograph/pkg/events"
)

// route binds one topic to the handler that consumes it.
type route struct {
	topic   string
	handler consumer.Handler
	opts    []consumer.Option
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if cfg.StorageBackend != config.StoragePostgres {
		log.Fatalf("the consumer requires STORAGE_BACKEND=%s", config.StoragePostgres)
	}
	loc, _ := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	var notifier render.Notifier = render.NoopNotifier{}
	if cfg.RenderWebhookURL != "" {
		notifier = render.NewHTTPNotifier(cfg.RenderWebhookURL, cfg.RenderWebhookToken, cfg.RenderTimeout)
	}
	service := domain.NewService(postgres.NewRepository(pool),
		domain.WithLocation(loc),
		domain.WithNotifier(notifier),
	)

	retry := consumer.WithRetry(cfg.ConsumerMaxAttempts, cfg.ConsumerRetryDelay)
	routes := []route{{
		topic:   cfg.RecordsTopic,
		handler: consumer.NewEvaluationHandler(service, nil),
		opts:    []consumer.Option{retry, consumer.WithDefaultEventType(events.TypeRecordParsed)},
	}}
	audit := consumer.NewAuditHandler(pool)
	for _, topic := range cfg.ConsumerTopics {
		routes = append(routes, route{topic: topic, handler: audit, opts: []consumer.Option{retry}})
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("consumer metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server error: %v", err)
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, rt := range routes {
		group.Go(func() error {
			return consume(groupCtx, cfg, rt)
		})
	}

	if err := group.Wait(); err != nil {
		log.Printf("consumer stopped: %v", err)
	}
	log.Println("consumer shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}

// consume runs one topic loop until ctx ends. Cancellation is a clean stop.
func consume(ctx context.Context, cfg config.Config, rt route) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           rt.topic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})
	defer reader.Close()

	log.Printf("consumer started (topic=%s, group=%s)", rt.topic, cfg.ConsumerGroupID)
	err := consumer.NewProcessor(reader, rt.handler, rt.opts...).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
