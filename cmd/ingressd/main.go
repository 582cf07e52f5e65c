// Command ingressd runs the trade-capture ingress pipeline: one
// IngestionCore (StreamAdapter → MessageClassifier → IngestionBuffer →
// PersistenceCore) and one DispatchWorker (OutboxRepository →
// PublicationEngine → downstream bus) per process, plus the admin HTTP
// replay endpoint.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/tradecapture/ingress/internal/buffer"
	"github.com/tradecapture/ingress/internal/config"
	"github.com/tradecapture/ingress/internal/dispatch"
	"github.com/tradecapture/ingress/internal/httpapi"
	"github.com/tradecapture/ingress/internal/kafkaio"
	"github.com/tradecapture/ingress/internal/logging"
	"github.com/tradecapture/ingress/internal/model"
	"github.com/tradecapture/ingress/internal/outbox"
	"github.com/tradecapture/ingress/internal/persistence"
	"github.com/tradecapture/ingress/internal/storage"
	"github.com/tradecapture/ingress/internal/stream"
	"github.com/tradecapture/ingress/internal/telemetry"
)

func main() {
	cfg, err := config.FromEnv(nil)
	if err != nil {
		os.Stderr.WriteString("ingressd: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: os.Getenv("LOG_LEVEL"), Pretty: os.Getenv("LOG_PRETTY") == "true"})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("ingressd: fatal")
	}
}

// run wires every component of the ingestion/dispatch pipeline and blocks
// until ctx is canceled by SIGINT/SIGTERM or a pipeline component exits,
// then shuts down the HTTP server and the buffer.
func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	codec := stream.JSONCodec{}
	classifier := stream.NewClassifier(codec)

	store := storage.NewPostgresStore(db, codec)

	disk, err := persistence.NewFileDiskSink(cfg.QuarantineDiskPath)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	recorder := telemetry.NewRecorder(registry)

	ingestBreaker := persistence.NewCircuitBreaker("ingest-persistence", persistence.BreakerConfig{
		FailureRate:    cfg.Breaker.FailureRate,
		OpenDuration:   cfg.Breaker.OpenDurationMs,
		HalfOpenTrials: cfg.Breaker.HalfOpenTrials,
		RollingWindow:  cfg.Breaker.RollingWindow,
	}, func(from, to gobreaker.State) {
		log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("persistence circuit breaker state change")
		recorder.BreakerState.WithLabelValues("ingest-persistence").Set(breakerStateValue(to))
	})

	core := persistence.New(store, ingestBreaker, disk, log)

	source, err := kafkaio.NewKafkaSource(kafkaio.SourceConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.StreamName,
		Group:   cfg.ConsumerName,
	})
	if err != nil {
		return err
	}
	defer source.Close()

	sink, err := kafkaio.NewKafkaSink(kafkaio.SinkConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.DestTopic,
	})
	if err != nil {
		return err
	}
	defer sink.Close()

	sizer := buffer.NewAdaptiveBatchSizer(cfg.BatchMin, cfg.BatchMax, cfg.TargetLatency)

	flush := func(ctx context.Context, batch []model.PendingMessage) error {
		err := core.PersistBatch(ctx, batch, source.StoreOffset)
		if err != nil {
			log.Error().Err(err).Int("batch_size", len(batch)).Msg("persist batch failed")
			return err
		}
		for _, msg := range batch {
			if msg.Valid() {
				recorder.TradesIngested.Inc()
			} else {
				recorder.TradesQuarantined.Inc()
			}
		}
		return nil
	}
	quarantineDirect := func(ctx context.Context, msg model.PendingMessage, reason string) {
		recorder.TradesQuarantined.Inc()
		if err := store.QuarantineOnly(ctx, msg, reason); err != nil {
			if derr := disk.Write(ctx, msg, reason+"; quarantine commit failed: "+err.Error()); derr != nil {
				log.Error().Err(derr).Str("reason", reason).Msg("message lost: shutdown-path quarantine and disk fallback both failed")
				return
			}
			log.Error().Err(err).Str("reason", reason).Msg("message lost to disk fallback from shutdown path")
		}
	}

	buf := buffer.New(buffer.Config{
		Capacity:        cfg.BufferCapacity,
		EnqueueWait:     200 * time.Millisecond,
		FlushInterval:   cfg.FlushInterval,
		MaxBatch:        cfg.BatchMax,
		RetryBackoffMin: cfg.SystemFailureBackoff,
		RetryBackoffMax: cfg.MaxBackoff,
	}, sizer, flush, quarantineDirect, source.Pause, source.Resume)
	defer buf.Close()

	handler := func(ctx context.Context, raw []byte, offset int64, ack model.AckHandle) {
		msg := classifier.Classify(raw, offset, ack)
		if err := buf.Enqueue(ctx, msg); err != nil {
			log.Error().Err(err).Msg("buffer enqueue failed")
		}
	}

	repo := outbox.NewRepository()
	engine := dispatch.NewPublicationEngine(sink, codec, cfg.PublishTimeout)
	dispatchSizer := buffer.NewAdaptiveBatchSizer(cfg.BatchMin, cfg.BatchMax, cfg.TargetLatency)
	worker := dispatch.NewDispatchWorker(db, repo, engine, dispatchSizer, dispatch.WorkerConfig{
		B0:           cfg.SystemFailureBackoff,
		Bmax:         cfg.MaxBackoff,
		IdleInterval: cfg.FlushInterval,
	}, log, recorder)

	replay := httpapi.NewReplayHandler(buf, classifier, log)
	mux := http.NewServeMux()
	mux.Handle("/admin/replay/hex", replay)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	errCh := make(chan error, 2)
	go func() { errCh <- source.Run(ctx, handler) }()
	go func() { errCh <- worker.Run(ctx) }()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("pipeline component exited")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	buf.Shutdown(shutdownCtx)

	return nil
}

// breakerStateValue maps gobreaker.State onto the gauge values documented
// in internal/telemetry: 0=closed, 1=half-open, 2=open.
func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
