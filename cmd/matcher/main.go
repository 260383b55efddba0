package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/raceprophet/internal/aggregate"
	"example.com/raceprophet/internal/config"
	"example.com/raceprophet/internal/consumer"
	"example.com/raceprophet/internal/ledger"
	"example.com/raceprophet/internal/matcher"
	"example.com/raceprophet/internal/outbox"
	"example.com/raceprophet/internal/snapshot"
	"example.com/raceprophet/internal/strava"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	predictionLedger := ledger.NewPostgresLedger(pool)
	store := snapshot.NewPostgresStore(pool)

	matcherCfg := matcher.DefaultConfig()
	matcherCfg.MaxFetchAttempts = cfg.FetchMaxAttempts
	matcherCfg.FetchBackoffBase = cfg.FetchBackoffBase
	matcherCfg.FetchBackoffCap = cfg.FetchBackoffCap
	matcherCfg.FetchTimeout = cfg.StravaTimeout
	matcherCfg.MatchWindowDays = cfg.MatchWindowDays
	matcherCfg.CandidateHorizon = cfg.ExpiryHorizon
	matcherCfg.FeedWindowWeeks = cfg.FeedWindowWeeks
	matcherCfg.HashSalt = cfg.AthleteHashSalt

	m := matcher.New(
		matcherCfg,
		strava.ParseStaticTokens(cfg.StravaAthleteTokens),
		strava.NewClient(cfg.StravaTimeout),
		aggregate.New(aggregate.DefaultConfig()),
		predictionLedger,
		store,
		store,
	)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		log.Printf("matcher metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	var wg sync.WaitGroup
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.KafkaGroupID,
		Topic:           outbox.ActivityTopic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})

	proc := consumer.NewProcessor(reader, consumer.NewMatchHandler(m))

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer reader.Close()

		log.Printf("matcher started (topic=%s, group=%s)", outbox.ActivityTopic, cfg.KafkaGroupID)
		if err := proc.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("matcher stopped with error: %v", err)
		}
	}()

	// Periodically close out predictions whose goal date is long past.
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(cfg.ExpirySweepEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				expired, err := predictionLedger.ExpireStale(ctx, cfg.ExpiryHorizon)
				if err != nil {
					log.Printf("expiry sweep failed: %v", err)
				} else if expired > 0 {
					log.Printf("expired %d stale predictions", expired)
				}
			}
		}
	}()

	<-stop
	log.Println("matcher shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	wg.Wait()
}
