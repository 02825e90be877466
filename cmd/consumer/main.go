package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/config"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/geo"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/logging"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver availability messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	positionUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_position_updates_total",
		Help: "Total successful availability updates",
	})
	positionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_position_errors_total",
		Help: "Total availability updates that failed after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, positionUpdates, positionErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid consumer config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("availability-consumer", cfg.LogLevel)

	store, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var (
		index PositionIndex
		rc    *redis.Client
	)
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		index = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
	} else {
		logger.Warn("REDIS_ADDR not set; positions only reach the driver table")
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(w, "store not ready", http.StatusServiceUnavailable)
				return
			}
			if rc != nil {
				if err := rc.Ping(r.Context()).Err(); err != nil {
					http.Error(w, "redis not ready", http.StatusServiceUnavailable)
					return
				}
			}
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.Topic, GroupID: cfg.Group, MinBytes: 1, MaxBytes: 10e6})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.Topic, "brokers", cfg.KafkaBrokers, "group", cfg.Group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		pos, err := decodePosition(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid availability message", "offset", m.Offset, "error", err)
			continue
		}

		if err := applyWithRetry(ctx, index, store, pos, cfg.MaxRetries, cfg.RetryBackoff); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				msgsInvalid.Inc()
				logger.Warn("availability for unknown driver", "driver_id", pos.DriverID)
				continue
			}
			positionErrors.Inc()
			logger.Error("availability update failed", "driver_id", pos.DriverID, "error", err)
			continue
		}
		positionUpdates.Inc()
	}
}

func decodePosition(b []byte) (models.DriverPosition, error) {
	var pos models.DriverPosition
	if err := json.Unmarshal(b, &pos); err != nil {
		return pos, err
	}
	if pos.DriverID == "" {
		return pos, errors.New("driver_id is required")
	}
	if pos.Lat < -90 || pos.Lat > 90 || pos.Lon < -180 || pos.Lon > 180 {
		return pos, fmt.Errorf("coordinates out of range: %f,%f", pos.Lat, pos.Lon)
	}
	return pos, nil
}

// PositionIndex is the area index the selector narrows with.
type PositionIndex interface {
	Upsert(ctx context.Context, pos models.DriverPosition) error
}

// AvailabilityStore persists the availability flag the selector filters on.
type AvailabilityStore interface {
	UpdateDriverPosition(ctx context.Context, pos models.DriverPosition) error
}

// applyWithRetry writes the driver row first, then the index when there is
// one, retrying each with doubling backoff. Unknown drivers are not retried.
func applyWithRetry(ctx context.Context, index PositionIndex, store AvailabilityStore, pos models.DriverPosition, attempts int, delay time.Duration) error {
	steps := []func() error{
		func() error { return store.UpdateDriverPosition(ctx, pos) },
	}
	if index != nil {
		steps = append(steps, func() error { return index.Upsert(ctx, pos) })
	}
	for _, step := range steps {
		d := delay
		for i := 0; i < attempts; i++ {
			err := step()
			if err == nil {
				break
			}
			if errors.Is(err, storage.ErrNotFound) || i == attempts-1 {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
			d *= 2
		}
	}
	return nil
}
