package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/auth"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/config"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/delivery"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/dispatch"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/eligibility"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/events"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/geo"
	httpapi "github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/http"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/inbound"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/logging"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/payments"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("dispatch-api", cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var (
		area  eligibility.Area = geo.NewStoreArea(store)
		dedup inbound.Deduper  = inbound.NewMemoryDeduper(cfg.DedupTTL)
	)
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
		}
		area = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		dedup = inbound.NewRedisDeduper(rc, cfg.DedupTTL)
	}

	publisher, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	wsreg := delivery.NewWSRegistry()
	senders := []delivery.Sender{wsreg}
	if cfg.SMSEnabled() {
		senders = append(senders, delivery.NewSMSSender(cfg.SMSEndpoint, cfg.SMSAccountSID, cfg.SMSAuthToken, cfg.SMSFrom, cfg.SMSWhatsApp))
	}
	if cfg.TelegramToken != "" {
		tg, err := delivery.NewTelegramSender(cfg.TelegramToken, cfg.TelegramAPIURL, cfg.DeliveryTimeout)
		if err != nil {
			return err
		}
		senders = append(senders, tg)
	}

	selector := &eligibility.Selector{Drivers: store, Logger: logger}
	if cfg.AreaRadiusM > 0 {
		selector.Area = area
		selector.RadiusM = cfg.AreaRadiusM
	}

	orch := &dispatch.Orchestrator{
		Store:    store,
		Selector: selector,
		Delivery: &delivery.Fanout{Senders: senders, Timeout: cfg.DeliveryTimeout},
		Pusher:   wsreg,
		Events:   publisher,
		Window:   cfg.ResponseWindow,
		Logger:   logger,
	}
	if cfg.StripeAPIKey != "" {
		orch.Payments = payments.NewStripeGate(cfg.StripeAPIKey)
	}
	resolver := &dispatch.Resolver{
		Store:       store,
		Events:      publisher,
		Pusher:      wsreg,
		Logger:      logger,
		MaxAttempts: cfg.ResolveAttempts,
		Backoff:     cfg.ResolveBackoff,
	}
	sweeper := &dispatch.Sweeper{Store: store, Interval: cfg.SweepInterval, Logger: logger}
	go sweeper.Run(ctx)

	api := httpapi.NewServer(httpapi.Deps{
		Store:      store,
		Dispatcher: orch,
		Resolver:   resolver,
		Webhook:    &inbound.Webhook{Lookup: store, Resolver: resolver, Dedup: dedup, Logger: logger},
		Tokens:     auth.NewSigner(cfg.JWTSecret),
		WSReg:      wsreg,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("dispatch api listening", "addr", cfg.HTTPAddr, "store", cfg.Store, "channels", len(senders))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.Store == "memory" {
		logger.Warn("using in-memory store; state is lost on restart")
		return storage.NewMemoryStore(), nil
	}
	if cfg.RunMigrations {
		applied, err := storage.Migrate(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		logger.Info("migrations checked", "applied", applied)
	}
	ps, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	return ps, nil
}

func openPublisher(cfg config.ServerConfig) (events.Publisher, error) {
	var pubs events.Multi
	if len(cfg.KafkaBrokers) > 0 {
		pubs = append(pubs, events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.EventsTopic))
	}
	if cfg.RabbitURL != "" {
		rp, err := events.NewRabbitPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			_ = pubs.Close()
			return nil, err
		}
		pubs = append(pubs, rp)
	}
	if len(pubs) == 0 {
		return events.Nop{}, nil
	}
	return pubs, nil
}
