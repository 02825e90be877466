package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// ServerConfig captures all tunable parameters for the dispatch API process.
// Values come from the environment, optionally seeded from a .env file.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Store is "postgres" or "memory".
	Store         string
	PGDSN         string
	RunMigrations bool

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	DedupTTL      time.Duration

	KafkaBrokers      []string
	EventsTopic       string
	AvailabilityTopic string
	ConsumerGroup     string

	RabbitURL      string
	RabbitExchange string

	SMSEndpoint   string
	SMSAccountSID string
	SMSAuthToken  string
	SMSFrom       string
	SMSWhatsApp   bool

	TelegramToken  string
	TelegramAPIURL string

	StripeAPIKey string

	JWTSecret string

	ResponseWindow  time.Duration
	DeliveryTimeout time.Duration
	SweepInterval   time.Duration
	AreaRadiusM     float64
	ResolveAttempts int
	ResolveBackoff  time.Duration

	LogLevel string
}

// MinResponseWindow is the shortest offer window a driver can reasonably answer in.
const MinResponseWindow = time.Minute

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		Store:             "postgres",
		RedisGeoKey:       "drivers_geo",
		DedupTTL:          24 * time.Hour,
		EventsTopic:       "dispatch-events",
		AvailabilityTopic: "driver-availability",
		ConsumerGroup:     "dispatch-availability",
		RabbitExchange:    "dispatch.events",
		ResponseWindow:    10 * time.Minute,
		DeliveryTimeout:   5 * time.Second,
		SweepInterval:     30 * time.Second,
		ResolveAttempts:   3,
		ResolveBackoff:    50 * time.Millisecond,
		LogLevel:          "info",
	}
}

// LoadServerConfig reads the environment. A missing .env file is fine; every
// invalid or missing required value is reported together.
func LoadServerConfig() (ServerConfig, error) {
	_ = godotenv.Load()

	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	if v := os.Getenv("STORE"); v != "" {
		cfg.Store = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.PGDSN = os.Getenv("PG_DSN")
	setBoolFromEnv(&cfg.RunMigrations, "MIGRATE", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setDurationFromEnv(&cfg.DedupTTL, "WEBHOOK_DEDUP_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.EventsTopic, "KAFKA_EVENTS_TOPIC")
	setStringFromEnv(&cfg.AvailabilityTopic, "KAFKA_AVAILABILITY_TOPIC")
	setStringFromEnv(&cfg.ConsumerGroup, "KAFKA_GROUP")

	cfg.RabbitURL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	setStringFromEnv(&cfg.RabbitExchange, "RABBITMQ_EXCHANGE")

	cfg.SMSEndpoint = strings.TrimSpace(os.Getenv("SMS_ENDPOINT"))
	cfg.SMSAccountSID = strings.TrimSpace(os.Getenv("SMS_ACCOUNT_SID"))
	cfg.SMSAuthToken = os.Getenv("SMS_AUTH_TOKEN")
	cfg.SMSFrom = strings.TrimSpace(os.Getenv("SMS_FROM"))
	setBoolFromEnv(&cfg.SMSWhatsApp, "SMS_WHATSAPP", &errs)

	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN"))
	cfg.TelegramAPIURL = strings.TrimSpace(os.Getenv("TELEGRAM_API_URL"))

	cfg.StripeAPIKey = strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))
	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	setDurationFromEnv(&cfg.ResponseWindow, "DISPATCH_RESPONSE_WINDOW", &errs)
	setDurationFromEnv(&cfg.DeliveryTimeout, "DELIVERY_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.SweepInterval, "EXPIRY_SWEEP_INTERVAL", &errs)
	setFloatFromEnv(&cfg.AreaRadiusM, "AREA_RADIUS_M", &errs)
	setIntFromEnv(&cfg.ResolveAttempts, "RESOLVE_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.ResolveBackoff, "RESOLVE_BACKOFF", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	switch cfg.Store {
	case "postgres":
		if cfg.PGDSN == "" {
			errs = append(errs, errors.New("PG_DSN is required unless STORE=memory"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE must be postgres or memory, got %q", cfg.Store))
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if cfg.ResponseWindow < MinResponseWindow {
		errs = append(errs, fmt.Errorf("DISPATCH_RESPONSE_WINDOW must be at least %s", MinResponseWindow))
	}
	if cfg.DeliveryTimeout <= 0 || cfg.DeliveryTimeout >= cfg.WriteTimeout {
		errs = append(errs, errors.New("DELIVERY_TIMEOUT must be > 0 and below HTTP_WRITE_TIMEOUT"))
	}
	if cfg.ResolveAttempts <= 0 {
		errs = append(errs, errors.New("RESOLVE_ATTEMPTS must be > 0"))
	}
	if cfg.SMSEndpoint != "" && (cfg.SMSAccountSID == "" || cfg.SMSAuthToken == "" || cfg.SMSFrom == "") {
		errs = append(errs, errors.New("SMS_ENDPOINT needs SMS_ACCOUNT_SID, SMS_AUTH_TOKEN and SMS_FROM"))
	}

	return cfg, errors.Join(errs...)
}

// SMSEnabled reports whether outbound SMS/WhatsApp is configured.
func (c ServerConfig) SMSEnabled() bool { return c.SMSEndpoint != "" }

// ConsumerConfig is the subset the availability consumer needs. The consumer
// always writes to Postgres: an in-process store would be invisible to the API.
type ConsumerConfig struct {
	PGDSN         string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	KafkaBrokers  []string
	Topic         string
	Group         string
	MaxRetries    int
	RetryBackoff  time.Duration
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	_ = godotenv.Load()

	cfg := ConsumerConfig{
		RedisGeoKey:  "drivers_geo",
		Topic:        "driver-availability",
		Group:        "dispatch-availability",
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
		LogLevel:     "info",
	}
	var errs []error

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.Topic, "KAFKA_AVAILABILITY_TOPIC")
	setStringFromEnv(&cfg.Group, "KAFKA_GROUP")
	setIntFromEnv(&cfg.MaxRetries, "CONSUMER_MAX_RETRIES", &errs)
	setDurationFromEnv(&cfg.RetryBackoff, "CONSUMER_RETRY_BACKOFF", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required"))
	}
	if cfg.PGDSN == "" {
		errs = append(errs, errors.New("PG_DSN is required"))
	}
	if cfg.MaxRetries <= 0 {
		errs = append(errs, errors.New("CONSUMER_MAX_RETRIES must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		// cast reads a bare number as nanoseconds
		if _, err := cast.ToFloat64E(v); err == nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %q has no unit (e.g. 10m, 5s)", key, v))
			return
		}
		d, err := cast.ToDurationE(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		f, err := cast.ToFloat64E(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		i, err := cast.ToIntE(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := cast.ToBoolE(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
