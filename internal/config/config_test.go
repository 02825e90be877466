package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 10*time.Minute, cfg.ResponseWindow)
	assert.Equal(t, 5*time.Second, cfg.DeliveryTimeout)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, "driver-availability", cfg.AvailabilityTopic)
	assert.False(t, cfg.SMSEnabled())
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/dispatch")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("MIGRATE", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DISPATCH_RESPONSE_WINDOW", "15m")
	t.Setenv("AREA_RADIUS_M", "2500.5")
	t.Setenv("SMS_ENDPOINT", "https://sms.example/Messages.json")
	t.Setenv("SMS_ACCOUNT_SID", "AC1")
	t.Setenv("SMS_AUTH_TOKEN", "tok")
	t.Setenv("SMS_FROM", "+15550000000")
	t.Setenv("SMS_WHATSAPP", "1")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store)
	assert.True(t, cfg.RunMigrations)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 15*time.Minute, cfg.ResponseWindow)
	assert.InDelta(t, 2500.5, cfg.AreaRadiusM, 1e-9)
	assert.True(t, cfg.SMSEnabled())
	assert.True(t, cfg.SMSWhatsApp)
}

func TestLoadServerConfigAggregatesErrors(t *testing.T) {
	t.Setenv("STORE", "postgres")
	t.Setenv("PG_DSN", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("SMS_ENDPOINT", "https://sms.example")

	_, err := LoadServerConfig()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"PG_DSN", "JWT_SECRET", "HTTP_READ_TIMEOUT", "SMS_ACCOUNT_SID"} {
		assert.Contains(t, msg, want)
	}
}

func TestLoadConsumerConfig(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	_, err := LoadConsumerConfig()
	require.Error(t, err)

	t.Setenv("KAFKA_BROKERS", "k1:9092")
	t.Setenv("PG_DSN", "")
	_, err = LoadConsumerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PG_DSN")

	t.Setenv("PG_DSN", "postgres://localhost/dispatch")
	t.Setenv("CONSUMER_RETRY_BACKOFF", "250ms")
	cfg, err := LoadConsumerConfig()
	require.NoError(t, err)
	assert.Equal(t, "driver-availability", cfg.Topic)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBackoff)
}

func TestDurationsNeedAUnit(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DISPATCH_RESPONSE_WINDOW", "10")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISPATCH_RESPONSE_WINDOW")
	assert.Contains(t, err.Error(), "no unit")
}

func TestResponseWindowMinimum(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("JWT_SECRET", "s3cret")

	t.Setenv("DISPATCH_RESPONSE_WINDOW", "30s")
	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 1m0s")

	t.Setenv("DISPATCH_RESPONSE_WINDOW", "1m")
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.ResponseWindow)
}

func TestDeliveryTimeoutMustFitWriteTimeout(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DELIVERY_TIMEOUT", "10s")
	t.Setenv("HTTP_WRITE_TIMEOUT", "10s")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DELIVERY_TIMEOUT")
}
