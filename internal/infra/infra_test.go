package infra

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Config Tests ---

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	cfg, err := LoadConfig(os.DevNull)
	require.NoError(t, err)

	assert.Equal(t, "stub", cfg.PaymentGatewayProvider)
	assert.Equal(t, "INR", cfg.PaymentCurrency)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "@daily", cfg.OutboxPurgeSchedule)
	assert.Equal(t, 7*24*time.Hour, cfg.OutboxRetention)
	assert.False(t, cfg.SignatureEnforced())
}

func TestConfig_SignatureEnforced(t *testing.T) {
	enforced, relaxed := true, false

	assert.True(t, (&Config{AppEnv: "production"}).SignatureEnforced())
	assert.False(t, (&Config{AppEnv: "staging"}).SignatureEnforced())
	assert.True(t, (&Config{AppEnv: "staging", GatewaySignatureEnforced: &enforced}).SignatureEnforced())
	assert.False(t, (&Config{AppEnv: "production", GatewaySignatureEnforced: &relaxed}).SignatureEnforced())
}

func TestConfig_Validate(t *testing.T) {
	strong := strings.Repeat("s", 32)

	t.Run("insecure default secret rejected", func(t *testing.T) {
		cfg := &Config{PaymentGatewayProvider: "stub", JWTSecret: "change-me-in-production"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("insecure defaults allowed for local dev", func(t *testing.T) {
		cfg := &Config{PaymentGatewayProvider: "stub", JWTSecret: "x", AllowInsecureDefaults: true}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		cfg := &Config{PaymentGatewayProvider: "paypal", AllowInsecureDefaults: true}
		assert.Error(t, cfg.Validate())
	})

	t.Run("stub rejected in production", func(t *testing.T) {
		cfg := &Config{AppEnv: "production", PaymentGatewayProvider: "stub", JWTSecret: strong, GatewayWebhookSecret: "whsec"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("enforced signatures need a secret", func(t *testing.T) {
		cfg := &Config{AppEnv: "production", PaymentGatewayProvider: "razorpay", JWTSecret: strong}
		assert.Error(t, cfg.Validate())
		cfg.GatewayKeySecret = "key-secret"
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfig_DSN(t *testing.T) {
	cfg := &Config{PGUser: "u", PGPassword: "p", PGHost: "db", PGPort: 5432, PGDatabase: "civic"}
	assert.Equal(t, "postgres://u:p@db:5432/civic?sslmode=disable", cfg.DSN())

	cfg.DatabaseURL = "postgres://override"
	assert.Equal(t, "postgres://override", cfg.DSN())
}

// --- ID Tests ---

func TestIDGenerator(t *testing.T) {
	gen, err := NewIDGenerator(7)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	arn := gen.PublicARN("puda", at)
	assert.True(t, strings.HasPrefix(arn, "PUDA/2026/"), arn)

	r1, r2 := gen.ReceiptNumber(), gen.ReceiptNumber()
	assert.True(t, strings.HasPrefix(r1, "RCPT-"))
	assert.NotEqual(t, r1, r2)

	assert.True(t, strings.HasPrefix(gen.PublicARN("", at), "GEN/2026/"))
	assert.True(t, strings.HasPrefix(gen.InternalARN(), "APP-"))
}

func TestIDGenerator_InvalidNode(t *testing.T) {
	_, err := NewIDGenerator(5000)
	assert.Error(t, err)
}

// --- Outbox Tests ---

func TestTopicFor(t *testing.T) {
	assert.Equal(t, "civic.payment.payment.verified", TopicFor("payment", "payment.verified"))
}

func TestEncodeOutboxMessage(t *testing.T) {
	e := outboxEvent{
		EventID:       uuid.New(),
		AggregateType: "application",
		AggregateID:   "APP-1",
		EventType:     "application.state.changed",
		Payload:       json.RawMessage(`{"to_state":"SUBMITTED"}`),
		OccurredAt:    time.Now(),
	}
	raw, err := encodeOutboxMessage(e)
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "APP-1", msg["aggregate_id"])
	assert.Equal(t, "SUBMITTED", msg["payload"].(map[string]interface{})["to_state"])
}

func TestOutboxMessage(t *testing.T) {
	e := outboxEvent{
		EventID:       uuid.New(),
		AggregateType: "payment",
		AggregateID:   uuid.NewString(),
		EventType:     "payment.verified",
		PartitionKey:  "APP-9",
		Payload:       json.RawMessage(`{}`),
		OccurredAt:    time.Now(),
	}
	msg, err := outboxMessage(e)
	require.NoError(t, err)

	assert.Equal(t, "civic.payment.payment.verified", msg.Topic)
	assert.Equal(t, []byte("APP-9"), msg.Key)
	assert.Equal(t, e.EventID.String(), msg.Headers["event_id"])

	headers := kafkaHeaders(msg.Headers)
	require.Len(t, headers, 3)
	assert.Equal(t, "aggregate_type", headers[0].Key)
	assert.Equal(t, "event_type", headers[2].Key)
	assert.Equal(t, []byte("payment.verified"), headers[2].Value)
}

func TestNewKafkaProducer_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, p := range []*KafkaProducer{
		NewKafkaProducer("localhost:9092", false, logger),
		NewKafkaProducer(" , ", true, logger),
	} {
		assert.False(t, p.Enabled())
		assert.NoError(t, p.Publish(context.Background(), Message{Topic: "civic.x"}))
		assert.NoError(t, p.Close())
	}

	assert.Equal(t, []string{"a:9092", "b:9092"}, splitBrokers("a:9092, b:9092,"))
}
