package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TopicPrefix namespaces every topic the outbox relays to.
const TopicPrefix = "civic"

// Publisher is the sink the outbox relays to. *KafkaProducer implements it.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OutboxPoller polls the event_outbox table and publishes events to Kafka.
// Rows are claimed with SKIP LOCKED so several workers can relay concurrently.
type OutboxPoller struct {
	db        TxBeginner
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewOutboxPoller creates a new outbox poller.
func NewOutboxPoller(db TxBeginner, publisher Publisher, interval time.Duration, batchSize int, logger *slog.Logger) *OutboxPoller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxPoller{
		db:        db,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	p.logger.Info("outbox poller started", "interval", p.interval, "batch_size", p.batchSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox poller stopped")
			return
		case <-ticker.C:
			n, err := p.PollOnce(ctx)
			if err != nil {
				p.logger.Error("outbox poll error", "error", err)
				continue
			}
			if n > 0 {
				p.logger.Debug("outbox poll complete", "published", n)
			}
		}
	}
}

type outboxEvent struct {
	ID            int64
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	PartitionKey  string
	Payload       json.RawMessage
	OccurredAt    time.Time
}

// PollOnce relays one batch and returns how many events were published.
// A publish failure stops the batch so per-partition ordering is preserved.
func (p *OutboxPoller) PollOnce(ctx context.Context) (int, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT "id", "eventId", "aggregateType", "aggregateId", "eventType",
		       "partitionKey", "payload", "occurredAt"
		FROM event_outbox
		WHERE "publishedAt" IS NULL
		ORDER BY "id" ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch outbox events: %w", err)
	}

	var events []outboxEvent
	for rows.Next() {
		var e outboxEvent
		if err := rows.Scan(&e.ID, &e.EventID, &e.AggregateType, &e.AggregateID,
			&e.EventType, &e.PartitionKey, &e.Payload, &e.OccurredAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox rows: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(events))
	for _, e := range events {
		msg, err := outboxMessage(e)
		if err != nil {
			return 0, err
		}
		if err := p.publisher.Publish(ctx, msg); err != nil {
			p.logger.Error("kafka publish failed", "event_id", e.EventID, "error", err)
			break
		}
		published = append(published, e.ID)
	}

	if len(published) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE event_outbox SET "publishedAt" = now() WHERE "id" = ANY($1)`, published); err != nil {
			return 0, fmt.Errorf("mark published: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit outbox tx: %w", err)
	}
	return len(published), nil
}

// TopicFor builds the topic name for an aggregate/event pair,
// e.g. civic.payment.payment.verified.
func TopicFor(aggregateType, eventType string) string {
	return TopicPrefix + "." + aggregateType + "." + eventType
}

func outboxMessage(e outboxEvent) (Message, error) {
	value, err := encodeOutboxMessage(e)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Topic: TopicFor(e.AggregateType, e.EventType),
		Key:   []byte(e.PartitionKey),
		Value: value,
		Headers: map[string]string{
			"event_id":       e.EventID.String(),
			"event_type":     e.EventType,
			"aggregate_type": e.AggregateType,
		},
	}, nil
}

func encodeOutboxMessage(e outboxEvent) ([]byte, error) {
	msg, err := json.Marshal(map[string]interface{}{
		"event_id":       e.EventID,
		"aggregate_type": e.AggregateType,
		"aggregate_id":   e.AggregateID,
		"event_type":     e.EventType,
		"payload":        e.Payload,
		"occurred_at":    e.OccurredAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode outbox event %s: %w", e.EventID, err)
	}
	return msg, nil
}
