package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Ensemble/internal/domain"
)

// MessageType — тип конверта сообщения.
type MessageType string

const (
	MessageTypeRunPending   MessageType = "run.pending"
	MessageTypeRunCompleted MessageType = "run.completed"
	MessageTypeEvent        MessageType = "event"
)

// Message — JSON-конверт всех сообщений Ensemble.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage оборачивает payload в конверт с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// RunPendingPayload — запрос на выполнение run.
//
// Если run уже сохранён, достаточно RunID;
// иначе потребитель создаёт run из Ensemble и Input.
type RunPendingPayload struct {
	RunID    uuid.UUID      `json:"run_id"`
	Ensemble string         `json:"ensemble"`
	Input    map[string]any `json:"input,omitempty"`
	Trigger  string         `json:"trigger,omitempty"`
}

// RunCompletedPayload — итог выполнения run.
type RunCompletedPayload struct {
	RunID    uuid.UUID        `json:"run_id"`
	Ensemble string           `json:"ensemble"`
	Status   domain.RunStatus `json:"status"`
	Output   any              `json:"output,omitempty"`
	Error    *domain.RunError `json:"error,omitempty"`
}

// Publisher отправляет конверты в обменники Ensemble.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// PublishRunPending ставит run в очередь runs.pending.
func (p *Publisher) PublishRunPending(ctx context.Context, payload RunPendingPayload) error {
	return p.Publish(ctx, ExchangeRuns, RoutingKeyPending, NewMessage(MessageTypeRunPending, payload))
}

// PublishRunCompleted сообщает подписчикам runs.completed об итоге run.
func (p *Publisher) PublishRunCompleted(ctx context.Context, payload RunCompletedPayload) error {
	return p.Publish(ctx, ExchangeRuns, RoutingKeyCompleted, NewMessage(MessageTypeRunCompleted, payload))
}

// PublishEvent отправляет событие агента publish в ensemble.events.
func (p *Publisher) PublishEvent(ctx context.Context, routingKey string, payload any) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKey(routingKey), NewMessage(MessageTypeEvent, payload))
}

// Publish сериализует конверт и отправляет его persistent-сообщением.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, key RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		Type:         string(msg.Type),
		Body:         body,
	}

	err = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, string(exchange), string(key), false, false, pub)
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s/%s: %w", msg.Type, exchange, key, err)
	}

	p.logger.Debug("message published", "exchange", exchange, "routing_key", key, "message_id", msg.ID, "type", msg.Type)
	return nil
}
