package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// resubscribeDelay — пауза перед новой подпиской, если канал доставки закрылся,
// а соединение ещё не помечено разорванным.
const resubscribeDelay = 500 * time.Millisecond

var errDeliveriesClosed = errors.New("deliveries channel closed")

// Handler обрабатывает сообщение.
//
// Ошибка означает nack: при первой доставке сообщение возвращается в очередь,
// при повторной уходит в DLQ.
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — разобранное сообщение вместе с исходной доставкой.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// ConsumerConfig — параметры подписки.
type ConsumerConfig struct {
	Queue   string
	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений брокер отдаёт за раз (default: 1).
	Prefetch int
}

// Consumer читает очередь на отдельном канале и переподписывается
// после восстановления соединения.
type Consumer struct {
	conn   *Connection
	cfg    ConsumerConfig
	logger *slog.Logger

	mu   sync.Mutex
	stop context.CancelFunc
}

// NewConsumer создаёт Consumer. Подписка начинается в Start.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With("queue", cfg.Queue),
	}
}

// Start блокирует до отмены ctx, вызова Stop или закрытия соединения.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.stop = cancel
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.Done():
			return ErrConnectionClosed
		case <-c.conn.Ready():
		}

		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("subscription interrupted", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resubscribeDelay):
		}
	}
}

// Stop прерывает Start. Сообщение в обработке дорабатывается с отменённым ctx.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		c.stop()
	}
}

// session подписывается на очередь и обрабатывает доставки, пока канал жив.
func (c *Consumer) session(ctx context.Context) error {
	ch, err := c.conn.OpenChannel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	// ручной ack: сообщение подтверждается только после обработки
	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	c.logger.Info("consumer subscribed", "prefetch", c.cfg.Prefetch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.dispatch(ctx, raw)
		}
	}
}

// dispatch разбирает сообщение, вызывает Handler и подтверждает доставку.
func (c *Consumer) dispatch(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message, dead-lettering", "error", err, "body", string(raw.Body))
		_ = raw.Reject(false)
		return
	}

	logger := c.logger.With("message_id", msg.ID, "type", msg.Type)
	logger.Debug("message received", "redelivered", raw.Redelivered)

	if err := c.cfg.Handler(ctx, &Delivery{Message: msg, Raw: raw}); err != nil {
		requeue := !raw.Redelivered
		logger.Error("handler failed", "requeue", requeue, "error", err)
		_ = raw.Nack(false, requeue)
		return
	}
	_ = raw.Ack(false)
}

// ParsePayload приводит Payload к типу T.
// После доставки Payload — это map из JSON, поэтому разбор идёт через повторный JSON.
func ParsePayload[T any](msg *Message) (T, error) {
	var out T

	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return out, fmt.Errorf("marshal %s payload: %w", msg.Type, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return out, nil
}
