package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type (
	Exchange   string
	Queue      string
	RoutingKey string
)

const (
	ExchangeRuns   Exchange = "ensemble.runs"
	ExchangeEvents Exchange = "ensemble.events"
	ExchangeDLQ    Exchange = "ensemble.dlq"
)

const (
	QueueRunsPending   Queue = "runs.pending"
	QueueRunsCompleted Queue = "runs.completed"
	QueueDLQRuns       Queue = "dlq.runs"
)

const (
	RoutingKeyPending   RoutingKey = "pending"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDLQRuns   RoutingKey = "runs"
)

// ExchangeSpec — объявление обменника.
type ExchangeSpec struct {
	Name Exchange
	Kind string
}

// QueueSpec — объявление очереди. DeadLetter задаёт маршрут отклонённых сообщений.
type QueueSpec struct {
	Name       Queue
	DeadLetter *Binding
}

// Binding — привязка очереди к обменнику.
type Binding struct {
	Queue      Queue
	RoutingKey RoutingKey
	Exchange   Exchange
}

// Topology — полный набор объектов брокера, которые ожидает Ensemble.
// Все объекты durable.
type Topology struct {
	Exchanges []ExchangeSpec
	Queues    []QueueSpec
	Bindings  []Binding
}

// DefaultTopology описывает маршруты runs и событий:
//
//	ensemble.runs (direct)    pending -> runs.pending (DLQ: dlq.runs)
//	                          completed -> runs.completed
//	ensemble.events (topic)   очереди подписчиков агента publish
//	ensemble.dlq (direct)     runs -> dlq.runs
func DefaultTopology() Topology {
	dlq := Binding{Queue: QueueDLQRuns, RoutingKey: RoutingKeyDLQRuns, Exchange: ExchangeDLQ}
	return Topology{
		Exchanges: []ExchangeSpec{
			{ExchangeRuns, amqp.ExchangeDirect},
			{ExchangeEvents, amqp.ExchangeTopic},
			{ExchangeDLQ, amqp.ExchangeDirect},
		},
		Queues: []QueueSpec{
			{Name: QueueRunsPending, DeadLetter: &dlq},
			{Name: QueueRunsCompleted},
			{Name: QueueDLQRuns},
		},
		Bindings: []Binding{
			{QueueRunsPending, RoutingKeyPending, ExchangeRuns},
			{QueueRunsCompleted, RoutingKeyCompleted, ExchangeRuns},
			dlq,
		},
	}
}

// Bindings возвращает привязки топологии по умолчанию.
func Bindings() []Binding {
	return DefaultTopology().Bindings
}

// SetupTopology объявляет топологию по умолчанию.
// Идемпотентно: вызывается каждым процессом при старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, DefaultTopology().Declare)
}

// Declare объявляет обменники, очереди и привязки на канале ch.
func (t Topology) Declare(ch *amqp.Channel) error {
	for _, ex := range t.Exchanges {
		if err := ch.ExchangeDeclare(string(ex.Name), ex.Kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.Name, err)
		}
	}
	for _, q := range t.Queues {
		if _, err := ch.QueueDeclare(string(q.Name), true, false, false, false, q.args()); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}
	}
	for _, b := range t.Bindings {
		if err := ch.QueueBind(string(b.Queue), string(b.RoutingKey), string(b.Exchange), false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", b.Queue, b.Exchange, err)
		}
	}
	return nil
}

func (q QueueSpec) args() amqp.Table {
	if q.DeadLetter == nil {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    string(q.DeadLetter.Exchange),
		"x-dead-letter-routing-key": string(q.DeadLetter.RoutingKey),
	}
}
