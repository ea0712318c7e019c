package agents

import (
	"context"
	"fmt"
)

// EventPublisher публикует события ансамбля во внешний брокер.
// Реализуется mq.Publisher.
type EventPublisher interface {
	PublishEvent(ctx context.Context, routingKey string, payload any) error
}

// Publish — агент публикации события.
//
// Вход:
//
//	{
//	    "routing_key": "orders.created",
//	    "payload": {"id": "{{ create.output.id }}"}
//	}
//
// Output: {"routing_key": "...", "published": true}
type Publish struct {
	publisher EventPublisher
}

type publishInput struct {
	RoutingKey string `json:"routing_key" validate:"required"`
	Payload    any    `json:"payload"`
}

// NewPublish создаёт агент публикации.
func NewPublish(publisher EventPublisher) *Publish {
	return &Publish{publisher: publisher}
}

// Execute публикует payload.
func (p *Publish) Execute(ctx context.Context, req *Request) (any, error) {
	var in publishInput
	if err := Decode(req.InputMap(), &in); err != nil {
		return nil, fmt.Errorf("%s: %w", AgentPublish, err)
	}

	if err := p.publisher.PublishEvent(ctx, in.RoutingKey, in.Payload); err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, fmt.Errorf("%s: %w", AgentPublish, err)
	}

	return map[string]any{
		"routing_key": in.RoutingKey,
		"published":   true,
	}, nil
}
