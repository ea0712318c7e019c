package agents

import (
	"context"
	"fmt"

	"github.com/shaiso/Ensemble/internal/engine"
)

// Transform — агент преобразования данных.
//
// Плейсхолдеры во входе уже разрешены, поэтому в простом случае агент
// возвращает поле value или весь вход целиком:
//
//	{"value": "{{ fetch.output.items }}"}
//
// Поле mappings задаёт выражения без разделителей, которые вычисляются
// против контекста выполнения:
//
//	{
//	    "mappings": {
//	        "total": "fetch.output.items.length",
//	        "first": "fetch.output.items[0] ?? 'none'"
//	    }
//	}
type Transform struct{}

// NewTransform создаёт новый Transform.
func NewTransform() *Transform {
	return &Transform{}
}

// Execute выполняет преобразование.
func (t *Transform) Execute(ctx context.Context, req *Request) (any, error) {
	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}

	in := req.InputMap()

	raw, ok := in["mappings"]
	if !ok {
		if v, ok := in["value"]; ok {
			return v, nil
		}
		return in, nil
	}

	mappings, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: %w: mappings must be an object", AgentTransform, ErrInvalidInput)
	}

	scope := req.Context
	if scope == nil {
		scope = engine.NewContext(nil, nil)
	}

	outputs := make(map[string]any, len(mappings))
	for key, m := range mappings {
		src, ok := m.(string)
		if !ok {
			// Уже разрешённое значение
			outputs[key] = m
			continue
		}
		v, err := engine.Evaluate(src, scope)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", AgentTransform, key, err)
		}
		outputs[key] = engine.Normalize(v)
	}

	return outputs, nil
}
