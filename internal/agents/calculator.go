package agents

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Идентификаторы встроенных агентов.
const (
	AgentCalculator = "calculator"
	AgentTransform  = "transform"
	AgentDelay      = "delay"
	AgentHTTP       = "http"
	AgentExpr       = "expr"
	AgentPublish    = "publish"
)

// ErrDivisionByZero — деление или остаток от деления на ноль.
var ErrDivisionByZero = errors.New("division by zero")

// Calculator — арифметический агент.
//
// Вход:
//
//	{"a": 10, "op": "multiply", "b": 2}
//
// Output: число (float64).
type Calculator struct{}

type calculatorInput struct {
	A  float64 `json:"a"`
	Op string  `json:"op" default:"add" validate:"oneof=add subtract multiply divide modulo power"`
	B  float64 `json:"b"`
}

// NewCalculator создаёт новый Calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Execute вычисляет a op b.
func (c *Calculator) Execute(ctx context.Context, req *Request) (any, error) {
	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}

	var in calculatorInput
	if err := Decode(req.InputMap(), &in); err != nil {
		return nil, fmt.Errorf("%s: %w", AgentCalculator, err)
	}

	return Calculate(in.A, in.Op, in.B)
}

// Calculate применяет операцию к двум числам.
func Calculate(a float64, op string, b float64) (float64, error) {
	switch op {
	case "add":
		return a + b, nil
	case "subtract":
		return a - b, nil
	case "multiply":
		return a * b, nil
	case "divide":
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	case "modulo":
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return math.Mod(a, b), nil
	case "power":
		return math.Pow(a, b), nil
	default:
		return 0, fmt.Errorf("%w: unknown operation %q", ErrInvalidInput, op)
	}
}
