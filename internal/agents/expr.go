package agents

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Expr — агент вычисления программы expr-lang.
//
// В отличие от встроенного языка выражений, здесь доступны функции
// (len, filter, map, sum и т.д.). Переменные программы: input, env,
// результаты шагов по id и поле vars из входа.
//
// Вход:
//
//	{
//	    "expression": "sum(map(fetch.output.items, .price))",
//	    "vars": {"rate": 1.2}
//	}
type Expr struct {
	programs *lru.Cache[string, *vm.Program]
}

type exprInput struct {
	Expression string         `json:"expression" validate:"required"`
	Vars       map[string]any `json:"vars"`
}

// NewExpr создаёт новый Expr агент.
func NewExpr() *Expr {
	programs, _ := lru.New[string, *vm.Program](256)
	return &Expr{programs: programs}
}

// Execute компилирует и выполняет программу.
func (e *Expr) Execute(ctx context.Context, req *Request) (any, error) {
	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}

	var in exprInput
	if err := Decode(req.InputMap(), &in); err != nil {
		return nil, fmt.Errorf("%s: %w", AgentExpr, err)
	}

	env := make(map[string]any)
	if req.Context != nil {
		for id, view := range req.Context.Steps() {
			env[id] = view
		}
		env["input"] = req.Context.Input
		env["env"] = req.Context.Env
	}
	for k, v := range in.Vars {
		env[k] = v
	}

	program, err := e.compile(in.Expression)
	if err != nil {
		return nil, fmt.Errorf("%s: compile: %w", AgentExpr, err)
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("%s: run: %w", AgentExpr, err)
	}
	return out, nil
}

func (e *Expr) compile(src string) (*vm.Program, error) {
	if p, ok := e.programs.Get(src); ok {
		return p, nil
	}
	p, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	e.programs.Add(src, p)
	return p, nil
}
