package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/engine"
	"github.com/shaiso/Ensemble/internal/worker"
	"golang.org/x/sync/errgroup"
)

// execSteps выполняет шаги строго по порядку.
// Возвращает output последнего выполненного (не пропущенного) шага.
func (o *Orchestrator) execSteps(ctx context.Context, state *RunState, steps []domain.FlowStep, parent string, ec *engine.Context) (any, error) {
	last := engine.Undefined
	for i := range steps {
		step := &steps[i]
		if err := ctx.Err(); err != nil {
			return nil, domain.NewStepError(domain.KindCancelled, step.StepID(), err)
		}

		out := o.execStep(ctx, state, step, parent, ec)
		switch out.Status {
		case domain.StepStatusFailed:
			return nil, out.Err
		case domain.StepStatusSkipped:
			continue
		default:
			last = valueOf(out)
		}
	}
	return last, nil
}

// execStep выполняет один шаг любого варианта и записывает результат
// в контекст и журнал.
func (o *Orchestrator) execStep(ctx context.Context, state *RunState, step *domain.FlowStep, parent string, ec *engine.Context) domain.Outcome {
	start := time.Now()
	id := step.StepID()
	path := joinPath(parent, id)

	var out domain.Outcome
	ok, err := engine.RenderCondition(step.When, ec)
	switch {
	case err != nil:
		out = domain.Failure(domain.NewStepError(domain.KindExpression, id, err))
	case !ok:
		out = domain.Skipped()
	case step.Kind() == domain.StepTypeAgent:
		out = o.dispatcher.Dispatch(ctx, worker.Call{
			RunID:    state.RunID().String(),
			Step:     step,
			Context:  ec,
			Defaults: state.Defaults(),
		})
	case step.Timeout != nil:
		// Брошенный по дедлайну контейнер пишет только в свою копию
		fork := ec.Fork()
		var expired bool
		out, expired = o.dispatcher.WithTimeout(ctx, id, step.Timeout, ec, func(ctx context.Context) domain.Outcome {
			return o.execContainer(ctx, state, step, path, fork)
		})
		if !expired {
			ec.Adopt(fork)
		}
	default:
		out = o.execContainer(ctx, state, step, path, ec)
	}
	out.Duration = time.Since(start)

	o.complete(ctx, state, step, path, ec, out, start)
	return out
}

// complete публикует результат шага: контекст, журнал, хранилище, метрики, лог.
func (o *Orchestrator) complete(ctx context.Context, state *RunState, step *domain.FlowStep, path string, ec *engine.Context, out domain.Outcome, start time.Time) {
	id := step.StepID()
	ec.AddStepResult(id, engine.StepResult{
		Output:   valueOf(out),
		Status:   string(out.Status),
		Cached:   out.Cached,
		Attempts: out.Attempts,
	})

	rec := domain.StepRecord{
		StepID:     id,
		Path:       path,
		Type:       step.Kind(),
		Agent:      step.Agent,
		Status:     out.Status,
		Attempts:   out.Attempts,
		Cached:     out.Cached,
		Error:      domain.ToRunError(out.Err, id),
		StartedAt:  start,
		FinishedAt: start.Add(out.Duration),
	}
	if v := valueOf(out); !engine.IsUndefined(v) {
		rec.Output = engine.Normalize(v)
	}
	rec = state.Record(rec)

	if o.steps != nil {
		if err := o.steps.AppendStep(context.WithoutCancel(ctx), &rec); err != nil {
			o.logger.Error("failed to append step record", "run_id", rec.RunID, "path", path, "error", err)
		}
	}

	o.metrics.StepFinished(string(rec.Type), string(out.Status), out.Duration)

	logger := o.logger.With("run_id", rec.RunID, "step_id", id, "path", path)
	if out.Failed() {
		logger.Warn("step failed", "type", rec.Type, "kind", rec.Error.Kind, "error", rec.Error.Message)
		return
	}
	logger.Debug("step finished", "type", rec.Type, "status", out.Status, "duration", out.Duration)
}

// execContainer выполняет шаг-контейнер.
func (o *Orchestrator) execContainer(ctx context.Context, state *RunState, step *domain.FlowStep, path string, ec *engine.Context) domain.Outcome {
	switch step.Kind() {
	case domain.StepTypeSequence:
		return outcomeOf(o.execSteps(ctx, state, step.Steps, path, ec))
	case domain.StepTypeParallel:
		return o.execParallel(ctx, state, step, path, ec)
	case domain.StepTypeBranch:
		return o.execBranch(ctx, state, step, path, ec)
	case domain.StepTypeTry:
		return o.execTry(ctx, state, step, path, ec)
	case domain.StepTypeForeach:
		return o.execForeach(ctx, state, step, path, ec)
	case domain.StepTypeWhile:
		return o.execWhile(ctx, state, step, path, ec)
	case domain.StepTypeSwitch:
		return o.execSwitch(ctx, state, step, path, ec)
	case domain.StepTypeMapReduce:
		return o.execMapReduce(ctx, state, step, path, ec)
	default:
		return domain.Failure(domain.NewStepError(domain.KindValidation, step.StepID(),
			fmt.Errorf("%w: %s", engine.ErrUnknownStepType, step.Kind())))
	}
}

// execParallel выполняет ветки одновременно, каждую на своей копии контекста.
//
// Падение одной ветки не отменяет остальные: ждём все, переносим
// результаты каждой ветки в порядке объявления и возвращаем первую
// по порядку объявления ошибку. Output — map id ветки → output.
func (o *Orchestrator) execParallel(ctx context.Context, state *RunState, step *domain.FlowStep, path string, ec *engine.Context) domain.Outcome {
	branches := step.Steps
	forks := make([]*engine.Context, len(branches))
	for i := range branches {
		forks[i] = ec.Fork()
	}

	outs := make([]domain.Outcome, len(branches))
	var g errgroup.Group
	if limit := o.limit(step); limit > 0 {
		g.SetLimit(limit)
	}
	for i := range branches {
		g.Go(func() error {
			outs[i] = o.execStep(ctx, state, &branches[i], path, forks[i])
			return nil
		})
	}
	_ = g.Wait()

	result := make(map[string]any, len(branches))
	var firstErr error
	for i := range branches {
		ec.Adopt(forks[i])
		if outs[i].Failed() {
			if firstErr == nil {
				firstErr = outs[i].Err
			}
			continue
		}
		key := branches[i].StepID()
		if key == "" {
			key = strconv.Itoa(i)
		}
		result[key] = valueOf(outs[i])
	}

	if firstErr != nil {
		return domain.Failure(firstErr)
	}
	return domain.Success(result)
}

// execBranch выполняет then или else по условию.
// Ложное условие без else — SKIPPED.
func (o *Orchestrator) execBranch(ctx context.Context, state *RunState, step *domain.FlowStep, path string, ec *engine.Context) domain.Outcome {
	ok, err := engine.RenderCondition(step.Condition, ec)
	if err != nil {
		return domain.Failure(domain.NewStepError(domain.KindExpression, step.StepID(), err))
	}

	steps := step.Then
	if !ok {
		steps = step.Else
	}
	if len(steps) == 0 {
		return domain.Skipped()
	}
	return outcomeOf(o.execSteps(ctx, state, steps, path, ec))
}

// execTry выполняет steps; при ошибке — catch с переменной error,
// затем всегда finally. Ошибка finally заменяет результат.
// Отмена run не перехватывается.
func (o *Orchestrator) execTry(ctx context.Context, state *RunState, step *domain.FlowStep, path string, ec *engine.Context) domain.Outcome {
	value, err := o.execSteps(ctx, state, step.Steps, path, ec)

	if err != nil && len(step.Catch) > 0 && ctx.Err() == nil && domain.KindOf(err) != domain.KindCancelled {
		caught := domain.ToRunError(err, step.StepID())
		scope := ec.WithScope(map[string]any{
			"error": map[string]any{
				"message": caught.Message,
				"kind":    string(caught.Kind),
				"step":    caught.StepID,
			},
		})
		value, err = o.execSteps(ctx, state, step.Catch, path, scope)
	}

	if len(step.Finally) > 0 {
		if _, ferr := o.execSteps(ctx, state, step.Finally, path, ec); ferr != nil {
			err = ferr
		}
	}

	return outcomeOf(value, err)
}

// execForeach выполняет шаблон шага для каждого элемента последовательно.
// Output — список output итераций.
func (o *Orchestrator) execForeach(ctx context.Context, state *RunState, step *domain.FlowStep, path string, ec *engine.Context) domain.Outcome {
	items, out, ok := o.items(step, ec)
	if !ok {
		return out
	}

	results := make([]any, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return domain.Failure(domain.NewStepError(domain.KindCancelled, step.StepID(), err))
		}

		scope := ec.WithScope(map[string]any{step.ItemVar(): item, "index": i})
		res := o.execStep(ctx, state, step.Step, iterPath(path, i), scope)
		if res.Failed() {
			return domain.Failure(res.Err)
		}
		results = append(results, valueOf(res))
	}
	return domain.Success(results)
}

// execWhile выполняет тело, пока условие истинно.
// Если после max_iterations тел условие всё ещё истинно — LoopBoundExceededError.
func (o *Orchestrator) execWhile(ctx context.Context, state *RunState, step *domain.FlowStep, path string, ec *engine.Context) domain.Outcome {
	id := step.StepID()
	results := make([]any, 0)

	for iteration := 0; ; iteration++ {
		scope := ec.WithScope(map[string]any{"iteration": iteration})
		ok, err := engine.RenderCondition(step.Condition, scope)
		if err != nil {
			return domain.Failure(domain.NewStepError(domain.KindExpression, id, err))
		}
		if !ok {
			break
		}
		if iteration >= step.MaxIterations {
			return domain.Failure(&domain.StepError{
				Kind:    domain.KindLoopBoundExceeded,
				StepID:  id,
				Message: fmt.Sprintf("condition still true after %d iterations", step.MaxIterations),
			})
		}
		if err := ctx.Err(); err != nil {
			return domain.Failure(domain.NewStepError(domain.KindCancelled, id, err))
		}

		value, err := o.execSteps(ctx, state, step.Steps, iterPath(path, iteration), scope)
		if err != nil {
			return domain.Failure(err)
		}
		results = append(results, value)
	}

	return domain.Success(results)
}

// execSwitch выбирает ветку по строковому значению выражения.
// Нет совпадения и нет default — SKIPPED.
func (o *Orchestrator) execSwitch(ctx context.Context, state *RunState, step *domain.FlowStep, path string, ec *engine.Context) domain.Outcome {
	raw, err := engine.Evaluate(step.Value, ec)
	if err != nil {
		return domain.Failure(domain.NewStepError(domain.KindExpression, step.StepID(), err))
	}

	steps, ok := step.Cases[engine.Stringify(raw)]
	if !ok {
		steps = step.Default
	}
	if len(steps) == 0 {
		return domain.Skipped()
	}
	return outcomeOf(o.execSteps(ctx, state, steps, path, ec))
}

// execMapReduce выполняет шаблон map для каждого элемента одновременно,
// затем reduce с упорядоченными результатами в переменной results.
// Результаты map-веток в контекст не переносятся.
func (o *Orchestrator) execMapReduce(ctx context.Context, state *RunState, step *domain.FlowStep, path string, ec *engine.Context) domain.Outcome {
	items, out, ok := o.items(step, ec)
	if !ok {
		return out
	}

	scopes := make([]*engine.Context, len(items))
	for i, item := range items {
		scopes[i] = ec.Fork().WithScope(map[string]any{step.ItemVar(): item, "index": i})
	}

	outs := make([]domain.Outcome, len(items))
	var g errgroup.Group
	if limit := o.limit(step); limit > 0 {
		g.SetLimit(limit)
	}
	for i := range items {
		g.Go(func() error {
			outs[i] = o.execStep(ctx, state, step.Map, iterPath(path, i), scopes[i])
			return nil
		})
	}
	_ = g.Wait()

	results := make([]any, len(items))
	for i := range outs {
		if outs[i].Failed() {
			return domain.Failure(outs[i].Err)
		}
		results[i] = valueOf(outs[i])
	}

	reduced := o.execStep(ctx, state, step.Reduce, path, ec.WithScope(map[string]any{"results": results}))
	if reduced.Failed() {
		return domain.Failure(reduced.Err)
	}
	return domain.Success(valueOf(reduced))
}

// items вычисляет выражение items шага. ok == false — out содержит ошибку.
func (o *Orchestrator) items(step *domain.FlowStep, ec *engine.Context) (items []any, out domain.Outcome, ok bool) {
	raw, err := engine.Evaluate(step.Items, ec)
	if err != nil {
		return nil, domain.Failure(domain.NewStepError(domain.KindExpression, step.StepID(), err)), false
	}
	items, ok = engine.ToList(raw)
	if !ok {
		return nil, domain.Failure(domain.NewStepError(domain.KindExpression, step.StepID(),
			fmt.Errorf("%w: got %T", ErrItemsNotList, raw))), false
	}
	return items, domain.Outcome{}, true
}

// limit возвращает ограничение одновременных веток шага.
func (o *Orchestrator) limit(step *domain.FlowStep) int {
	if step.MaxConcurrency > 0 {
		return step.MaxConcurrency
	}
	return o.maxParallel
}

// valueOf возвращает output шага для контекста: undefined для failure и skipped.
func valueOf(out domain.Outcome) any {
	switch out.Status {
	case domain.StepStatusFailed, domain.StepStatusSkipped:
		return engine.Undefined
	}
	return out.Value
}

func outcomeOf(value any, err error) domain.Outcome {
	if err != nil {
		return domain.Failure(err)
	}
	return domain.Success(value)
}

func joinPath(parent, id string) string {
	if parent == "" {
		return id
	}
	return parent + "." + id
}

func iterPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}
