package engine

// Context — контекст выполнения одного run.
//
// Пространства имён, доступные в выражениях:
//   - input  — входные данные run (не меняются)
//   - env    — внешняя конфигурация и секреты (только чтение)
//   - output — результат маппинга output (заполняется в конце run)
//   - steps / state — результаты завершённых шагов по id
//   - item, index, error, results, iteration — переменные области видимости
//
// Каждый завершённый шаг также доступен по своему id: {{ fetch.output }}.
type Context struct {
	Input  map[string]any
	Env    map[string]any
	Output map[string]any

	steps *stepTable
	scope map[string]any
}

// stepTable — результаты шагов в порядке добавления.
type stepTable struct {
	values map[string]any
	order  []string

	// written — id, записанные через эту таблицу; только их переносит Adopt.
	written map[string]bool
	fresh   []string
}

// StepResult — представление результата шага в контексте.
type StepResult struct {
	Output   any
	Status   string
	Cached   bool
	Attempts int
}

func (r StepResult) view() map[string]any {
	return map[string]any{
		"output":   r.Output,
		"status":   r.Status,
		"cached":   r.Cached,
		"attempts": r.Attempts,
	}
}

// NewContext создаёт контекст с входными данными и окружением.
func NewContext(input, env map[string]any) *Context {
	if input == nil {
		input = make(map[string]any)
	}
	if env == nil {
		env = make(map[string]any)
	}
	return &Context{
		Input:  input,
		Env:    env,
		Output: make(map[string]any),
		steps:  &stepTable{values: make(map[string]any), written: make(map[string]bool)},
		scope:  make(map[string]any),
	}
}

// AddStepResult добавляет результат шага в контекст.
// Повторное добавление (итерации while) перезаписывает значение.
func (c *Context) AddStepResult(stepID string, result StepResult) {
	c.steps.put(stepID, result.view())
}

func (t *stepTable) put(stepID string, view any) {
	if _, exists := t.values[stepID]; !exists {
		t.order = append(t.order, stepID)
	}
	if !t.written[stepID] {
		t.written[stepID] = true
		t.fresh = append(t.fresh, stepID)
	}
	t.values[stepID] = view
}

// StepOutput возвращает output шага или Undefined.
func (c *Context) StepOutput(stepID string) any {
	view, ok := c.steps.values[stepID]
	if !ok {
		return Undefined
	}
	return member(view, "output")
}

// HasStep проверяет, есть ли результат шага.
func (c *Context) HasStep(stepID string) bool {
	_, ok := c.steps.values[stepID]
	return ok
}

// StepIDs возвращает id шагов в порядке добавления.
func (c *Context) StepIDs() []string {
	out := make([]string, len(c.steps.order))
	copy(out, c.steps.order)
	return out
}

// Steps возвращает представления результатов шагов.
func (c *Context) Steps() map[string]any {
	return c.steps.values
}

// SetEnv устанавливает переменную окружения.
func (c *Context) SetEnv(key string, value any) {
	c.Env[key] = value
}

// Var возвращает переменную области видимости.
func (c *Context) Var(name string) (any, bool) {
	v, ok := c.scope[name]
	return v, ok
}

// WithScope возвращает контекст с дополнительными переменными.
// Результаты шагов общие с родителем.
func (c *Context) WithScope(vars map[string]any) *Context {
	scope := make(map[string]any, len(c.scope)+len(vars))
	for k, v := range c.scope {
		scope[k] = v
	}
	for k, v := range vars {
		scope[k] = v
	}
	return &Context{
		Input:  c.Input,
		Env:    c.Env,
		Output: c.Output,
		steps:  c.steps,
		scope:  scope,
	}
}

// Fork возвращает изолированную копию для параллельной ветки.
// Ветка видит всё, что было до развилки; её результаты попадают
// в родителя только через Adopt.
func (c *Context) Fork() *Context {
	values := make(map[string]any, len(c.steps.values))
	for k, v := range c.steps.values {
		values[k] = v
	}
	order := make([]string, len(c.steps.order))
	copy(order, c.steps.order)

	child := c.WithScope(nil)
	child.steps = &stepTable{values: values, order: order, written: make(map[string]bool)}
	return child
}

// Adopt переносит в контекст результаты, добавленные в ветке после Fork.
func (c *Context) Adopt(child *Context) {
	for _, id := range child.steps.fresh {
		c.steps.put(id, child.steps.values[id])
	}
}

// Lookup реализует Scope.
func (c *Context) Lookup(name string) (any, bool) {
	if v, ok := c.scope[name]; ok {
		return v, true
	}
	switch name {
	case "input":
		return c.Input, true
	case "env":
		return c.Env, true
	case "output":
		return c.Output, true
	case "steps", "state":
		return c.steps.values, true
	}
	if v, ok := c.steps.values[name]; ok {
		return v, true
	}
	return nil, false
}
