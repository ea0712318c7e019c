package domain

import "sort"

// Ensemble — декларативное описание многошагового процесса.
//
// Ensemble — это "рецепт": дерево шагов (FlowStep), каждый из которых
// вызывает агента или управляет порядком выполнения вложенных шагов.
// Входы и выходы шагов связываются выражениями {{...}} / ${...}.
type Ensemble struct {
	// Name — уникальное имя ensemble (например, "calc", "sync-orders").
	Name string `json:"name" yaml:"name"`

	// Version — версия описания (для истории и хранения в БД).
	Version int `json:"version,omitempty" yaml:"version,omitempty"`

	// Description — описание назначения.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Inputs — описание входных параметров.
	// Ключ — имя параметра, значение — его определение.
	Inputs map[string]InputDef `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// Defaults — настройки по умолчанию для agent-шагов.
	Defaults *StepDefaults `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	// Flow — список шагов верхнего уровня (неявный sequence).
	Flow []FlowStep `json:"flow" yaml:"flow"`

	// Output — маппинг результата; выражения вычисляются по финальному контексту.
	Output map[string]any `json:"output,omitempty" yaml:"output,omitempty"`

	// Triggers — способы запуска (http, cron, queue).
	Triggers []Trigger `json:"triggers,omitempty" yaml:"triggers,omitempty"`

	// TimeoutMs — общий таймаут run в миллисекундах (0 — без ограничения).
	TimeoutMs int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// InputDef — определение входного параметра.
type InputDef struct {
	// Type — тип параметра: "string", "number", "boolean", "object", "array".
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// Required — обязательный ли параметр.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Default — значение по умолчанию.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`

	// Description — описание параметра.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// StepDefaults — настройки по умолчанию для agent-шагов.
type StepDefaults struct {
	Retry   *RetryPolicy   `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeout *TimeoutPolicy `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// StepType — вариант шага.
type StepType string

const (
	StepTypeAgent     StepType = "agent"
	StepTypeSequence  StepType = "sequence"
	StepTypeParallel  StepType = "parallel"
	StepTypeBranch    StepType = "branch"
	StepTypeTry       StepType = "try"
	StepTypeForeach   StepType = "foreach"
	StepTypeWhile     StepType = "while"
	StepTypeSwitch    StepType = "switch"
	StepTypeMapReduce StepType = "map_reduce"
)

// StepTypes возвращает все известные варианты шагов.
func StepTypes() []StepType {
	return []StepType{
		StepTypeAgent, StepTypeSequence, StepTypeParallel, StepTypeBranch,
		StepTypeTry, StepTypeForeach, StepTypeWhile, StepTypeSwitch, StepTypeMapReduce,
	}
}

// IsValid проверяет, что тип известен.
func (t StepType) IsValid() bool {
	for _, known := range StepTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// FlowStep — узел дерева выполнения.
//
// Набор заполненных полей зависит от Type:
//
//	agent      — Agent, Input
//	sequence   — Steps
//	parallel   — Steps, MaxConcurrency
//	branch     — Condition, Then, Else
//	try        — Steps, Catch, Finally
//	foreach    — Items, Step, As
//	while      — Condition, MaxIterations, Steps
//	switch     — Value, Cases, Default
//	map_reduce — Items, Map, Reduce, MaxConcurrency
//
// Модификаторы Timeout и When применимы к любому шагу, Retry и Cache — только к agent.
type FlowStep struct {
	// ID — идентификатор шага; по нему другие шаги ссылаются на результат.
	// Для agent-шага по умолчанию совпадает с Agent.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Name — человекочитаемое имя шага.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type — вариант шага. Пустой Type при заданном Agent означает agent.
	Type StepType `json:"type,omitempty" yaml:"type,omitempty"`

	// Agent — id агента в реестре.
	Agent string `json:"agent,omitempty" yaml:"agent,omitempty"`

	// Input — конфигурация агента; может содержать выражения на любой глубине.
	Input any `json:"input,omitempty" yaml:"input,omitempty"`

	// Steps — вложенные шаги (sequence, parallel, try, while).
	Steps []FlowStep `json:"steps,omitempty" yaml:"steps,omitempty"`

	// Condition — условие для branch и while.
	Condition string     `json:"condition,omitempty" yaml:"condition,omitempty"`
	Then      []FlowStep `json:"then,omitempty" yaml:"then,omitempty"`
	Else      []FlowStep `json:"else,omitempty" yaml:"else,omitempty"`

	Catch   []FlowStep `json:"catch,omitempty" yaml:"catch,omitempty"`
	Finally []FlowStep `json:"finally,omitempty" yaml:"finally,omitempty"`

	// Items — выражение, возвращающее список (foreach, map_reduce).
	Items string `json:"items,omitempty" yaml:"items,omitempty"`

	// Step — шаблон шага, выполняемый для каждого элемента (foreach).
	Step *FlowStep `json:"step,omitempty" yaml:"step,omitempty"`

	// As — имя переменной текущего элемента. По умолчанию "item".
	As string `json:"as,omitempty" yaml:"as,omitempty"`

	// MaxIterations — обязательный предел итераций while.
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`

	// Value — выражение для switch.
	Value   string                `json:"value,omitempty" yaml:"value,omitempty"`
	Cases   map[string][]FlowStep `json:"cases,omitempty" yaml:"cases,omitempty"`
	Default []FlowStep            `json:"default,omitempty" yaml:"default,omitempty"`

	Map    *FlowStep `json:"map,omitempty" yaml:"map,omitempty"`
	Reduce *FlowStep `json:"reduce,omitempty" yaml:"reduce,omitempty"`

	// MaxConcurrency — ограничение одновременных веток (0 — без ограничения).
	MaxConcurrency int `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`

	// When — guard: если выражение ложно, шаг пропускается (SKIPPED).
	When string `json:"when,omitempty" yaml:"when,omitempty"`

	Retry   *RetryPolicy   `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeout *TimeoutPolicy `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Cache   *CachePolicy   `json:"cache,omitempty" yaml:"cache,omitempty"`
}

// Kind возвращает вариант шага с учётом значения по умолчанию.
func (s *FlowStep) Kind() StepType {
	if s.Type == "" && s.Agent != "" {
		return StepTypeAgent
	}
	return s.Type
}

// StepID возвращает идентификатор шага (ID или, для agent-шага, id агента).
func (s *FlowStep) StepID() string {
	if s.ID != "" {
		return s.ID
	}
	if s.Kind() == StepTypeAgent {
		return s.Agent
	}
	return ""
}

// ItemVar возвращает имя переменной текущего элемента foreach/map_reduce.
func (s *FlowStep) ItemVar() string {
	if s.As != "" {
		return s.As
	}
	return "item"
}

// Children возвращает все вложенные шаги в порядке объявления.
// Для switch ветки cases обходятся в порядке отсортированных ключей.
func (s *FlowStep) Children() []*FlowStep {
	var out []*FlowStep
	add := func(list []FlowStep) {
		for i := range list {
			out = append(out, &list[i])
		}
	}

	add(s.Steps)
	add(s.Then)
	add(s.Else)
	add(s.Catch)
	add(s.Finally)
	if s.Step != nil {
		out = append(out, s.Step)
	}
	for _, key := range s.CaseKeys() {
		add(s.Cases[key])
	}
	add(s.Default)
	if s.Map != nil {
		out = append(out, s.Map)
	}
	if s.Reduce != nil {
		out = append(out, s.Reduce)
	}
	return out
}

// CaseKeys возвращает ключи Cases в стабильном порядке.
func (s *FlowStep) CaseKeys() []string {
	keys := make([]string, 0, len(s.Cases))
	for k := range s.Cases {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RetryPolicy — политика повторных попыток.
type RetryPolicy struct {
	// Attempts — количество повторов после первой попытки.
	// attempts: 2 означает до трёх вызовов агента.
	Attempts int `json:"attempts" yaml:"attempts"`

	// Backoff — стратегия задержки: "exponential" (по умолчанию), "fixed", "linear".
	Backoff string `json:"backoff,omitempty" yaml:"backoff,omitempty"`

	// InitialDelayMs — базовая задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty"`

	// MaxDelayMs — потолок задержки в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
}

// TimeoutPolicy — ограничение времени выполнения шага.
type TimeoutPolicy struct {
	// DurationMs — дедлайн в миллисекундах.
	DurationMs int `json:"duration_ms" yaml:"duration_ms"`

	// Fallback — значение, которое становится результатом шага при истечении дедлайна.
	Fallback any `json:"fallback,omitempty" yaml:"fallback,omitempty"`

	// Error — считать ли истечение без fallback ошибкой. По умолчанию true.
	Error *bool `json:"error,omitempty" yaml:"error,omitempty"`
}

// HasFallback возвращает true, если задано fallback значение.
func (p *TimeoutPolicy) HasFallback() bool {
	return p.Fallback != nil
}

// IsHard возвращает true, если истечение без fallback — ошибка.
func (p *TimeoutPolicy) IsHard() bool {
	return p.Error == nil || *p.Error
}

// CachePolicy — кэширование результата agent-шага по отпечатку входа.
type CachePolicy struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// TTLSec — время жизни записи; 0 — значение по умолчанию кэша.
	TTLSec int `json:"ttl_sec,omitempty" yaml:"ttl_sec,omitempty"`
}
