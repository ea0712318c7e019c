package agents

import (
	"fmt"
	"sort"
	"sync"
)

// Registry — реестр агентов по идентификатору.
//
// Строится один раз на процесс и передаётся исполнителю явно.
// Один агент может быть зарегистрирован под несколькими id
// (например, "double" и "add22" — оба калькулятор). Потокобезопасен.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]Agent),
	}
}

// DefaultRegistry создаёт реестр со всеми встроенными агентами,
// кроме publish, которому нужен брокер.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(AgentCalculator, NewCalculator())
	r.Register(AgentTransform, NewTransform())
	r.Register(AgentDelay, NewDelay())
	r.Register(AgentHTTP, NewHTTP())
	r.Register(AgentExpr, NewExpr())

	return r
}

// Register регистрирует агента под id.
// Если агент с таким id уже существует, он будет перезаписан.
func (r *Registry) Register(id string, agent Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[id] = agent
}

// Alias регистрирует уже существующего агента под новым id.
func (r *Registry) Alias(alias, id string) error {
	agent, err := r.Get(id)
	if err != nil {
		return err
	}
	r.Register(alias, agent)
	return nil
}

// Get возвращает агента по id.
// Возвращает ErrAgentNotFound, если агент не найден.
func (r *Registry) Get(id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	return agent, nil
}

// Has проверяет, зарегистрирован ли агент.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.agents[id]
	return exists
}

// IDs возвращает отсортированный список идентификаторов.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count возвращает количество зарегистрированных агентов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Unregister удаляет агента из реестра.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}
