package engine

import "fmt"

// Resolver — обработчик одного вида значений конфигурации.
//
// Chain выбирает первый Resolver, у которого CanHandle вернул true.
// Вложенные значения Resolver передаёт обратно в chain.
type Resolver interface {
	CanHandle(value any) bool
	Resolve(value any, s Scope, chain *Chain) (any, error)
}

// Chain — упорядоченный список резолверов.
type Chain struct {
	resolvers []Resolver
}

// DefaultResolvers возвращает встроенные резолверы в порядке приоритета:
// строка с плейсхолдером → список → map → всё остальное как есть.
func DefaultResolvers() []Resolver {
	return []Resolver{
		StringResolver{},
		ListResolver{},
		MapResolver{},
		PassthroughResolver{},
	}
}

// NewChain создаёт цепочку: пользовательские резолверы идут перед встроенными.
func NewChain(custom ...Resolver) *Chain {
	resolvers := make([]Resolver, 0, len(custom)+4)
	resolvers = append(resolvers, custom...)
	resolvers = append(resolvers, DefaultResolvers()...)
	return &Chain{resolvers: resolvers}
}

// Prepend возвращает новую цепочку с резолверами перед текущими.
func (c *Chain) Prepend(resolvers ...Resolver) *Chain {
	out := make([]Resolver, 0, len(resolvers)+len(c.resolvers))
	out = append(out, resolvers...)
	out = append(out, c.resolvers...)
	return &Chain{resolvers: out}
}

// Resolvers возвращает резолверы в порядке приоритета.
func (c *Chain) Resolvers() []Resolver {
	out := make([]Resolver, len(c.resolvers))
	copy(out, c.resolvers)
	return out
}

// Resolve рекурсивно вычисляет все выражения внутри value.
func (c *Chain) Resolve(value any, s Scope) (any, error) {
	for _, r := range c.resolvers {
		if r.CanHandle(value) {
			return r.Resolve(value, s, c)
		}
	}
	return value, nil
}

// ResolveMap — обёртка над Resolve для map[string]any.
func (c *Chain) ResolveMap(config map[string]any, s Scope) (map[string]any, error) {
	if config == nil {
		return make(map[string]any), nil
	}
	resolved, err := c.Resolve(config, s)
	if err != nil {
		return nil, err
	}
	out, ok := resolved.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected map, got %T", ErrTemplateRender, resolved)
	}
	return out, nil
}

// StringResolver вычисляет строки с плейсхолдерами.
type StringResolver struct{}

func (StringResolver) CanHandle(value any) bool {
	s, ok := value.(string)
	return ok && HasPlaceholder(s)
}

func (StringResolver) Resolve(value any, s Scope, _ *Chain) (any, error) {
	return Render(value.(string), s)
}

// ListResolver обходит списки поэлементно.
type ListResolver struct{}

func (ListResolver) CanHandle(value any) bool {
	switch value.(type) {
	case []any, []string, []map[string]any:
		return true
	}
	return false
}

func (ListResolver) Resolve(value any, s Scope, chain *Chain) (any, error) {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := chain.Resolve(item, s)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	case []string:
		out := make([]any, len(v))
		allStrings := true
		for i, item := range v {
			resolved, err := chain.Resolve(item, s)
			if err != nil {
				return nil, err
			}
			if _, ok := resolved.(string); !ok {
				allStrings = false
			}
			out[i] = resolved
		}
		if !allStrings {
			return out, nil
		}
		strs := make([]string, len(out))
		for i, item := range out {
			strs[i] = item.(string)
		}
		return strs, nil

	case []map[string]any:
		out := make([]map[string]any, len(v))
		for i, item := range v {
			resolved, err := chain.ResolveMap(item, s)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	}
	return value, nil
}

// MapResolver обходит map поэлементно, сохраняя ключи.
type MapResolver struct{}

func (MapResolver) CanHandle(value any) bool {
	switch value.(type) {
	case map[string]any, map[string]string:
		return true
	}
	return false
}

func (MapResolver) Resolve(value any, s Scope, chain *Chain) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			resolved, err := chain.Resolve(item, s)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil

	case map[string]string:
		out := make(map[string]any, len(v))
		allStrings := true
		for key, item := range v {
			resolved, err := chain.Resolve(item, s)
			if err != nil {
				return nil, err
			}
			if _, ok := resolved.(string); !ok {
				allStrings = false
			}
			out[key] = resolved
		}
		if !allStrings {
			return out, nil
		}
		strs := make(map[string]string, len(out))
		for key, item := range out {
			strs[key] = item.(string)
		}
		return strs, nil
	}
	return value, nil
}

// PassthroughResolver возвращает значение без изменений.
type PassthroughResolver struct{}

func (PassthroughResolver) CanHandle(any) bool { return true }

func (PassthroughResolver) Resolve(value any, _ Scope, _ *Chain) (any, error) {
	return value, nil
}
