package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shaiso/Ensemble/internal/domain"
)

// ErrDuplicate — ensemble с таким именем уже загружен.
var ErrDuplicate = errors.New("duplicate ensemble name")

// ValidateFunc проверяет описание перед добавлением в каталог.
type ValidateFunc func(ens *domain.Ensemble) error

// Catalog — потокобезопасный каталог ensemble в памяти.
type Catalog struct {
	mu        sync.RWMutex
	ensembles map[string]*domain.Ensemble
	validate  ValidateFunc
}

// New создаёт пустой каталог. validate может быть nil.
func New(validate ValidateFunc) *Catalog {
	return &Catalog{
		ensembles: make(map[string]*domain.Ensemble),
		validate:  validate,
	}
}

// Add добавляет ensemble. Дубликат имени — ErrDuplicate.
func (c *Catalog) Add(ens *domain.Ensemble) error {
	if c.validate != nil {
		if err := c.validate(ens); err != nil {
			return fmt.Errorf("ensemble %q: %w", ens.Name, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.ensembles[ens.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, ens.Name)
	}
	c.ensembles[ens.Name] = ens
	return nil
}

// Put добавляет или заменяет ensemble.
func (c *Catalog) Put(ens *domain.Ensemble) error {
	if c.validate != nil {
		if err := c.validate(ens); err != nil {
			return fmt.Errorf("ensemble %q: %w", ens.Name, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensembles[ens.Name] = ens
	return nil
}

// LoadDir загружает все описания из каталога.
// Некорректные файлы прерывают загрузку: каталог не должен быть частичным.
func (c *Catalog) LoadDir(dir string, logger *slog.Logger) error {
	ensembles, err := LoadDir(dir)
	if err != nil {
		return err
	}
	for _, ens := range ensembles {
		if err := c.Add(ens); err != nil {
			return err
		}
	}
	if logger != nil {
		logger.Info("ensembles loaded", "dir", dir, "count", len(ensembles))
	}
	return nil
}

// Get возвращает ensemble по имени.
func (c *Catalog) Get(_ context.Context, name string) (*domain.Ensemble, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ens, ok := c.ensembles[name]
	if !ok {
		return nil, fmt.Errorf("ensemble %q: %w", name, domain.ErrNotFound)
	}
	return ens, nil
}

// List возвращает все ensemble в порядке имён.
func (c *Catalog) List(_ context.Context) ([]*domain.Ensemble, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*domain.Ensemble, 0, len(c.ensembles))
	for _, ens := range c.ensembles {
		out = append(out, ens)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove удаляет ensemble из каталога.
func (c *Catalog) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ensembles[name]
	delete(c.ensembles, name)
	return ok
}

// Count возвращает количество ensemble.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ensembles)
}

// Source — источник описаний (Catalog или repo.EnsembleRepo).
type Source interface {
	Get(ctx context.Context, name string) (*domain.Ensemble, error)
	List(ctx context.Context) ([]*domain.Ensemble, error)
}

// Layered объединяет источники: Get ищет по порядку, List объединяет
// по имени (первый источник имеет приоритет).
type Layered []Source

// Get возвращает ensemble из первого источника, где он найден.
func (l Layered) Get(ctx context.Context, name string) (*domain.Ensemble, error) {
	for _, src := range l {
		ens, err := src.Get(ctx, name)
		if err == nil {
			return ens, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("ensemble %q: %w", name, domain.ErrNotFound)
}

// List возвращает ensemble всех источников без дубликатов имён.
func (l Layered) List(ctx context.Context) ([]*domain.Ensemble, error) {
	seen := make(map[string]bool)
	var out []*domain.Ensemble
	for _, src := range l {
		list, err := src.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, ens := range list {
			if seen[ens.Name] {
				continue
			}
			seen[ens.Name] = true
			out = append(out, ens)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
