package engine

import (
	"fmt"

	"github.com/shaiso/Ensemble/internal/domain"
)

// Node — узел дерева шагов ensemble.
type Node struct {
	// Step — определение шага.
	Step *domain.FlowStep

	// ID — идентификатор шага.
	ID string

	// Parent — родительский контейнер (nil для шагов верхнего уровня).
	Parent *Node

	// Start, End — позиции входа и выхода при обходе в глубину.
	// Шаг R гарантированно завершён к началу шага S, если R.End < S.Start.
	Start, End int

	// Depth — глубина вложенности (0 для шагов верхнего уровня).
	Depth int

	// ScopeRoot — шаблон foreach/map_reduce, внутри которого живёт шаг.
	// Результаты таких шагов видны только внутри итерации.
	ScopeRoot *Node
}

// Tree — дерево шагов ensemble с порядком завершения.
type Tree struct {
	// Nodes — все узлы (stepID → Node).
	Nodes map[string]*Node

	// Order — узлы в порядке обхода (pre-order).
	Order []*Node
}

// BuildTree строит дерево шагов.
// Ожидает, что ID шагов уже проверены на уникальность.
func BuildTree(ens *domain.Ensemble) *Tree {
	t := &Tree{Nodes: make(map[string]*Node)}
	counter := 0
	for i := range ens.Flow {
		t.add(&ens.Flow[i], nil, false, &counter)
	}
	return t
}

func (t *Tree) add(step *domain.FlowStep, parent *Node, template bool, counter *int) {
	node := &Node{
		Step:   step,
		ID:     step.StepID(),
		Parent: parent,
		Start:  *counter,
	}
	switch {
	case template:
		node.ScopeRoot = node
	case parent != nil:
		node.ScopeRoot = parent.ScopeRoot
	}
	if parent != nil {
		node.Depth = parent.Depth + 1
	}
	*counter++
	t.Nodes[node.ID] = node
	t.Order = append(t.Order, node)

	for _, child := range step.Children() {
		t.add(child, node, isTemplateOf(step, child), counter)
	}

	node.End = *counter
	*counter++
}

// isTemplateOf возвращает true, если child — шаблон итерации step.
func isTemplateOf(step, child *domain.FlowStep) bool {
	switch step.Kind() {
	case domain.StepTypeForeach:
		return child == step.Step
	case domain.StepTypeMapReduce:
		return child == step.Map || child == step.Reduce
	}
	return false
}

// Contains проверяет, входит ли other в поддерево n (включая сам n).
func (n *Node) Contains(other *Node) bool {
	return n.Start <= other.Start && other.End <= n.End
}

// ancestors возвращает цепочку от корня до n включительно.
func (n *Node) ancestors() []*Node {
	var chain []*Node
	for cur := n; cur != nil; cur = cur.Parent {
		chain = append([]*Node{cur}, chain...)
	}
	return chain
}

// concurrentWith проверяет, что n и other выполняются в разных ветках
// одного parallel шага.
func (n *Node) concurrentWith(other *Node) bool {
	a, b := n.ancestors(), other.ancestors()
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			continue
		}
		if i == 0 {
			return false
		}
		return a[i-1].Step.Kind() == domain.StepTypeParallel
	}
	return false
}

// loopCarried проверяет, что ref и user лежат внутри одного while:
// значение из предыдущей итерации допустимо.
func loopCarried(ref, user *Node) bool {
	for w := ref.Parent; w != nil; w = w.Parent {
		if w.Step.Kind() == domain.StepTypeWhile && w.Contains(user) {
			return true
		}
	}
	return false
}

// CheckReferences проверяет, что выражения ссылаются только на шаги,
// которые гарантированно завершены к моменту вычисления.
//
// Запрещены ссылки на:
//   - более поздние шаги и на собственный контейнер
//   - сам шаг (кроме условия while на шаги своего тела)
//   - соседние ветки того же parallel
//   - шаги внутри шаблона foreach/map_reduce извне этой итерации
func CheckReferences(ens *domain.Ensemble) error {
	tree := BuildTree(ens)

	for _, user := range tree.Order {
		for _, name := range stepExpressionRefs(user.Step) {
			ref, ok := tree.Nodes[name]
			if !ok {
				continue // не шаг: input, item, неизвестное имя (undefined)
			}
			if err := checkReference(user, ref); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkReference(user, ref *Node) error {
	if ref.ScopeRoot != nil && !ref.ScopeRoot.Contains(user) {
		return NewValidationError(user.ID, "references",
			fmt.Sprintf("step %q is scoped to an iteration and is not visible here", ref.ID),
			ErrForwardReference)
	}
	if user.concurrentWith(ref) {
		return NewValidationError(user.ID, "references",
			fmt.Sprintf("step %q runs in a sibling parallel branch", ref.ID),
			ErrForwardReference)
	}
	if loopCarried(ref, user) {
		return nil
	}
	if ref == user {
		return NewValidationError(user.ID, "references",
			"step references its own result", ErrSelfReference)
	}
	if ref.End >= user.Start {
		return NewValidationError(user.ID, "references",
			fmt.Sprintf("step %q has not completed when this step runs", ref.ID),
			ErrForwardReference)
	}
	return nil
}

// stepExpressionRefs собирает ссылки на шаги из собственных выражений шага
// (без вложенных шагов).
func stepExpressionRefs(step *domain.FlowStep) []string {
	var out []string
	collect := func(src string) {
		exprs, err := CompileAny(src)
		if err != nil {
			return
		}
		for _, e := range exprs {
			out = append(out, e.StepRefs()...)
		}
	}

	collect(step.When)
	collect(step.Condition)
	collect(step.Items)
	collect(step.Value)
	walkStrings(step.Input, collect)
	if step.Timeout != nil {
		walkStrings(step.Timeout.Fallback, collect)
	}
	return out
}

// walkStrings вызывает fn для каждой строки с плейсхолдером внутри value.
func walkStrings(value any, fn func(string)) {
	switch v := value.(type) {
	case string:
		if HasPlaceholder(v) {
			fn(v)
		}
	case map[string]any:
		for _, item := range v {
			walkStrings(item, fn)
		}
	case map[string]string:
		for _, item := range v {
			walkStrings(item, fn)
		}
	case []any:
		for _, item := range v {
			walkStrings(item, fn)
		}
	case []string:
		for _, item := range v {
			walkStrings(item, fn)
		}
	case []map[string]any:
		for _, item := range v {
			walkStrings(item, fn)
		}
	}
}
