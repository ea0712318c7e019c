package engine

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Template — строка с плейсхолдерами {{expr}} и ${expr}.
//
// Оба синтаксиса разбираются одинаково:
//
//	"{{ input.name }}"             — нативное значение input.name
//	"Hello, ${input.name}!"        — строка
//	"{{ input.items[0] ?? 'none' }}"
type Template struct {
	src   string
	parts []templatePart
}

type templatePart struct {
	text string
	expr *Expression
}

var templateCache, _ = lru.New[string, *Template](2048)

// HasPlaceholder проверяет, содержит ли строка открывающий плейсхолдер.
func HasPlaceholder(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "${")
}

// ParseTemplate разбирает строку на текст и выражения.
// Незакрытый плейсхолдер остаётся обычным текстом.
func ParseTemplate(src string) (*Template, error) {
	if t, ok := templateCache.Get(src); ok {
		return t, nil
	}

	t := &Template{src: src}
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			t.parts = append(t.parts, templatePart{text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(src); {
		open, closer := "", ""
		switch {
		case strings.HasPrefix(src[i:], "{{"):
			open, closer = "{{", "}}"
		case strings.HasPrefix(src[i:], "${"):
			open, closer = "${", "}"
		}
		if open == "" {
			text.WriteByte(src[i])
			i++
			continue
		}

		end := findClose(src, i+len(open), closer)
		if end < 0 {
			text.WriteString(src[i:])
			break
		}

		body := strings.TrimSpace(src[i+len(open) : end])
		expr, err := Compile(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTemplateParse, err)
		}
		flush()
		t.parts = append(t.parts, templatePart{expr: expr})
		i = end + len(closer)
	}
	flush()

	templateCache.Add(src, t)
	return t, nil
}

// findClose ищет закрывающий разделитель, пропуская строковые литералы.
func findClose(src string, from int, closer string) int {
	var quote byte
	for i := from; i < len(src); i++ {
		c := src[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case strings.HasPrefix(src[i:], closer):
			return i
		}
	}
	return -1
}

// IsSingle возвращает true, если шаблон — ровно один плейсхолдер без текста вокруг.
func (t *Template) IsSingle() bool {
	return len(t.parts) == 1 && t.parts[0].expr != nil
}

// Expressions возвращает выражения шаблона в порядке появления.
func (t *Template) Expressions() []*Expression {
	var out []*Expression
	for _, p := range t.parts {
		if p.expr != nil {
			out = append(out, p.expr)
		}
	}
	return out
}

// Execute вычисляет шаблон.
//
// Одиночный плейсхолдер возвращает нативное значение любого типа,
// иначе значения приводятся к строке и склеиваются с текстом.
func (t *Template) Execute(s Scope) any {
	if t.IsSingle() {
		return t.parts[0].expr.Eval(s)
	}
	var sb strings.Builder
	for _, p := range t.parts {
		if p.expr == nil {
			sb.WriteString(p.text)
			continue
		}
		sb.WriteString(Stringify(p.expr.Eval(s)))
	}
	return sb.String()
}

// Render вычисляет строку с плейсхолдерами.
// Строка без плейсхолдеров возвращается как есть.
func Render(tmpl string, s Scope) (any, error) {
	if !HasPlaceholder(tmpl) {
		return tmpl, nil
	}
	t, err := ParseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	return t.Execute(s), nil
}

// Evaluate вычисляет выражение, записанное с разделителями или без них:
// "input.ready", "{{ input.ready }}" и "${input.ready}" эквивалентны.
func Evaluate(src string, s Scope) (any, error) {
	src = strings.TrimSpace(src)
	if HasPlaceholder(src) {
		return Render(src, s)
	}
	expr, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return expr.Eval(s), nil
}

// RenderCondition вычисляет условие и возвращает его истинность.
// Пустое условие истинно.
func RenderCondition(condition string, s Scope) (bool, error) {
	if strings.TrimSpace(condition) == "" {
		return true, nil
	}
	v, err := Evaluate(condition, s)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// CompileAny разбирает выражение в любой из двух форм и возвращает
// все входящие в него выражения. Используется при валидации.
func CompileAny(src string) ([]*Expression, error) {
	src = strings.TrimSpace(src)
	if HasPlaceholder(src) {
		t, err := ParseTemplate(src)
		if err != nil {
			return nil, err
		}
		return t.Expressions(), nil
	}
	expr, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return []*Expression{expr}, nil
}
