package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// undefinedValue — тип значения "нет такого пути".
type undefinedValue struct{}

// Undefined — результат обращения к отсутствующему пути.
// Отличается от nil (null): "a ?? b" возвращает b для обоих, но
// записи с Undefined не попадают в итоговый JSON.
var Undefined any = undefinedValue{}

func (undefinedValue) String() string { return "undefined" }

// MarshalJSON сериализует undefined как null.
func (undefinedValue) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// IsUndefined возвращает true для Undefined.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedValue)
	return ok
}

// IsNullish возвращает true для nil и Undefined.
func IsNullish(v any) bool {
	return v == nil || IsUndefined(v)
}

// Truthy вычисляет истинность значения.
//
// Ложные: false, 0, "", nil, Undefined, NaN.
// Всё остальное истинно, в том числе пустые списки и map.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case undefinedValue:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	if f, ok := toFloat(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

// toFloat приводит числовые типы к float64.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Stringify приводит значение к строке для подстановки внутрь текста.
//
// nil и Undefined дают пустую строку, числа — без лишних нулей,
// списки и map — JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil, undefinedValue:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	}
	if f, ok := toFloat(v); ok {
		if math.IsNaN(f) {
			return "NaN"
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	b, err := json.Marshal(Normalize(v))
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Normalize готовит значение к сериализации: ключи со значением
// Undefined удаляются из map, элементы списков заменяются на nil.
func Normalize(v any) any {
	switch x := v.(type) {
	case undefinedValue:
		return nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			if IsUndefined(val) {
				continue
			}
			out[k] = Normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Normalize(val)
		}
		return out
	default:
		return v
	}
}

// member возвращает поле key значения obj или Undefined.
func member(obj any, key string) any {
	switch o := obj.(type) {
	case nil, undefinedValue:
		return Undefined
	case map[string]any:
		if v, ok := o[key]; ok {
			return v
		}
		return Undefined
	case map[string]string:
		if v, ok := o[key]; ok {
			return v
		}
		return Undefined
	case map[any]any:
		if v, ok := o[key]; ok {
			return v
		}
		return Undefined
	case string:
		if key == "length" {
			return float64(len([]rune(o)))
		}
		return Undefined
	}

	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Undefined
		}
		mv := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !mv.IsValid() {
			return Undefined
		}
		return mv.Interface()
	case reflect.Slice, reflect.Array:
		if key == "length" {
			return float64(rv.Len())
		}
	}
	return Undefined
}

// index возвращает элемент списка с индексом i или Undefined.
func index(obj any, i int) any {
	if i < 0 {
		return Undefined
	}
	switch o := obj.(type) {
	case nil, undefinedValue:
		return Undefined
	case []any:
		if i >= len(o) {
			return Undefined
		}
		return o[i]
	case []string:
		if i >= len(o) {
			return Undefined
		}
		return o[i]
	}

	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if i >= rv.Len() {
			return Undefined
		}
		return rv.Index(i).Interface()
	}
	return Undefined
}

// looseEqual сравнивает значения для == и !=.
// nil и Undefined равны друг другу; числа сравниваются по значению.
func looseEqual(a, b any) bool {
	if IsNullish(a) || IsNullish(b) {
		return IsNullish(a) && IsNullish(b)
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

// compare сравнивает числа или строки. ok=false для несравнимых значений.
func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok || math.IsNaN(fa) || math.IsNaN(fb) {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	switch {
	case sa < sb:
		return -1, true
	case sa > sb:
		return 1, true
	default:
		return 0, true
	}
}

// ToList приводит значение к []any. ok=false, если это не список.
// nil и Undefined дают пустой список.
func ToList(v any) ([]any, bool) {
	switch x := v.(type) {
	case nil, undefinedValue:
		return []any{}, true
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
